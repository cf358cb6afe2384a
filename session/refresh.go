package session

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/auth"
)

// RefreshIdentity sets the display identity, authenticates and connects
// now, then re-authenticates every refresh interval while the identity
// stays set.
func (s *Session) RefreshIdentity(name, avatar string) {
	s.Lock()
	s.identity = &auth.Identity{
		UserId:    s.conf.UserId,
		Username:  name,
		Avatar:    avatar,
		Moderator: s.moderator,
	}
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.refreshCancel = cancel
	s.Unlock()

	glog.Infof("session: identity %q set, uid: %s", name, s.conf.UserId)
	s.goAsyncCtx(ctx, s.refreshLoop)
}

// stopRefresh forgets the identity and the token. Caller holds the lock.
func (s *Session) stopRefresh() {
	s.identity = nil
	s.token = nil
	if s.refreshCancel != nil {
		s.refreshCancel()
		s.refreshCancel = nil
	}
}

func (s *Session) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.conf.RefreshInterval)
	defer func() {
		ticker.Stop()
		glog.V(5).Infof("session: refreshLoop(): exited")
	}()

	s.authenticate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			glog.Infof("session: token refresh")
			s.authenticate(ctx)
		}
	}
}

// authenticate exchanges the identity for a new token and reconnects with
// it. Failures are logged; the session stays disconnected.
func (s *Session) authenticate(ctx context.Context) {
	s.Lock()
	if s.identity == nil {
		s.Unlock()
		glog.V(5).Infof("session: no identity, skip auth")
		return
	}
	id := *s.identity
	id.Moderator = s.moderator
	s.Unlock()

	token, err := s.auth.Auth(ctx, &id)
	if err != nil {
		glog.Errorf("session: auth failed, uid: %s, err: %v", id.UserId, err)
		return
	}

	s.Lock()
	if s.identity == nil || ctx.Err() != nil {
		s.Unlock()
		return
	}
	s.token = token
	s.Unlock()

	if err := s.conn.Connect(ctx, token.Value); err != nil {
		glog.Errorf("session: connect failed, uid: %s, err: %v", id.UserId, err)
	}
}
