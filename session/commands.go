package session

import (
	"context"
	"strings"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/moderation"
	"github.com/mqy/bulletchat/ws"
)

// send writes the frame, failures surface as connection error events.
func (s *Session) send(ctx context.Context, frame interface{}) {
	if err := s.conn.Send(ctx, frame); err != nil {
		glog.V(5).Infof("session: send error: %v", err)
	}
}

// SendMessage sends a text message. Blank text is ignored.
func (s *Session) SendMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	req := chat.NewSendMessageReq(uuid.New(), text)
	s.goAsync(func(ctx context.Context) {
		s.send(ctx, req)
	})
}

func (s *Session) SendSticker(sticker chat.Sticker) {
	req := chat.NewSendStickerReq(uuid.New(), sticker)
	s.goAsync(func(ctx context.Context) {
		s.send(ctx, req)
	})
}

// DeleteMessage asks the backend to delete the message. The backend rejects
// it unless the token carries the delete capability.
func (s *Session) DeleteMessage(id string) {
	if id == "" {
		return
	}
	s.Lock()
	s.pendingDeletes[id] = struct{}{}
	s.Unlock()

	req := chat.NewDeleteMessageReq(uuid.New(), id)
	s.goAsync(func(ctx context.Context) {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.send(ctx, req)
	})
}

// KickUser disconnects the user, then deletes their visible messages one
// by one. Local copies are removed right away. No-op unless moderator.
func (s *Session) KickUser(userId string) {
	if userId == "" {
		return
	}
	s.Lock()
	if !s.moderator {
		s.Unlock()
		glog.Errorf("session: kick %s ignored, not a moderator", userId)
		return
	}
	s.pendingKicks[userId] = struct{}{}
	s.Unlock()

	removal := &moderation.Removal{UserId: userId}
	n := s.store.RemoveAll(removal.Match)
	ids := removal.Ids
	glog.Infof("session: kick %s, removed %d local messages", userId, n)

	kick := chat.NewKickUserReq(uuid.New(), userId)
	s.goAsync(func(ctx context.Context) {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.send(ctx, kick)

		for _, id := range ids {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.send(ctx, chat.NewDeleteMessageReq(uuid.New(), id))
		}
	})
}

// SetModerator takes effect on the next authentication.
func (s *Session) SetModerator(moderator bool) {
	s.Lock()
	s.moderator = moderator
	s.Unlock()
}

// SetBulletMode toggles bullet animation and persists the preference.
func (s *Session) SetBulletMode(enabled bool) {
	s.bullet.SetEnabled(enabled)
	if s.prefs == nil {
		return
	}
	if err := s.prefs.SetUseBulletChat(enabled); err != nil {
		glog.Errorf("session: save bullet mode error: %v", err)
	}
}

// Release clears the visible messages.
func (s *Session) Release() {
	s.store.Clear()
}

// Resume connects if not connected, authenticating first when no token
// was issued yet.
func (s *Session) Resume() {
	switch st := s.conn.State(); st {
	case ws.Connected, ws.Connecting:
		glog.V(5).Infof("session: resume ignored, %s", st)
		return
	}

	s.Lock()
	token := s.token
	s.Unlock()

	s.goAsync(func(ctx context.Context) {
		if token == nil {
			s.authenticate(ctx)
			return
		}
		if err := s.conn.Connect(ctx, token.Value); err != nil {
			glog.Errorf("session: resume connect error: %v", err)
		}
	})
}
