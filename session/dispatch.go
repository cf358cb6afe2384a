package session

import (
	"strconv"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/moderation"
	"github.com/mqy/bulletchat/ws"
)

const connectedText = "Connected"

func (s *Session) dispatchLoop() {
	defer func() {
		glog.V(5).Infof("session: dispatchLoop(): exited")
		s.wg.Done()
	}()

	events := s.conn.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev *ws.Event) {
	glog.V(5).Infof("session: dispatch %s event", ev.Kind)

	switch ev.Kind {
	case ws.EventConnected:
		s.onConnected()
	case ws.EventMessage:
		s.onMessage(ev.Message)
	case ws.EventMessageDeleted:
		s.onMessageDeleted(ev.Moderation)
	case ws.EventUserKicked:
		s.onUserKicked(ev.Moderation)
	case ws.EventError:
		s.onError(ev.Error)
	default:
		glog.Errorf("session: unknown event kind: %d", ev.Kind)
	}
}

func (s *Session) hasIdentity() bool {
	s.Lock()
	defer s.Unlock()
	return s.identity != nil
}

func (s *Session) onConnected() {
	if !s.hasIdentity() {
		return
	}
	s.store.Append(chat.NewNotice(chat.TypeSystemGreen, "", connectedText, s.conf.Now()))
}

func (s *Session) onMessage(msg *chat.ChatMessage) {
	if msg == nil || !s.store.Append(msg) {
		return
	}
	if msg.IsSystem() {
		return
	}

	in := &Incoming{Message: msg}
	if a, ok := s.bullet.Assign(msg); ok {
		row := a.Row
		in.Row = &row
	}
	s.incoming.Publish(in)
}

func (s *Session) onMessageDeleted(ev *moderation.Event) {
	id := ev.TargetMessageId
	s.store.Remove(id)

	s.Lock()
	_, pending := s.pendingDeletes[id]
	delete(s.pendingDeletes, id)
	s.Unlock()

	if pending {
		s.notices.Publish(&Notice{Kind: NoticeMessageDeleted, Target: id})
	}
}

func (s *Session) onUserKicked(ev *moderation.Event) {
	uid := ev.TargetUserId
	if uid == s.conf.UserId {
		s.localKick()
		return
	}

	n := s.store.RemoveAll(moderation.SentBy(uid))
	glog.Infof("session: user %s kicked, removed %d messages", uid, n)
	s.remoteKicked.Publish(uid)

	s.Lock()
	_, pending := s.pendingKicks[uid]
	delete(s.pendingKicks, uid)
	s.Unlock()

	if pending {
		s.notices.Publish(&Notice{Kind: NoticeUserKicked, Target: uid})
	}
}

// localKick drops this session's identity and messages. It fires only
// once per identity: the kick event and the moderator close may both arrive.
func (s *Session) localKick() {
	s.Lock()
	had := s.identity != nil
	s.stopRefresh()
	s.Unlock()

	s.store.Clear()
	if !had {
		glog.V(5).Infof("session: already kicked")
		return
	}
	glog.Infof("session: kicked by moderator, uid: %s", s.conf.UserId)
	s.localKicked.Publish(struct{}{})
}

func (s *Session) onError(err *chat.NetworkError) {
	if err == nil {
		return
	}
	if err.Code == chat.ErrorCodeDisconnectedByModerator {
		s.localKick()
		return
	}
	if !s.hasIdentity() {
		glog.Errorf("session: network error without identity: %v", err)
		return
	}

	glog.Errorf("session: network error: %v", err)
	code := ""
	if err.HasCode() {
		code = strconv.Itoa(err.Code)
	}
	s.store.Append(chat.NewNotice(chat.TypeSystemRed, code, err.Message, s.conf.Now()))
}
