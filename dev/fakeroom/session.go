package fakeroom

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/bulletchat/chat"
)

const (
	writeWait = 3 * time.Second
	readLimit = 4096
)

// session manages an active connection to one client.
type session struct {
	sync.Mutex

	sid    string
	member *Member
	conn   *websocket.Conn
	room   *Room

	dataChan chan []byte
	closing  bool
}

func (s *session) send(data []byte) {
	s.Lock()
	defer s.Unlock()
	if s.closing {
		return
	}
	select {
	case s.dataChan <- data:
	default:
		glog.Errorf("fakeroom: session %s: send buffer full, drop frame", s.sid)
	}
}

func (s *session) sendError(code int, message string) {
	data, _ := json.Marshal(&chat.Envelope{
		Type:         chat.EnvelopeError,
		ErrorCode:    intPtr(code),
		ErrorMessage: message,
	})
	s.send(data)
}

func (s *session) close(code int, reason string) {
	s.Lock()
	if s.closing {
		s.Unlock()
		return
	}
	s.closing = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	close(s.dataChan)
	s.Unlock()

	// the room lock is taken after the session lock is released, Broadcast
	// locks in the other order.
	s.room.delSession(s.sid)
}

func (s *session) recvLoop() {
	defer func() {
		s.close(websocket.CloseNormalClosure, "")
		glog.V(5).Infof("fakeroom: session %s: recvLoop(): exited", s.sid)
	}()

	s.conn.SetReadLimit(readLimit)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("fakeroom: session %s: read error: %v", s.sid, err)
			return
		}
		s.room.record(data)

		var req clientFrame
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(ErrorCodeBadRequest, "malformed request")
			continue
		}
		s.room.handle(s, &req)
	}
}

func (s *session) sendLoop() {
	defer func() {
		// give the peer a moment to read the close frame.
		time.Sleep(50 * time.Millisecond)
		s.conn.Close()
	}()

	for data := range s.dataChan {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			glog.Errorf("fakeroom: session %s: write error: %v", s.sid, err)
			s.close(websocket.CloseGoingAway, "")
			return
		}
	}
}
