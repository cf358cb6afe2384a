// Package fakeroom is an in-process chat backend speaking the raw socket
// protocol. It serves `POST /auth` and the websocket endpoint.
package fakeroom

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/mqy/bulletchat/auth"
	"github.com/mqy/bulletchat/chat"
)

const (
	ErrorCodeBadRequest   = 400
	ErrorCodeUnauthorized = 401

	KickMessage = "disconnected by moderator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Member is a token holder.
type Member struct {
	UserId       string
	Username     string
	Avatar       string
	Capabilities []string
}

func (m *Member) can(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (m *Member) sender() *chat.Sender {
	return &chat.Sender{
		UserId: m.UserId,
		Attributes: chat.SenderAttributes{
			Username: m.Username,
			Avatar:   m.Avatar,
		},
	}
}

// Room works as a hub that manages and serves sessions.
type Room struct {
	sync.RWMutex

	tokens   map[string]*Member
	sessions map[string]*session
	received chan []byte
	tokenTTL time.Duration
}

func New() *Room {
	return &Room{
		tokens:   make(map[string]*Member),
		sessions: make(map[string]*session),
		received: make(chan []byte, 256),
		tokenTTL: auth.DefaultDurationMinutes * time.Minute,
	}
}

// Handler routes `/auth` and the websocket endpoint on any other path.
func (r *Room) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", r.serveAuth)
	mux.Handle("/", r)
	return mux
}

// Issue registers a member and returns its token.
func (r *Room) Issue(m Member) string {
	token := strings.ReplaceAll(uuid.New(), "-", "")
	r.Lock()
	r.tokens[token] = &m
	r.Unlock()
	return token
}

// Received returns frames sent by clients, in arrival order.
func (r *Room) Received() <-chan []byte {
	return r.received
}

// Online counts live sessions of the user.
func (r *Room) Online(userId string) int {
	r.RLock()
	defer r.RUnlock()
	var n int
	for _, s := range r.sessions {
		if s.member.UserId == userId {
			n++
		}
	}
	return n
}

// Post broadcasts a text message on behalf of the member.
func (r *Room) Post(m Member, content string) *chat.Envelope {
	env := &chat.Envelope{
		Type:       chat.EnvelopeMessage,
		Id:         uuid.New(),
		RequestId:  uuid.New(),
		Attributes: map[string]string{chat.AttrMessageType: chat.MessageTypeMessage},
		Content:    content,
		Sender:     m.sender(),
	}
	r.Broadcast(env)
	return env
}

// Broadcast sends v as JSON to all sessions.
func (r *Room) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fakeroom: marshal %#+v: %v", v, err))
	}
	r.BroadcastRaw(data)
}

func (r *Room) BroadcastRaw(data []byte) {
	r.RLock()
	defer r.RUnlock()
	for _, s := range r.sessions {
		s.send(data)
	}
}

// CloseAll closes every session with given close code and reason.
func (r *Room) CloseAll(code int, reason string) {
	for _, s := range r.snapshot() {
		s.close(code, reason)
	}
}

// Kick closes all sessions of the user with the moderator reason.
func (r *Room) Kick(userId string) {
	reason, _ := json.Marshal(&chat.CloseReason{
		ErrorCode:    intPtr(chat.ErrorCodeDisconnectedByModerator),
		ErrorMessage: KickMessage,
	})
	for _, s := range r.snapshot() {
		if s.member.UserId == userId {
			s.close(websocket.ClosePolicyViolation, string(reason))
		}
	}
}

func (r *Room) snapshot() []*session {
	r.RLock()
	defer r.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Room) serveAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body auth.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if body.UserId == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	token := r.Issue(Member{
		UserId:       body.UserId,
		Username:     body.Attributes.Username,
		Avatar:       body.Attributes.Avatar,
		Capabilities: body.Capabilities,
	})

	ttl := r.tokenTTL
	if body.DurationInMinutes > 0 {
		ttl = time.Duration(body.DurationInMinutes) * time.Minute
	}
	now := time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&auth.Response{
		Token:                 token,
		SessionExpirationTime: now.Add(ttl).Format(time.RFC3339Nano),
		TokenExpirationTime:   now.Add(ttl).Format(time.RFC3339Nano),
	})
}

// ServeHTTP handles websocket requests from the peer.
func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	protocols := websocket.Subprotocols(req)
	if len(protocols) == 0 {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	token := protocols[0]

	r.RLock()
	member := r.tokens[token]
	r.RUnlock()
	if member == nil {
		glog.Errorf("fakeroom: unknown token")
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return
	}

	header := http.Header{}
	header.Set("Sec-Websocket-Protocol", token)
	conn, err := upgrader.Upgrade(w, req, header)
	if err != nil {
		glog.Errorf("fakeroom: upgrade error, uid: %s, err: %v", member.UserId, err)
		return
	}

	s := &session{
		sid:      strings.ReplaceAll(uuid.New(), "-", ""),
		member:   member,
		conn:     conn,
		room:     r,
		dataChan: make(chan []byte, 16),
	}

	r.Lock()
	r.sessions[s.sid] = s
	r.Unlock()
	glog.V(5).Infof("fakeroom: session %s online, uid: %s", s.sid, member.UserId)

	go s.recvLoop()
	go s.sendLoop()
}

func (r *Room) delSession(sid string) {
	r.Lock()
	delete(r.sessions, sid)
	r.Unlock()
}

func (r *Room) record(data []byte) {
	select {
	case r.received <- data:
	default:
		glog.Errorf("fakeroom: received buffer full, drop frame")
	}
}

// clientFrame is the union of outbound client requests.
type clientFrame struct {
	Action     string          `json:"action"`
	RequestId  string          `json:"requestId"`
	Content    string          `json:"content"`
	Attributes chat.Attributes `json:"attributes"`
	Id         string          `json:"id"`
	UserId     string          `json:"userId"`
	Reason     string          `json:"reason"`
}

func (r *Room) handle(s *session, req *clientFrame) {
	switch req.Action {
	case chat.ActionSendMessage:
		if !s.member.can(auth.CapSendMessage) {
			s.sendError(ErrorCodeUnauthorized, "missing capability "+auth.CapSendMessage)
			return
		}
		r.Broadcast(&chat.Envelope{
			Type:      chat.EnvelopeMessage,
			Id:        uuid.New(),
			RequestId: req.RequestId,
			Attributes: map[string]string{
				chat.AttrMessageType: req.Attributes.MessageType,
				chat.AttrStickerSrc:  req.Attributes.StickerSrc,
			},
			Content: req.Content,
			Sender:  s.member.sender(),
		})
	case chat.ActionDeleteMessage:
		if !s.member.can(auth.CapDeleteMessage) {
			s.sendError(ErrorCodeUnauthorized, "missing capability "+auth.CapDeleteMessage)
			return
		}
		r.Broadcast(&chat.Envelope{
			Type:       chat.EnvelopeEvent,
			Id:         uuid.New(),
			EventName:  chat.EventDeleteMessage,
			Attributes: map[string]string{chat.AttrMessageId: req.Id, chat.AttrReason: req.Reason},
		})
	case chat.ActionDisconnectUser:
		if !s.member.can(auth.CapDisconnectUser) {
			s.sendError(ErrorCodeUnauthorized, "missing capability "+auth.CapDisconnectUser)
			return
		}
		r.Broadcast(&chat.Envelope{
			Type:       chat.EnvelopeEvent,
			Id:         uuid.New(),
			EventName:  chat.EventDeleteByUser,
			Attributes: map[string]string{chat.AttrUserId: req.UserId},
		})
		r.Kick(req.UserId)
	default:
		s.sendError(ErrorCodeBadRequest, fmt.Sprintf("unsupported action %q", req.Action))
	}
}

func intPtr(v int) *int {
	return &v
}
