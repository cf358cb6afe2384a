package chat

import (
	"strconv"
	"time"
)

const (
	// MessageTTL is the age after which a message leaves the visible history.
	MessageTTL = 20 * time.Second

	// HistorySize is the max number of visible messages.
	HistorySize = 20
)

type MessageType int

const (
	TypeMessage MessageType = iota
	TypeSticker
	TypeSystemGreen // connected notice
	TypeSystemRed   // error notice
)

func (t MessageType) String() string {
	switch t {
	case TypeMessage:
		return "message"
	case TypeSticker:
		return "sticker"
	case TypeSystemGreen:
		return "green"
	case TypeSystemRed:
		return "red"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ChatMessage is one visible entry of the chat history.
//
// content by type:
// message(text), sticker(catalog id, StickerSrc), green(notice text),
// red(error text, SenderId holds the error code if any).
type ChatMessage struct {
	Id           string      `json:"id,omitempty"`         // assigned by network
	RequestId    string      `json:"request_id,omitempty"` // echoed from the sender's request
	Type         MessageType `json:"type"`
	Content      string      `json:"content,omitempty"`
	StickerSrc   string      `json:"sticker_src,omitempty"`
	SenderId     string      `json:"sender_id,omitempty"`
	SenderName   string      `json:"sender_name,omitempty"`
	SenderAvatar string      `json:"sender_avatar,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Key is the identity used for de-duplication. Locally synthesized notices
// have no network id, their creation time stands in for one.
func (m *ChatMessage) Key() string {
	if m.Id != "" {
		return m.Id
	}
	return "ts:" + strconv.FormatInt(m.CreatedAt.UnixNano(), 10)
}

func (m *ChatMessage) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.CreatedAt) > ttl
}

func (m *ChatMessage) IsSystem() bool {
	return m.Type == TypeSystemGreen || m.Type == TypeSystemRed
}

// NewNotice creates a local system message.
func NewNotice(t MessageType, code, text string, now time.Time) *ChatMessage {
	return &ChatMessage{
		Type:      t,
		SenderId:  code,
		Content:   text,
		CreatedAt: now,
	}
}

// AuthToken is issued by the auth endpoint. A refresh replaces it as a whole.
type AuthToken struct {
	Value            string    `json:"token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	TokenExpiresAt   time.Time `json:"token_expires_at"`
}
