package ws

import (
	"context"
	"errors"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/moderation"
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrClosed       = errors.New("ws: manager closed")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventMessage
	EventMessageDeleted
	EventUserKicked
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventMessageDeleted:
		return "message_deleted"
	case EventUserKicked:
		return "user_kicked"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what the connection reports. Exactly one payload field is set,
// according to Kind: Message, Moderation or Error. Connected has none.
type Event struct {
	Kind       EventKind
	Message    *chat.ChatMessage
	Moderation *moderation.Event
	Error      *chat.NetworkError
}

// IConnection owns at most one live socket to the chat backend.
type IConnection interface {
	// Connect replaces the current socket, if any, by a new one
	// authenticated with token. It is a no-op while a connect is in flight.
	Connect(ctx context.Context, token string) error

	// Send writes the JSON encoded frame on the current socket.
	Send(ctx context.Context, frame interface{}) error

	// Events delivers events in arrival order. It must be drained.
	Events() <-chan *Event

	State() State

	// Close tears down the socket; the connection can not be reused.
	Close()
}
