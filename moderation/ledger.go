// Package moderation computes which messages a moderation action applies to.
package moderation

import (
	"github.com/mqy/bulletchat/chat"
)

type Kind int

const (
	MessageDeleted Kind = iota + 1
	UserKicked
)

func (k Kind) String() string {
	switch k {
	case MessageDeleted:
		return "message_deleted"
	case UserKicked:
		return "user_kicked"
	default:
		return "unknown"
	}
}

// Event is a moderation action received from the backend.
type Event struct {
	Kind            Kind
	TargetMessageId string
	TargetUserId    string
}

// SentBy matches messages sent by the user. Messages without a sender,
// i.e. local notices, never match.
func SentBy(userId string) func(*chat.ChatMessage) bool {
	return func(m *chat.ChatMessage) bool {
		return userId != "" && !m.IsSystem() && m.SenderId == userId
	}
}

// Removal matches messages of a user and records the network ids of
// what it matched, so the deletes to send come from the same pass.
type Removal struct {
	UserId string
	Ids    []string
}

func (r *Removal) Match(m *chat.ChatMessage) bool {
	if !SentBy(r.UserId)(m) {
		return false
	}
	if m.Id != "" {
		r.Ids = append(r.Ids, m.Id)
	}
	return true
}
