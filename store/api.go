package store

import (
	"time"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/pubsub"
)

// IMessageStore holds the bounded, ordered list of visible messages.
// Every change publishes a full snapshot to subscribers.
type IMessageStore interface {
	// Append inserts the message unless one with the same key exists.
	// The oldest message is evicted when the store is full.
	Append(msg *chat.ChatMessage) bool

	// Remove removes the message with given id.
	Remove(id string) bool

	// RemoveAll removes messages matching the predicate, returns how many.
	RemoveAll(match func(*chat.ChatMessage) bool) int

	// SweepExpired removes messages older than the TTL at `now`.
	SweepExpired(now time.Time) int

	// Clear removes all messages and always notifies.
	Clear()

	// Snapshot returns the current messages in insertion order.
	Snapshot() []chat.ChatMessage

	Subscribe() *pubsub.Subscription[[]chat.ChatMessage]
}
