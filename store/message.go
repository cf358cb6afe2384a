package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/pubsub"
)

// messageStore implements `IMessageStore`.
// Writers are serialized by the mutex, readers load the immutable snapshot.
type messageStore struct {
	sync.Mutex

	capacity int
	ttl      time.Duration
	snap     atomic.Pointer[[]chat.ChatMessage]
	topic    *pubsub.Topic[[]chat.ChatMessage]
}

func NewMessageStore(capacity int, ttl time.Duration) *messageStore {
	if capacity <= 0 {
		capacity = chat.HistorySize
	}
	if ttl <= 0 {
		ttl = chat.MessageTTL
	}
	s := &messageStore{
		capacity: capacity,
		ttl:      ttl,
		topic:    pubsub.NewStateTopic(pubsub.DefaultBufferSize, []chat.ChatMessage{}),
	}
	empty := []chat.ChatMessage{}
	s.snap.Store(&empty)
	return s
}

// Snapshot returns a copy, callers may modify it freely.
func (s *messageStore) Snapshot() []chat.ChatMessage {
	return clone(*s.snap.Load())
}

func (s *messageStore) Subscribe() *pubsub.Subscription[[]chat.ChatMessage] {
	return s.topic.Subscribe()
}

// update applies `mutate` to the latest snapshot. `mutate` must not modify
// its input; it returns the next list and whether anything changed.
func (s *messageStore) update(mutate func(cur []chat.ChatMessage) ([]chat.ChatMessage, bool)) bool {
	s.Lock()
	defer s.Unlock()

	next, changed := mutate(*s.snap.Load())
	if !changed {
		return false
	}
	s.snap.Store(&next)
	storeMessages.Set(float64(len(next)))
	// subscribers share one published value, never the canonical list.
	s.topic.Publish(clone(next))
	return true
}

func (s *messageStore) Append(msg *chat.ChatMessage) bool {
	key := msg.Key()
	return s.update(func(cur []chat.ChatMessage) ([]chat.ChatMessage, bool) {
		for i := range cur {
			if cur[i].Key() == key {
				glog.V(7).Infof("store: drop duplicate message: %s", key)
				return nil, false
			}
		}

		start := 0
		if len(cur) >= s.capacity {
			start = len(cur) - s.capacity + 1
			storeEvictions.WithLabelValues("capacity").Add(float64(start))
			glog.V(7).Infof("store: evict %d oldest message(s)", start)
		}

		next := make([]chat.ChatMessage, 0, len(cur)-start+1)
		next = append(next, cur[start:]...)
		next = append(next, *msg)
		return next, true
	})
}

func (s *messageStore) Remove(id string) bool {
	if id == "" {
		return false
	}
	return s.RemoveAll(func(m *chat.ChatMessage) bool { return m.Id == id }) > 0
}

func (s *messageStore) RemoveAll(match func(*chat.ChatMessage) bool) int {
	var n int
	s.update(func(cur []chat.ChatMessage) ([]chat.ChatMessage, bool) {
		next, removed := filter(cur, match)
		n = removed
		return next, removed > 0
	})
	return n
}

func (s *messageStore) SweepExpired(now time.Time) int {
	n := s.RemoveAll(func(m *chat.ChatMessage) bool { return m.IsExpired(now, s.ttl) })
	if n > 0 {
		storeEvictions.WithLabelValues("expired").Add(float64(n))
		glog.V(7).Infof("store: swept %d expired message(s)", n)
	}
	return n
}

func (s *messageStore) Clear() {
	s.update(func(cur []chat.ChatMessage) ([]chat.ChatMessage, bool) {
		return []chat.ChatMessage{}, true
	})
}

func clone(msgs []chat.ChatMessage) []chat.ChatMessage {
	return append([]chat.ChatMessage{}, msgs...)
}

// filter returns a copy of `msgs` without matching entries, keeping order.
func filter(msgs []chat.ChatMessage, match func(*chat.ChatMessage) bool) ([]chat.ChatMessage, int) {
	out := make([]chat.ChatMessage, 0, len(msgs))
	for i := range msgs {
		if !match(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out, len(msgs) - len(out)
}
