// Package pubsub is an in-process broadcast with bounded, drop-oldest
// subscriber buffers.
package pubsub

import (
	"sync"
)

const DefaultBufferSize = 16

// Topic broadcasts values to all subscribers. Publish never blocks: a full
// subscriber buffer discards its oldest value.
type Topic[T any] struct {
	sync.Mutex

	size       int
	subs       map[*Subscription[T]]struct{}
	keepLatest bool
	latest     T
	hasLatest  bool
	closed     bool
}

type Subscription[T any] struct {
	C <-chan T

	c     chan T
	topic *Topic[T]
}

func NewTopic[T any](size int) *Topic[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Topic[T]{
		size: size,
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// NewStateTopic creates a topic that replays the latest value to new
// subscribers.
func NewStateTopic[T any](size int, initial T) *Topic[T] {
	t := NewTopic[T](size)
	t.keepLatest = true
	t.latest = initial
	t.hasLatest = true
	return t
}

func (t *Topic[T]) Subscribe() *Subscription[T] {
	c := make(chan T, t.size)
	s := &Subscription[T]{C: c, c: c, topic: t}

	t.Lock()
	defer t.Unlock()
	if t.closed {
		close(c)
		return s
	}
	if t.keepLatest && t.hasLatest {
		c <- t.latest
	}
	t.subs[s] = struct{}{}
	return s
}

func (t *Topic[T]) Publish(v T) {
	t.Lock()
	defer t.Unlock()
	if t.closed {
		return
	}
	if t.keepLatest {
		t.latest = v
		t.hasLatest = true
	}
	for s := range t.subs {
		offer(s.c, v)
	}
}

// Latest returns the last published value of a state topic.
func (t *Topic[T]) Latest() (T, bool) {
	t.Lock()
	defer t.Unlock()
	return t.latest, t.hasLatest
}

// Close closes all subscriptions. Publish after Close is a no-op.
func (t *Topic[T]) Close() {
	t.Lock()
	defer t.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for s := range t.subs {
		close(s.c)
		delete(t.subs, s)
	}
}

// Cancel unsubscribes and closes C.
func (s *Subscription[T]) Cancel() {
	t := s.topic
	t.Lock()
	defer t.Unlock()
	if _, ok := t.subs[s]; ok {
		delete(t.subs, s)
		close(s.c)
	}
}

// offer must be called with the topic locked, so that it is the only sender.
func offer[T any](c chan T, v T) {
	for {
		select {
		case c <- v:
			return
		default:
		}
		select {
		case <-c: // drop oldest
		default:
		}
	}
}
