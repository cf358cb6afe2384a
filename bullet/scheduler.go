// Package bullet spreads incoming messages over a fixed set of animation
// rows, never reusing a row before every row was used once in the cycle.
package bullet

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mqy/bulletchat/chat"
)

// Assignment pairs a message with the row it animates on.
type Assignment struct {
	Row     int
	Message *chat.ChatMessage
}

type Scheduler struct {
	sync.Mutex

	rows      int
	available []int
	enabled   bool
	rand      *rand.Rand
}

// NewScheduler creates a scheduler with no rows. A nil src seeds from the clock.
func NewScheduler(enabled bool, src rand.Source) *Scheduler {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Scheduler{
		enabled: enabled,
		rand:    rand.New(src),
	}
}

// InitRows sets the row set to [0, n) and resets the pool.
func (s *Scheduler) InitRows(n int) {
	if n < 0 {
		n = 0
	}
	s.Lock()
	defer s.Unlock()
	s.rows = n
	s.available = s.fill(s.available[:0], -1)
}

func (s *Scheduler) Rows() int {
	s.Lock()
	defer s.Unlock()
	return s.rows
}

func (s *Scheduler) SetEnabled(enabled bool) {
	s.Lock()
	s.enabled = enabled
	s.Unlock()
}

func (s *Scheduler) Enabled() bool {
	s.Lock()
	defer s.Unlock()
	return s.enabled
}

// Assign picks a row for msg. It returns false when the scheduler is
// disabled, has no rows, or msg is a system notice.
func (s *Scheduler) Assign(msg *chat.ChatMessage) (*Assignment, bool) {
	if msg == nil || msg.IsSystem() {
		return nil, false
	}

	s.Lock()
	defer s.Unlock()
	if !s.enabled || s.rows == 0 {
		return nil, false
	}

	i := s.rand.Intn(len(s.available))
	row := s.available[i]
	last := len(s.available) - 1
	s.available[i] = s.available[last]
	s.available = s.available[:last]

	if len(s.available) == 0 {
		// a single row has nothing else to offer.
		except := row
		if s.rows == 1 {
			except = -1
		}
		s.available = s.fill(s.available, except)
	}
	return &Assignment{Row: row, Message: msg}, true
}

func (s *Scheduler) fill(dst []int, except int) []int {
	for r := 0; r < s.rows; r++ {
		if r != except {
			dst = append(dst, r)
		}
	}
	return dst
}
