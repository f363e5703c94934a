// Package conversation keeps short per-client chat histories so follow-up
// questions to the assistant can refer to earlier answers. Clients identify
// a conversation with an opaque session id.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultMaxTurns = 6

	// sweepEvery is how many Get calls pass between lazy evictions.
	sweepEvery = 100
)

// Turn is one answered question.
type Turn struct {
	Question string
	Answer   string
}

// History is the bounded turn list of one conversation.
type History struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
}

// Add appends a turn, dropping the oldest beyond the limit.
func (h *History) Add(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Question: question, Answer: answer})
	if over := len(h.turns) - h.maxTurns; over > 0 {
		h.turns = append([]Turn(nil), h.turns[over:]...)
	}
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns...)
}

// Transcript renders the history for inclusion in a prompt. Empty when
// there are no turns.
func (h *History) Transcript() string {
	turns := h.Turns()
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Earlier in this conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", t.Question, t.Answer)
	}
	return sb.String()
}

type entry struct {
	history    *History
	lastAccess time.Time
}

// Store maps session ids to histories and forgets sessions idle longer
// than its TTL.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	maxTurns int
	getCalls int
	now      func() time.Time
}

// New creates a Store. Non-positive arguments select the defaults.
func New(ttl time.Duration, maxTurns int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		entries:  make(map[string]*entry),
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// Get returns the history for id, creating it on first use, and refreshes
// its last-access time.
func (s *Store) Get(id string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getCalls%sweepEvery == 0 {
		s.sweepLocked()
	}

	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		e = &entry{history: &History{maxTurns: s.maxTurns}}
		s.entries[id] = e
	}
	e.lastAccess = s.now()
	return e.history
}

// Forget drops a session.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Sweep evicts every expired session.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
}

func (s *Store) sweepLocked() {
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
		}
	}
}

func (s *Store) expired(e *entry) bool {
	return s.now().Sub(e.lastAccess) > s.ttl
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
