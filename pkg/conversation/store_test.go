package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(ttl time.Duration, maxTurns int) (*Store, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(ttl, maxTurns)
	s.now = clk.now
	return s, clk
}

func TestGetReturnsSameHistory(t *testing.T) {
	s, _ := newTestStore(time.Minute, 4)

	a := s.Get("a")
	a.Add("What is light?", "An electromagnetic wave.")

	if s.Get("a") != a {
		t.Error("expected same history for same session id")
	}
	if b := s.Get("b"); b == a || len(b.Turns()) != 0 {
		t.Error("a new session should start empty")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s, _ := newTestStore(time.Minute, 3)
	h := s.Get("x")
	for i := 0; i < 5; i++ {
		h.Add(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := h.Turns()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[0].Question != "q2" || turns[2].Answer != "a4" {
		t.Errorf("kept the wrong turns: %+v", turns)
	}
}

func TestTranscript(t *testing.T) {
	h := &History{maxTurns: DefaultMaxTurns}
	if got := h.Transcript(); got != "" {
		t.Errorf("empty history transcript = %q", got)
	}
	h.Add("Why is the sky blue?", "Rayleigh scattering.")
	want := "Earlier in this conversation:\nQ: Why is the sky blue?\nA: Rayleigh scattering.\n"
	if got := h.Transcript(); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
}

func TestExpiry(t *testing.T) {
	s, clk := newTestStore(time.Minute, 4)

	s.Get("old").Add("q", "a")
	s.Get("fresh")

	clk.advance(45 * time.Second)
	s.Get("fresh")
	clk.advance(30 * time.Second)

	s.Sweep()
	if s.Len() != 1 {
		t.Fatalf("Len() after sweep = %d, want 1", s.Len())
	}
	if len(s.Get("old").Turns()) != 0 {
		t.Error("an expired session should come back empty")
	}
}

func TestExpiredEntryIsReplacedOnGet(t *testing.T) {
	s, clk := newTestStore(time.Minute, 4)
	s.Get("a").Add("q", "a")
	clk.advance(2 * time.Minute)

	if n := len(s.Get("a").Turns()); n != 0 {
		t.Errorf("expected fresh history, got %d turns", n)
	}
}

func TestForget(t *testing.T) {
	s, _ := newTestStore(0, 0)
	s.Get("a")
	s.Forget("a")
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if s.ttl != DefaultTTL || s.maxTurns != DefaultMaxTurns {
		t.Errorf("defaults not applied: ttl=%v maxTurns=%d", s.ttl, s.maxTurns)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(time.Minute, 10)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := s.Get(fmt.Sprintf("s%d", i%10))
			h.Add("q", "a")
			_ = h.Transcript()
		}(i)
	}
	wg.Wait()
	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}
