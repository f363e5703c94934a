package keys

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSelect_EmptyPool(t *testing.T) {
	m := NewManager(nil, Config{})
	_, ok := m.Select()
	assert.False(t, ok)
	assert.False(t, m.HasAvailable())
	assert.Zero(t, m.EstimatedWait())
	assert.Zero(t, m.Len())
}

func TestNewManager_IgnoresEmptyAndDuplicates(t *testing.T) {
	m := NewManager([]string{"key-a", " ", "key-a", "key-b"}, Config{})
	assert.Equal(t, 2, m.Len())
}

func TestSelect_FewestRequestsThenLRU(t *testing.T) {
	clk := newFakeClock()
	m := NewManager([]string{"key-a", "key-b", "key-c"}, Config{}, WithClock(clk.Now))

	// Fresh pool: all at zero, never used, so configuration order wins.
	k, ok := m.Select()
	require.True(t, ok)
	assert.Equal(t, "key-a", k)

	m.RecordUse("key-a")
	clk.Advance(time.Second)
	m.RecordUse("key-b")
	clk.Advance(time.Second)

	k, _ = m.Select()
	assert.Equal(t, "key-c", k, "unused key has the fewest requests")

	m.RecordUse("key-c")
	clk.Advance(time.Second)

	// All at one request: a was used longest ago.
	k, _ = m.Select()
	assert.Equal(t, "key-a", k)
}

// Scenario: pool of one key at 11/min, the 12th request in the window finds
// nothing.
func TestSelect_SingleKeyExhaustsAtLimit(t *testing.T) {
	clk := newFakeClock()
	m := NewManager([]string{"only-key"}, Config{Limit: 11}, WithClock(clk.Now))

	for i := 0; i < 11; i++ {
		k, ok := m.Select()
		require.True(t, ok, "call %d should succeed", i+1)
		m.RecordUse(k)
		clk.Advance(100 * time.Millisecond)
	}
	_, ok := m.Select()
	assert.False(t, ok, "12th call must report none")
	assert.False(t, m.HasAvailable())
	assert.Greater(t, m.EstimatedWait(), time.Duration(0))
}

func TestBlock_ExpiresExactlyAndResetsCounter(t *testing.T) {
	clk := newFakeClock()
	block := 60 * time.Second
	m := NewManager([]string{"k1-abcdefgh"}, Config{Limit: 2, Block: block}, WithClock(clk.Now))

	m.RecordUse("k1-abcdefgh")
	m.RecordUse("k1-abcdefgh") // reaches the limit at T
	blockedAt := clk.Now()

	clk.Advance(block - time.Nanosecond)
	_, ok := m.Select()
	assert.False(t, ok, "still blocked just before T+block")
	assert.Equal(t, time.Nanosecond, m.EstimatedWait())

	clk.Advance(time.Nanosecond)
	require.Equal(t, blockedAt.Add(block), clk.Now())
	k, ok := m.Select()
	require.True(t, ok, "selectable at exactly T+block")
	assert.Equal(t, "k1-abcdefgh", k)

	st := m.Statuses()
	require.Len(t, st, 1)
	assert.Zero(t, st[0].RequestsInWindow)
	assert.False(t, st[0].Blocked)
}

func TestWindow_LazyReset(t *testing.T) {
	clk := newFakeClock()
	m := NewManager([]string{"key-a"}, Config{Limit: 5}, WithClock(clk.Now))

	for i := 0; i < 4; i++ {
		m.RecordUse("key-a")
	}
	assert.Equal(t, 4, m.Statuses()[0].RequestsInWindow)

	clk.Advance(DefaultWindow)
	assert.Zero(t, m.Statuses()[0].RequestsInWindow)
	_, ok := m.Select()
	assert.True(t, ok)
}

func TestMarkFailed_OverridesDuration(t *testing.T) {
	clk := newFakeClock()
	m := NewManager([]string{"key-a", "key-b"}, Config{}, WithClock(clk.Now))

	m.MarkFailed("key-a", DefaultQuotaBlock)
	k, ok := m.Select()
	require.True(t, ok)
	assert.Equal(t, "key-b", k)

	m.MarkFailed("key-b", 0) // default block
	assert.False(t, m.HasAvailable())
	assert.Equal(t, DefaultBlock, m.EstimatedWait())

	clk.Advance(DefaultBlock)
	k, ok = m.Select()
	require.True(t, ok)
	assert.Equal(t, "key-b", k)

	clk.Advance(DefaultQuotaBlock)
	assert.Len(t, m.Statuses(), 2)
	for _, s := range m.Statuses() {
		assert.False(t, s.Blocked)
	}
}

func TestMarkFailed_UnknownKeyIgnored(t *testing.T) {
	m := NewManager([]string{"key-a"}, Config{})
	m.MarkFailed("nope", time.Hour)
	m.RecordUse("nope")
	assert.True(t, m.HasAvailable())
}

func TestAcquire_ConcurrentCallersNeverOverbook(t *testing.T) {
	clk := newFakeClock()
	m := NewManager([]string{"key-a", "key-b"}, Config{Limit: 11}, WithClock(clk.Now))

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[string]int{}
	misses := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, ok := m.Acquire()
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				misses++
				return
			}
			got[k]++
		}()
	}
	wg.Wait()

	assert.Equal(t, 11, got["key-a"])
	assert.Equal(t, 11, got["key-b"])
	assert.Equal(t, 18, misses)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "****", Redact("short"))
	assert.Equal(t, "AIza…wxyz", Redact("AIzaSyABCDEFGHwxyz"))
}

// No key is handed out more than Limit times inside one window.
func TestProperty_RateLimitSafety(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		poolSize := rapid.IntRange(1, 5).Draw(rt, "pool")
		limit := rapid.IntRange(1, 15).Draw(rt, "limit")
		calls := rapid.IntRange(0, 120).Draw(rt, "calls")

		pool := make([]string, poolSize)
		for i := range pool {
			pool[i] = fmt.Sprintf("key-%02d", i)
		}
		clk := newFakeClock()
		m := NewManager(pool, Config{Limit: limit, Window: time.Minute, Block: time.Minute}, WithClock(clk.Now))

		used := map[string]int{}
		var elapsed time.Duration
		for i := 0; i < calls; i++ {
			step := time.Duration(rapid.IntRange(0, 400).Draw(rt, "stepMs")) * time.Millisecond
			if elapsed+step >= time.Minute {
				break
			}
			elapsed += step
			clk.Advance(step)

			k, ok := m.Select()
			if !ok {
				if len(used) != poolSize {
					rt.Fatalf("none returned while a key was never used")
				}
				continue
			}
			m.RecordUse(k)
			used[k]++
			if used[k] > limit {
				rt.Fatalf("key %s selected %d times, limit %d", k, used[k], limit)
			}
		}
	})
}
