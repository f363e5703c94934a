package keys

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"coursegen/pkg/tracker"
)

// Defaults for the published Gemini free-tier limit.
const (
	DefaultLimit      = 11
	DefaultWindow     = time.Minute
	DefaultBlock      = time.Minute
	DefaultQuotaBlock = 5 * time.Minute
)

// Config bounds the usage of every key in the pool.
type Config struct {
	Limit  int           // requests per window and key
	Window time.Duration // length of a rate-limit window
	Block  time.Duration // block applied when a key reaches Limit
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTracker reports blocks to the metrics tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

type record struct {
	key          string
	lastUsedAt   time.Time // zero = never
	windowStart  time.Time // zero = no request in the current window
	count        int
	blocked      bool
	blockedUntil time.Time
}

// Status is a redacted snapshot of one key.
type Status struct {
	Key              string    `json:"key"`
	LastUsedAt       time.Time `json:"lastUsedAt"`
	RequestsInWindow int       `json:"requestsInWindow"`
	Blocked          bool      `json:"blocked"`
	BlockedUntil     time.Time `json:"blockedUntil,omitempty"`
}

// Manager rotates a pool of API keys for one rate-limited provider.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	pool    []*record
	index   map[string]*record
	now     func() time.Time
	tracker *tracker.Tracker
}

// NewManager creates a Manager for the given keys. Empty and duplicate keys
// are ignored. An empty pool is valid; Select then always reports none.
func NewManager(keys []string, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.withDefaults(),
		index: make(map[string]*record),
		now:   time.Now,
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := m.index[k]; dup {
			continue
		}
		r := &record{key: k}
		m.pool = append(m.pool, r)
		m.index[k] = r
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the pool size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// Select returns the key with the fewest requests in the current window,
// preferring the least recently used on ties. ok is false when every key is
// blocked or at its limit.
func (m *Manager) Select() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.selectLocked(m.now())
	if r == nil {
		return "", false
	}
	return r.key, true
}

// RecordUse counts one request against key. Reaching the limit blocks the
// key for the configured block duration.
func (m *Manager) RecordUse(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.index[key]
	if !ok {
		return
	}
	m.recordLocked(r, m.now())
}

// Acquire selects a key and records its use in one critical section, so two
// callers can never book the last slot of the same key.
func (m *Manager) Acquire() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r := m.selectLocked(now)
	if r == nil {
		return "", false
	}
	m.recordLocked(r, now)
	return r.key, true
}

// MarkFailed blocks key immediately for d (the default block if d <= 0).
func (m *Manager) MarkFailed(key string, d time.Duration) {
	if d <= 0 {
		d = m.cfg.Block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.index[key]
	if !ok {
		return
	}
	r.blocked = true
	r.blockedUntil = m.now().Add(d)
	slog.Warn("API key blocked", "key", Redact(key), "for", d)
	m.tracker.TrackKeyBlocked("failure")
}

// HasAvailable reports whether a request could be served right now.
func (m *Manager) HasAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(m.now()) != nil
}

// EstimatedWait returns the time until the earliest blocked key unblocks,
// or 0 if a key is available now or the pool is empty.
func (m *Manager) EstimatedWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.pool) == 0 || m.selectLocked(now) != nil {
		return 0
	}
	var wait time.Duration
	for _, r := range m.pool {
		if !r.blocked {
			continue
		}
		if d := r.blockedUntil.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return wait
}

// Statuses returns a redacted snapshot of the pool in configuration order.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Status, 0, len(m.pool))
	for _, r := range m.pool {
		m.refreshLocked(r, now)
		out = append(out, Status{
			Key:              Redact(r.key),
			LastUsedAt:       r.lastUsedAt,
			RequestsInWindow: r.count,
			Blocked:          r.blocked,
			BlockedUntil:     r.blockedUntil,
		})
	}
	return out
}

func (m *Manager) selectLocked(now time.Time) *record {
	var best *record
	for _, r := range m.pool {
		m.refreshLocked(r, now)
		if r.blocked || r.count >= m.cfg.Limit {
			continue
		}
		if best == nil || r.count < best.count ||
			(r.count == best.count && r.lastUsedAt.Before(best.lastUsedAt)) {
			best = r
		}
	}
	return best
}

func (m *Manager) recordLocked(r *record, now time.Time) {
	m.refreshLocked(r, now)
	if r.windowStart.IsZero() {
		r.windowStart = now
	}
	r.count++
	r.lastUsedAt = now
	if r.count >= m.cfg.Limit {
		r.blocked = true
		r.blockedUntil = now.Add(m.cfg.Block)
		slog.Debug("API key reached window limit", "key", Redact(r.key), "count", r.count, "until", r.blockedUntil)
		m.tracker.TrackKeyBlocked("limit")
	}
}

// refreshLocked applies lazy expiry: an elapsed block clears the key and its
// counter, an elapsed window clears the counter.
func (m *Manager) refreshLocked(r *record, now time.Time) {
	if r.blocked && !now.Before(r.blockedUntil) {
		r.blocked = false
		r.blockedUntil = time.Time{}
		r.count = 0
		r.windowStart = time.Time{}
	}
	if !r.windowStart.IsZero() && now.Sub(r.windowStart) >= m.cfg.Window {
		r.count = 0
		r.windowStart = time.Time{}
	}
}

// Redact shortens a secret for logs and API output.
func Redact(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
