package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Tracker tracks usage statistics per backend and exports them as
// Prometheus collectors. A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*BackendStats

	registry      *prometheus.Registry
	apiCalls      *prometheus.CounterVec
	truncations   *prometheus.CounterVec
	keyBlocks     *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	lessonRetries prometheus.Counter
	lessonsSaved  prometheus.Counter
	runs          *prometheus.CounterVec
}

// BackendStats holds counters for a specific backend.
// Fields are accessed atomically.
type BackendStats struct {
	APISuccess  int64 `json:"apiSuccess"`
	APIFailures int64 `json:"apiFailures"`
	APIEmpty    int64 `json:"apiEmpty"`
	Truncated   int64 `json:"truncated"`
}

// New creates a Tracker with its own registry.
func New() *Tracker {
	t := &Tracker{
		stats:    make(map[string]*BackendStats),
		registry: prometheus.NewRegistry(),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "llm_requests_total",
			Help:      "LLM backend calls by backend and result.",
		}, []string{"backend", "result"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "llm_truncated_total",
			Help:      "Responses cut off at the token limit.",
		}, []string{"backend"}),
		keyBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "api_key_blocks_total",
			Help:      "API key blocks by reason.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coursegen",
			Name:      "queue_depth",
			Help:      "Pending generation tasks per queue.",
		}, []string{"queue"}),
		lessonRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "lesson_retries_total",
			Help:      "Whole-lesson regeneration attempts.",
		}),
		lessonsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "lessons_persisted_total",
			Help:      "Lessons written to the store.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "runs_total",
			Help:      "Finished generation runs by outcome.",
		}, []string{"outcome"}),
	}
	t.registry.MustRegister(
		t.apiCalls, t.truncations, t.keyBlocks, t.queueDepth,
		t.lessonRetries, t.lessonsSaved, t.runs,
		collectors.NewGoCollector(),
	)
	return t
}

// Registry returns the registry backing /metrics.
func (t *Tracker) Registry() *prometheus.Registry {
	if t == nil {
		return prometheus.NewRegistry()
	}
	return t.registry
}

// getStats returns the stats object for a backend, creating it if needed.
func (t *Tracker) getStats(backend string) *BackendStats {
	t.mu.RLock()
	s, ok := t.stats[backend]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[backend]; ok {
		return s
	}
	s = &BackendStats{}
	t.stats[backend] = s
	return s
}

func (t *Tracker) TrackAPISuccess(backend string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(backend).APISuccess, 1)
	t.apiCalls.WithLabelValues(backend, "success").Inc()
}

func (t *Tracker) TrackAPIFailure(backend string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(backend).APIFailures, 1)
	t.apiCalls.WithLabelValues(backend, "failure").Inc()
}

// TrackAPIEmpty counts a call that succeeded on the wire but returned no text.
func (t *Tracker) TrackAPIEmpty(backend string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(backend).APIEmpty, 1)
	t.apiCalls.WithLabelValues(backend, "empty").Inc()
}

func (t *Tracker) TrackTruncation(backend string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(backend).Truncated, 1)
	t.truncations.WithLabelValues(backend).Inc()
}

func (t *Tracker) TrackKeyBlocked(reason string) {
	if t == nil {
		return
	}
	t.keyBlocks.WithLabelValues(reason).Inc()
}

func (t *Tracker) SetQueueDepth(queue string, n int) {
	if t == nil {
		return
	}
	t.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (t *Tracker) TrackLessonRetry() {
	if t == nil {
		return
	}
	t.lessonRetries.Inc()
}

func (t *Tracker) TrackLessonPersisted() {
	if t == nil {
		return
	}
	t.lessonsSaved.Inc()
}

// TrackRun records the outcome of a finished run ("complete", "error", "cancelled").
func (t *Tracker) TrackRun(outcome string) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(outcome).Inc()
}

// Snapshot returns a copy of the current per-backend stats.
func (t *Tracker) Snapshot() map[string]BackendStats {
	result := make(map[string]BackendStats)
	if t == nil {
		return result
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for k, v := range t.stats {
		result[k] = BackendStats{
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
			APIEmpty:    atomic.LoadInt64(&v.APIEmpty),
			Truncated:   atomic.LoadInt64(&v.Truncated),
		}
	}
	return result
}
