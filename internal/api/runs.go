package api

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coursegen/pkg/course"
	"coursegen/pkg/model"
	"coursegen/pkg/progress"
)

// Runner generates one course. *course.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, runID string, spec model.CurriculumSpec, sink progress.Sink) (*model.Course, error)
}

// Run states reported by the API.
const (
	RunRunning   = "running"
	RunComplete  = "complete"
	RunFailed    = "error"
	RunCancelled = "cancelled"
)

// Finished runs are kept for this long, and at most this many, by default.
const (
	DefaultRunRetention    = time.Hour
	DefaultMaxFinishedRuns = 100
)

// subscriberBuffer bounds how far a slow websocket client may lag before
// events are dropped for it.
const subscriberBuffer = 32

// RunStatus is the API view of a generation run.
type RunStatus struct {
	ID        string              `json:"id"`
	Subject   string              `json:"subject"`
	Status    string              `json:"status"`
	StartedAt time.Time           `json:"startedAt"`
	EndedAt   *time.Time          `json:"endedAt,omitempty"`
	Last      model.ProgressEvent `json:"last"`
	CourseID  string              `json:"courseId,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type runState struct {
	id      string
	spec    model.CurriculumSpec
	cancel  context.CancelFunc
	started time.Time

	mu       sync.Mutex
	ended    time.Time
	status   string
	last     model.ProgressEvent
	courseID string
	err      error
	subs     map[chan model.ProgressEvent]struct{}
}

// Emit records ev and fans it out to subscribers without blocking.
func (s *runState) Emit(ev model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = ev
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("Dropping progress event for slow subscriber", "run", s.id, "step", ev.Step)
		}
	}
}

func (s *runState) finish(c *model.Course, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = now
	if c != nil {
		s.courseID = c.ID
	}
	s.err = err
	switch {
	case err == nil:
		s.status = RunComplete
	case errors.Is(err, course.ErrCancelled):
		s.status = RunCancelled
	default:
		s.status = RunFailed
	}
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *runState) snapshot() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := RunStatus{
		ID:        s.id,
		Subject:   s.spec.Subject,
		Status:    s.status,
		StartedAt: s.started,
		Last:      s.last,
	}
	if !s.ended.IsZero() {
		t := s.ended
		st.EndedAt = &t
	}
	st.CourseID = s.courseID
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

func (s *runState) endedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Runs tracks generation runs started through the API. Finished runs are
// forgotten after the retention period or when more than the allowed
// number of finished runs are held; running ones are always kept.
type Runs struct {
	ctx         context.Context
	runner      Runner
	wrap        func(progress.Sink) progress.Sink
	retention   time.Duration
	maxFinished int
	now         func() time.Time

	mu   sync.RWMutex
	runs map[string]*runState
	wg   sync.WaitGroup
}

// RunsOption configures a Runs registry.
type RunsOption func(*Runs)

// WithRetention sets how long finished runs are kept and how many at most.
// Non-positive values keep the defaults.
func WithRetention(ttl time.Duration, maxFinished int) RunsOption {
	return func(r *Runs) {
		if ttl > 0 {
			r.retention = ttl
		}
		if maxFinished > 0 {
			r.maxFinished = maxFinished
		}
	}
}

// WithRunsClock replaces time.Now.
func WithRunsClock(now func() time.Time) RunsOption {
	return func(r *Runs) { r.now = now }
}

// NewRuns creates a registry. Runs are cancelled when ctx is done. wrap may
// add sinks (e.g. Redis) around each run's own sink; nil keeps it as is.
func NewRuns(ctx context.Context, runner Runner, wrap func(progress.Sink) progress.Sink, opts ...RunsOption) *Runs {
	if wrap == nil {
		wrap = func(s progress.Sink) progress.Sink { return s }
	}
	r := &Runs{
		ctx:         ctx,
		runner:      runner,
		wrap:        wrap,
		retention:   DefaultRunRetention,
		maxFinished: DefaultMaxFinishedRuns,
		now:         time.Now,
		runs:        make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pruneLocked drops expired finished runs, then the oldest finished runs
// beyond maxFinished. r.mu must be held for writing.
func (r *Runs) pruneLocked() {
	cutoff := r.now().Add(-r.retention)
	type finished struct {
		id    string
		ended time.Time
	}
	var kept []finished
	for id, s := range r.runs {
		ended := s.endedAt()
		if ended.IsZero() {
			continue
		}
		if ended.Before(cutoff) {
			delete(r.runs, id)
			continue
		}
		kept = append(kept, finished{id, ended})
	}
	if over := len(kept) - r.maxFinished; over > 0 {
		sort.Slice(kept, func(i, j int) bool { return kept[i].ended.Before(kept[j].ended) })
		for _, f := range kept[:over] {
			delete(r.runs, f.id)
		}
	}
}

// Prune applies the retention limits now. Start and List also prune.
func (r *Runs) Prune() {
	r.mu.Lock()
	r.pruneLocked()
	r.mu.Unlock()
}

// Start launches a run in the background and returns its id.
func (r *Runs) Start(spec model.CurriculumSpec) string {
	ctx, cancel := context.WithCancel(r.ctx)
	s := &runState{
		id:      uuid.NewString(),
		spec:    spec,
		cancel:  cancel,
		started: r.now(),
		status:  RunRunning,
		subs:    make(map[chan model.ProgressEvent]struct{}),
	}

	r.mu.Lock()
	r.pruneLocked()
	r.runs[s.id] = s
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		c, err := r.runner.Run(ctx, s.id, spec, r.wrap(s))
		s.finish(c, err, r.now())
	}()
	return s.id
}

// Get returns the status of run id.
func (r *Runs) Get(id string) (RunStatus, bool) {
	r.mu.Lock()
	r.pruneLocked()
	s, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return RunStatus{}, false
	}
	return s.snapshot(), true
}

// List returns every run, newest first.
func (r *Runs) List() []RunStatus {
	r.mu.Lock()
	r.pruneLocked()
	out := make([]RunStatus, 0, len(r.runs))
	for _, s := range r.runs {
		out = append(out, s.snapshot())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel asks run id to stop before its next lesson.
func (r *Runs) Cancel(id string) bool {
	r.mu.RLock()
	s, ok := r.runs[id]
	r.mu.RUnlock()
	if ok {
		s.cancel()
	}
	return ok
}

// Subscribe returns a channel of the run's future events and its latest
// event. The channel is closed when the run ends; it is already closed for
// finished runs.
func (r *Runs) Subscribe(id string) (events <-chan model.ProgressEvent, last model.ProgressEvent, unsubscribe func(), ok bool) {
	r.mu.RLock()
	s, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ProgressEvent{}, nil, false
	}

	ch := make(chan model.ProgressEvent, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	last = s.last
	if s.subs == nil {
		close(ch)
		return ch, last, func() {}, true
	}
	s.subs[ch] = struct{}{}
	return ch, last, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}, true
}

// Wait blocks until every run has returned.
func (r *Runs) Wait() {
	r.wg.Wait()
}
