package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"coursegen/pkg/model"
	"coursegen/pkg/request"
	"coursegen/pkg/tracker"
)

// ErrQueueClosed settles jobs submitted to or pending in a stopped queue.
var ErrQueueClosed = errors.New("generation queue closed")

// Defaults for the course and chat queues.
const (
	DefaultInterval     = 2 * time.Second
	DefaultChatInterval = 5500 * time.Millisecond
	DefaultMaxWait      = 30 * time.Second

	minAvailabilityPoll = 50 * time.Millisecond
)

// Executor runs one prompt.
type Executor interface {
	Execute(ctx context.Context, prompt string, ct model.ContentType) (string, error)
}

// Availability reports whether an API key can be handed out.
type Availability interface {
	HasAvailable() bool
	EstimatedWait() time.Duration
}

// Config configures a Queue.
type Config struct {
	Name     string
	Interval time.Duration // minimum gap between task starts, 0 for none
	MaxWait  time.Duration // cap on one availability sleep
}

// Queue runs submitted jobs one at a time in submission order, pacing task
// starts by a minimum interval and by API key availability.
type Queue struct {
	name    string
	exec    Executor
	avail   Availability
	limiter *rate.Limiter
	maxWait time.Duration
	tracker *tracker.Tracker
	sleep   request.SleepFunc

	pending fifo
	wake    chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithTracker reports queue depth.
func WithTracker(t *tracker.Tracker) Option {
	return func(q *Queue) { q.tracker = t }
}

// WithSleep replaces the availability sleep (tests).
func WithSleep(fn request.SleepFunc) Option {
	return func(q *Queue) { q.sleep = fn }
}

// New creates a queue. avail may be nil, in which case only the interval
// paces tasks.
func New(exec Executor, avail Availability, cfg Config, opts ...Option) *Queue {
	if cfg.Name == "" {
		cfg.Name = "course"
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	q := &Queue{
		name:    cfg.Name,
		exec:    exec,
		avail:   avail,
		limiter: rate.NewLimiter(limit, 1),
		maxWait: cfg.MaxWait,
		sleep:   request.Sleep,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the worker. It stops when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	go q.run(ctx)
}

// Stop halts the worker after the in-flight job and settles every pending
// job with ErrQueueClosed.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	if started {
		<-q.done
	}
	q.drain()
}

// Submit enqueues a prompt and blocks until it has been executed or ctx is
// done. A job whose ctx ends before it is dequeued is never executed.
func (q *Queue) Submit(ctx context.Context, prompt string, ct model.ContentType) (string, error) {
	job := newJob(ctx, prompt, ct)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	n := q.pending.Enqueue(job)
	q.mu.Unlock()

	q.tracker.SetQueueDepth(q.name, n)
	slog.Debug("GenerationQueue: Enqueued job", "queue", q.name, "type", ct, "queue_len", n)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-job.result:
		return res.Text, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of jobs waiting to start.
func (q *Queue) Len() int {
	return q.pending.Count()
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	first := true
	for {
		job := q.pending.Pop()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.tracker.SetQueueDepth(q.name, q.pending.Count())

		if ctx.Err() != nil {
			job.settle("", ErrQueueClosed)
			return
		}
		if err := job.ctx.Err(); err != nil {
			job.settle("", err)
			continue
		}

		if err := q.pace(ctx, first); err != nil {
			job.settle("", ErrQueueClosed)
			return
		}
		first = false

		if err := job.ctx.Err(); err != nil {
			job.settle("", err)
			continue
		}

		slog.Debug("GenerationQueue: Running job", "queue", q.name, "type", job.ContentType, "waited", time.Since(job.CreatedAt))
		text, err := q.exec.Execute(job.ctx, job.Prompt, job.ContentType)
		job.settle(text, err)
	}
}

// pace waits until a key is available (skipped for the first job) and the
// minimum interval since the previous start has passed.
func (q *Queue) pace(ctx context.Context, first bool) error {
	if !first && q.avail != nil {
		for !q.avail.HasAvailable() {
			wait := q.avail.EstimatedWait()
			if wait > q.maxWait {
				wait = q.maxWait
			}
			if wait <= 0 {
				wait = minAvailabilityPoll
			}
			slog.Info("GenerationQueue: No API key available, waiting", "queue", q.name, "wait", wait)
			if err := q.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return q.limiter.Wait(ctx)
}

func (q *Queue) drain() {
	jobs := q.pending.Drain()
	for _, j := range jobs {
		j.settle("", ErrQueueClosed)
	}
	q.tracker.SetQueueDepth(q.name, 0)
	if len(jobs) > 0 {
		slog.Info("GenerationQueue: Settled pending jobs on shutdown", "queue", q.name, "count", len(jobs))
	}
}
