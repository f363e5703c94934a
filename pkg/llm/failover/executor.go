package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coursegen/pkg/keys"
	"coursegen/pkg/llm"
	"coursegen/pkg/model"
	"coursegen/pkg/request"
	"coursegen/pkg/tracker"
)

// KeyPool hands out API keys for keyed backends.
type KeyPool interface {
	Acquire() (string, bool)
	MarkFailed(key string, d time.Duration)
}

// GuidelineProvider supplies the system preamble for a request.
type GuidelineProvider interface {
	BuildGuidelinesPrompt(ct model.ContentType, category string) string
}

// Config holds retry and history-log settings.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	QuotaBlock time.Duration
	LogPath    string
	LogEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.QuotaBlock <= 0 {
		c.QuotaBlock = keys.DefaultQuotaBlock
	}
	return c
}

// ExhaustedError is returned when every pass over every backend failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

var errNoActiveBackend = errors.New("no active backend")

// Executor runs a prompt against an ordered list of backends, retrying whole
// passes with exponential backoff.
type Executor struct {
	backends   []llm.Backend
	keys       KeyPool
	guidelines GuidelineProvider
	cfg        Config
	tracker    *tracker.Tracker
	tracer     trace.Tracer
	sleep      request.SleepFunc

	mu       sync.RWMutex
	disabled map[int]bool

	logMu sync.Mutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithTracker records call outcomes.
func WithTracker(t *tracker.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithSleep replaces the backoff sleep (tests).
func WithSleep(fn request.SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// New creates an Executor. keys may be nil when no backend uses the pool.
func New(backends []llm.Backend, pool KeyPool, g GuidelineProvider, cfg Config, opts ...Option) (*Executor, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend required")
	}
	for _, b := range backends {
		if usesPool(b) && pool == nil {
			return nil, fmt.Errorf("backend %s needs a key pool", b.Name())
		}
	}

	e := &Executor{
		backends:   backends,
		keys:       pool,
		guidelines: g,
		cfg:        cfg.withDefaults(),
		tracer:     otel.Tracer("coursegen/llm"),
		sleep:      request.Sleep,
		disabled:   make(map[int]bool),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type candidate struct {
	index int
	b     llm.Backend
}

func (e *Executor) active() []candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []candidate
	for i, b := range e.backends {
		if !e.disabled[i] {
			out = append(out, candidate{i, b})
		}
	}
	return out
}

// Execute returns the first non-empty text any backend produces for prompt.
func (e *Executor) Execute(ctx context.Context, prompt string, ct model.ContentType) (string, error) {
	ctx, span := e.tracer.Start(ctx, "llm.execute", trace.WithAttributes(
		attribute.String("content_type", string(ct)),
	))
	defer span.End()

	req := llm.Request{
		Prompt:      prompt,
		ContentType: ct,
	}
	if e.guidelines != nil {
		req.System = e.guidelines.BuildGuidelinesPrompt(ct, llm.CategoryFrom(ctx))
	}

	var lastErr error
	attempt := 0
	for attempt < e.cfg.MaxRetries {
		attempt++
		if attempt > 1 {
			delay := request.Exponential(e.cfg.BaseDelay, attempt-1)
			slog.Warn("All backends failed, retrying with backoff", "content_type", ct, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				span.RecordError(err)
				return "", err
			}
		}

		candidates := e.active()
		if len(candidates) == 0 {
			lastErr = errNoActiveBackend
			break
		}

		for i, c := range candidates {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				return "", err
			}

			resp, err := e.call(ctx, c.b, req)
			if err == nil {
				span.SetAttributes(
					attribute.String("backend", c.b.Name()),
					attribute.Int("attempt", attempt),
					attribute.Bool("truncated", resp.Truncated),
				)
				return resp.Text, nil
			}
			if ctx.Err() != nil {
				span.RecordError(ctx.Err())
				return "", ctx.Err()
			}

			lastErr = err
			e.logRequest(c.b.Name(), ct, prompt, "", err)

			if llm.IsUnrecoverable(err) && !usesPool(c.b) {
				if len(e.active()) > 1 {
					slog.Warn("LLM backend fatal error, disabling for the session", "backend", c.b.Name(), "error", err)
					e.mu.Lock()
					e.disabled[c.index] = true
					e.mu.Unlock()
				}
				continue
			}
			if i < len(candidates)-1 {
				slog.Info("LLM backend failed, falling back", "backend", c.b.Name(), "next", candidates[i+1].b.Name(), "error", err)
			}
		}
	}

	err := &ExhaustedError{Attempts: attempt, Err: lastErr}
	span.RecordError(err)
	span.SetStatus(codes.Error, "exhausted")
	return "", err
}

// call performs one backend call, taking a key from the pool when needed.
func (e *Executor) call(ctx context.Context, b llm.Backend, req llm.Request) (llm.Response, error) {
	name := b.Name()
	keyed := usesPool(b)
	if keyed {
		key, ok := e.keys.Acquire()
		if !ok {
			slog.Debug("No API key available, skipping backend", "backend", name)
			return llm.Response{}, llm.ErrNoCredential
		}
		req.APIKey = key
	}

	start := time.Now()
	resp, err := b.Generate(ctx, req)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = &llm.BackendError{Backend: name, Err: llm.ErrEmptyResponse}
	}
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrNoCredential):
		case errors.Is(err, llm.ErrEmptyResponse):
			e.tracker.TrackAPIEmpty(name)
		default:
			e.tracker.TrackAPIFailure(name)
		}
		if keyed && ctx.Err() == nil && (llm.IsQuotaError(err) || llm.IsUnrecoverable(err)) {
			e.keys.MarkFailed(req.APIKey, e.cfg.QuotaBlock)
		}
		return llm.Response{}, err
	}

	e.tracker.TrackAPISuccess(name)
	if resp.Truncated {
		e.tracker.TrackTruncation(name)
		slog.Warn("LLM response truncated at token limit", "backend", name, "content_type", req.ContentType, "finish_reason", resp.FinishReason)
	}
	slog.Debug("LLM call succeeded", "backend", name, "content_type", req.ContentType, "chars", len(resp.Text), "elapsed", time.Since(start))
	e.logRequest(name, req.ContentType, req.Prompt, resp.Text, nil)
	return resp, nil
}

// HealthCheck verifies that at least one backend is healthy. Keyed backends
// are checked with a key from the pool.
func (e *Executor) HealthCheck(ctx context.Context) error {
	var errs []string
	for _, c := range e.active() {
		hc, ok := c.b.(llm.HealthChecker)
		if !ok {
			return nil
		}
		key := ""
		if usesPool(c.b) {
			k, ok := e.keys.Acquire()
			if !ok {
				errs = append(errs, fmt.Sprintf("%s: %v", c.b.Name(), llm.ErrNoCredential))
				continue
			}
			key = k
		}
		if err := hc.HealthCheck(ctx, key); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", c.b.Name(), err))
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return errNoActiveBackend
	}
	return fmt.Errorf("all LLM backends failed health check: %s", strings.Join(errs, "; "))
}

func usesPool(b llm.Backend) bool {
	kb, ok := b.(llm.KeyedBackend)
	return ok && kb.UsesKeyPool()
}

func (e *Executor) logRequest(backend string, ct model.ContentType, prompt, response string, err error) {
	if e.cfg.LogPath == "" || !e.cfg.LogEnabled {
		return
	}

	e.logMu.Lock()
	defer e.logMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.cfg.LogPath), 0o755); err != nil {
		return
	}
	file, fErr := os.OpenFile(e.cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fErr != nil {
		return
	}
	defer file.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var entry string
	if err != nil {
		entry = fmt.Sprintf("[%s][%s] ERROR: %s - %v\n%s\n",
			timestamp, strings.ToUpper(backend), ct, err, strings.Repeat("-", 80))
	} else {
		entry = fmt.Sprintf("[%s][%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
			timestamp, strings.ToUpper(backend), ct, llm.TruncateParagraphs(prompt, 80), llm.WordWrap(response, 80), strings.Repeat("-", 80))
	}
	_, _ = file.WriteString(entry)
}
