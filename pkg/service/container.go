// Package service owns the process-wide instances of the course generator
// and their lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"coursegen/pkg/config"
	"coursegen/pkg/conversation"
	"coursegen/pkg/course"
	"coursegen/pkg/db"
	"coursegen/pkg/generation"
	"coursegen/pkg/keys"
	"coursegen/pkg/llm"
	"coursegen/pkg/llm/deepseek"
	"coursegen/pkg/llm/failover"
	"coursegen/pkg/llm/gemini"
	"coursegen/pkg/llm/groq"
	"coursegen/pkg/llm/openai"
	"coursegen/pkg/llm/prompts"
	"coursegen/pkg/model"
	"coursegen/pkg/probe"
	"coursegen/pkg/progress"
	"coursegen/pkg/request"
	"coursegen/pkg/store"
	"coursegen/pkg/tracker"
)

// ErrNoCredentials is returned when no configured backend has a credential.
var ErrNoCredentials = errors.New("no LLM backend has credentials; set GEMINI_API_KEYS or a backend key")

// Container holds the wired service graph.
type Container struct {
	Config       *config.Config
	Tracker      *tracker.Tracker
	Keys         *keys.Manager
	Prompts      *prompts.Manager
	Executor     *failover.Executor
	CourseQueue  *generation.Queue
	ChatQueue    *generation.Queue
	Store        store.Store
	Orchestrator *course.Orchestrator
	// Conversations holds chat-assistant histories keyed by session id.
	Conversations *conversation.Store
	// Redis is nil unless progress.redis_addr is set and reachable.
	Redis *progress.Redis

	db *db.DB
}

// New builds every component from cfg. Queues are not started; call Start.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:        cfg,
		Tracker:       tracker.New(),
		Conversations: conversation.New(cfg.Chat.SessionTTL.Std(), cfg.Chat.MaxTurns),
	}

	c.Keys = keys.NewManager(cfg.Keys.Gemini, keys.Config{
		Limit:  cfg.Keys.Limit,
		Window: cfg.Keys.Window.Std(),
		Block:  cfg.Keys.Block.Std(),
	}, keys.WithTracker(c.Tracker))

	backends, err := buildBackends(cfg, c.Keys.Len())
	if err != nil {
		return nil, err
	}

	pm, err := prompts.NewManager(cfg.Guidelines.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	c.Prompts = pm

	c.Executor, err = failover.New(backends, c.Keys, prompts.NewGuidelines(pm), failover.Config{
		MaxRetries: cfg.Executor.MaxRetries,
		BaseDelay:  cfg.Executor.BaseDelay.Std(),
		QuotaBlock: cfg.Executor.QuotaBlock.Std(),
		LogPath:    cfg.History.LLM.Path,
		LogEnabled: cfg.History.LLM.Enabled,
	}, failover.WithTracker(c.Tracker))
	if err != nil {
		return nil, err
	}

	// Waiting for a key only makes sense when no backend can run without one.
	var avail generation.Availability
	if allKeyed(backends) {
		avail = c.Keys
	}
	c.CourseQueue = generation.New(c.Executor, avail, generation.Config{
		Name:     "course",
		Interval: cfg.Queue.Interval.Std(),
		MaxWait:  cfg.Queue.MaxWait.Std(),
	}, generation.WithTracker(c.Tracker))
	c.ChatQueue = generation.New(c.Executor, avail, generation.Config{
		Name:     "chat",
		Interval: cfg.Queue.ChatInterval.Std(),
		MaxWait:  cfg.Queue.MaxWait.Std(),
	}, generation.WithTracker(c.Tracker))

	c.db, err = db.Init(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.Store = store.NewSQLiteStore(c.db)

	c.Orchestrator = course.New(c.CourseQueue, pm, c.Store, course.Config{
		MaxLessonRetries: cfg.Orchestrator.MaxLessonRetries,
		LessonBaseDelay:  cfg.Orchestrator.LessonBaseDelay.Std(),
		MaxDBRetries:     cfg.Orchestrator.MaxDBRetries,
		DBBaseDelay:      cfg.Orchestrator.DBBaseDelay.Std(),
		GroundingChars:   cfg.Orchestrator.GroundingChars,
	}, course.WithTracker(c.Tracker))

	if addr := cfg.Progress.RedisAddr; addr != "" {
		r, err := progress.NewRedis(ctx, addr, cfg.Progress.ChannelPrefix)
		if err != nil {
			slog.Warn("Redis progress publishing disabled", "addr", addr, "error", err)
		} else {
			c.Redis = r
		}
	}

	return c, nil
}

// buildBackends creates the configured backends in failover order, leaving
// out those without a credential.
func buildBackends(cfg *config.Config, poolSize int) ([]llm.Backend, error) {
	rc := request.New(cfg.Request.Timeout.Std())
	hc := &http.Client{Timeout: cfg.Request.Timeout.Std()}

	var out []llm.Backend
	for _, bc := range cfg.Backends {
		if bc.Type == config.BackendGemini {
			if poolSize == 0 {
				slog.Warn("Skipping backend without API keys", "backend", bc.Label())
				continue
			}
			out = append(out, gemini.NewBackend(bc, hc))
			continue
		}

		if bc.Key == "" {
			slog.Warn("Skipping backend without API key", "backend", bc.Label())
			continue
		}
		var (
			b   *openai.Backend
			err error
		)
		switch bc.Type {
		case config.BackendGroq:
			b, err = groq.NewBackend(bc, rc)
		case config.BackendDeepSeek:
			b, err = deepseek.NewBackend(bc, rc)
		case config.BackendOpenAI:
			b, err = openai.NewBackend(bc, "", rc)
		default:
			err = fmt.Errorf("unknown backend type %q", bc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Label(), err)
		}
		out = append(out, b)
	}

	if len(out) == 0 {
		return nil, ErrNoCredentials
	}
	names := make([]string, len(out))
	for i, b := range out {
		names[i] = b.Name()
	}
	slog.Info("LLM backends ready", "order", names, "gemini_keys", poolSize)
	return out, nil
}

func allKeyed(backends []llm.Backend) bool {
	for _, b := range backends {
		kb, ok := b.(llm.KeyedBackend)
		if !ok || !kb.UsesKeyPool() {
			return false
		}
	}
	return true
}

// Start launches the queue workers.
func (c *Container) Start(ctx context.Context) {
	c.CourseQueue.Start(ctx)
	c.ChatQueue.Start(ctx)
}

// Close stops the queues and releases connections.
func (c *Container) Close() error {
	c.CourseQueue.Stop()
	c.ChatQueue.Stop()
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	errs = append(errs, c.Store.Close())
	return errors.Join(errs...)
}

// Sink returns the progress sink for a run: extra, plus Redis when enabled.
func (c *Container) Sink(extra progress.Sink) progress.Sink {
	if c.Redis == nil {
		if extra == nil {
			return progress.Discard
		}
		return extra
	}
	return progress.Multi{extra, c.Redis}
}

// Ask answers a learner question through the chat queue. lessonContext is
// optional grounding text.
func (c *Container) Ask(ctx context.Context, question, lessonContext string) (string, error) {
	prompt, err := c.Prompts.Chat(question, lessonContext)
	if err != nil {
		return "", err
	}
	return c.ChatQueue.Submit(ctx, prompt, model.ContentChat)
}

// Probes returns the startup checks. Only the database is critical.
func (c *Container) Probes() []probe.Probe {
	probes := []probe.Probe{
		{Name: "database", Critical: true, Check: c.db.PingContext},
		{Name: "llm", Timeout: 15 * time.Second, Check: c.Executor.HealthCheck},
	}
	if c.Redis != nil {
		probes = append(probes, probe.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return c.Redis.Ping(ctx)
		}})
	}
	return probes
}
