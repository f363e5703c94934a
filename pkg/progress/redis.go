package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"coursegen/pkg/model"
)

const publishTimeout = 2 * time.Second

// Redis publishes events as JSON to "<prefix>:<runID>".
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if prefix == "" {
		prefix = "course_progress"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb, prefix: prefix}, nil
}

// Channel returns the channel events for runID are published on.
func (r *Redis) Channel(runID string) string {
	return r.prefix + ":" + runID
}

// Emit publishes ev. Failures are logged, never returned.
func (r *Redis) Emit(ev model.ProgressEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Progress event not serializable", "run", ev.RunID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.Channel(ev.RunID), raw).Err(); err != nil {
		slog.Warn("Progress publish failed", "run", ev.RunID, "step", ev.Step, "error", err)
	}
}

// Subscribe forwards events for runID to fn until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, runID string, fn func(model.ProgressEvent)) error {
	sub := r.rdb.Subscribe(ctx, r.Channel(runID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					slog.Warn("Bad progress payload", "channel", m.Channel, "error", err)
					continue
				}
				fn(ev)
			}
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
