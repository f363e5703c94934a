package llm

import (
	"context"

	"coursegen/pkg/model"
)

// Request is one generation call against a backend.
type Request struct {
	System      string // guideline preamble plus task instructions
	Prompt      string
	ContentType model.ContentType
	MaxTokens   int
	APIKey      string // filled by the executor for keyed backends
}

// Response is the text a backend produced.
type Response struct {
	Text         string
	FinishReason string
	// Truncated is set when the backend stopped at its token limit. The text
	// is still usable; downstream JSON repair closes what was cut off.
	Truncated bool
}

// Backend is one concrete generation endpoint.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// KeyedBackend is a Backend that takes its API key from the rotation pool on
// every call instead of a fixed configured key.
type KeyedBackend interface {
	Backend
	UsesKeyPool() bool
}

// HealthChecker is implemented by backends that can verify their
// configuration (model name, credentials) at startup.
type HealthChecker interface {
	HealthCheck(ctx context.Context, apiKey string) error
}

type ctxKey int

const categoryKey ctxKey = iota

// WithCategory attaches the guideline category for requests made with ctx.
func WithCategory(ctx context.Context, category string) context.Context {
	if category == "" {
		return ctx
	}
	return context.WithValue(ctx, categoryKey, category)
}

// CategoryFrom returns the guideline category attached to ctx, if any.
func CategoryFrom(ctx context.Context) string {
	s, _ := ctx.Value(categoryKey).(string)
	return s
}
