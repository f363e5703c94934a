package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coursegen/pkg/config"
	"coursegen/pkg/llm"
	"coursegen/pkg/request"
)

// Backend streams chat completions from any OpenAI-compatible API.
type Backend struct {
	rc          *request.Client
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float32
}

// Request follows the OpenAI Chat Completions format.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chunk is one streamed completion event.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewBackend creates a backend. defaultBaseURL is used when cfg has none.
func NewBackend(cfg config.BackendConfig, defaultBaseURL string, rc *request.Client) (*Backend, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	return &Backend{
		rc:          rc,
		name:        cfg.Label(),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.Key,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (b *Backend) Name() string { return b.name }

// Generate streams one completion and returns the accumulated text.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if b.apiKey == "" {
		return llm.Response{}, &llm.BackendError{Backend: b.name, Status: http.StatusUnauthorized, Err: errors.New("api key is missing")}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	oreq := Request{
		Model:       b.model,
		Stream:      true,
		MaxTokens:   maxTokens,
		Temperature: b.temperature,
	}
	if req.System != "" {
		oreq.Messages = append(oreq.Messages, Message{Role: "system", Content: req.System})
	}
	oreq.Messages = append(oreq.Messages, Message{Role: "user", Content: req.Prompt})

	body, err := b.rc.PostStream(ctx, b.baseURL+"/chat/completions", oreq, b.headers())
	if err != nil {
		return llm.Response{}, b.wrap(ctx, err)
	}
	defer body.Close()

	var (
		text   strings.Builder
		finish string
	)
	err = streamSSE(body, func(_, data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return fmt.Errorf("bad stream chunk: %w", err)
		}
		if c.Error != nil {
			return fmt.Errorf("openai api error: %s (%s)", c.Error.Message, c.Error.Type)
		}
		for _, ch := range c.Choices {
			text.WriteString(ch.Delta.Content)
			if ch.FinishReason != nil && *ch.FinishReason != "" {
				finish = *ch.FinishReason
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStreamDone) {
		return llm.Response{}, b.wrap(ctx, err)
	}

	if strings.TrimSpace(text.String()) == "" {
		return llm.Response{}, &llm.BackendError{Backend: b.name, Err: llm.ErrEmptyResponse}
	}

	return llm.Response{
		Text:         text.String(),
		FinishReason: finish,
		Truncated:    finish == "length",
	}, nil
}

// HealthCheck verifies the key and that the configured model is served.
func (b *Backend) HealthCheck(ctx context.Context, _ string) error {
	respBody, err := b.rc.Get(ctx, b.baseURL+"/models", b.headers())
	if err != nil {
		return b.wrap(ctx, fmt.Errorf("failed to fetch models: %w", err))
	}

	var mresp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &mresp); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}

	available := make([]string, 0, len(mresp.Data))
	for _, m := range mresp.Data {
		if m.ID == b.model {
			return nil
		}
		available = append(available, m.ID)
	}
	return fmt.Errorf("%s: model %q not found. Available models: %v", b.name, b.model, available)
}

func (b *Backend) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.apiKey}
}

func (b *Backend) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	be := &llm.BackendError{Backend: b.name, Err: err}
	var se *request.StatusError
	if errors.As(err, &se) {
		be.Status = se.StatusCode
	}
	return be
}
