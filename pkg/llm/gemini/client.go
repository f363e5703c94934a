package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"coursegen/pkg/config"
	"coursegen/pkg/llm"
	"coursegen/pkg/model"
)

const defaultModel = "gemini-2.5-flash"

// Backend calls the Gemini API with a key taken from the rotation pool on
// every request. One genai client is kept per key.
type Backend struct {
	name        string
	model       string
	baseURL     string
	maxTokens   int
	temperature float32
	httpClient  *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewBackend creates a Gemini backend. httpClient may be nil.
func NewBackend(cfg config.BackendConfig, httpClient *http.Client) *Backend {
	m := cfg.Model
	if m == "" {
		m = defaultModel
	}
	return &Backend{
		name:        cfg.Label(),
		model:       m,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
		clients:     make(map[string]*genai.Client),
	}
}

func (b *Backend) Name() string { return b.name }

// UsesKeyPool marks the backend as taking keys from the rotation pool.
func (b *Backend) UsesKeyPool() bool { return true }

func (b *Backend) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[apiKey]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.httpClient,
	}
	if b.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: b.baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	b.clients[apiKey] = c
	return c, nil
}

// Generate performs one non-streaming call with req.APIKey.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if req.APIKey == "" {
		return llm.Response{}, llm.ErrNoCredential
	}

	client, err := b.client(ctx, req.APIKey)
	if err != nil {
		return llm.Response{}, &llm.BackendError{Backend: b.name, Err: err}
	}

	resp, err := client.Models.GenerateContent(ctx, b.model, genai.Text(req.Prompt), b.contentConfig(req))
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{}, b.wrap(err)
	}

	text, finish := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, &llm.BackendError{Backend: b.name, Err: fmt.Errorf("%w (finish reason %q)", llm.ErrEmptyResponse, finish)}
	}

	return llm.Response{
		Text:         text,
		FinishReason: string(finish),
		Truncated:    finish == genai.FinishReasonMaxTokens,
	}, nil
}

func (b *Backend) contentConfig(req llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if b.temperature > 0 {
		t := b.temperature
		cfg.Temperature = &t
	}
	// Chat replies are prose, everything else is a JSON document.
	if req.ContentType != model.ContentChat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// HealthCheck verifies that the model is reachable with apiKey. On failure
// it logs the gemini models the key can see.
func (b *Backend) HealthCheck(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return llm.ErrNoCredential
	}
	client, err := b.client(ctx, apiKey)
	if err != nil {
		return err
	}

	name := b.model
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}
	_, err = client.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", b.model)
		return nil
	}
	checkErr := b.wrap(err)

	var available []string
	for m, listErr := range client.Models.All(ctx) {
		if listErr != nil {
			break
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			available = append(available, m.Name)
		}
	}
	slog.Error("Configured Gemini model not available", "model", b.model, "available", available, "error", err)
	return checkErr
}

func responseText(resp *genai.GenerateContentResponse) (string, genai.FinishReason) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ""
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), cand.FinishReason
}

func (b *Backend) wrap(err error) error {
	be := &llm.BackendError{Backend: b.name, Err: err}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		be.Status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		be.Status = apiErrPtr.Code
	}
	return be
}
