package groq

import (
	"coursegen/pkg/config"
	"coursegen/pkg/llm/openai"
	"coursegen/pkg/request"
)

const (
	groqBaseURL = "https://api.groq.com/openai/v1"
)

// NewBackend creates a Groq backend using the generic OpenAI streaming client.
func NewBackend(cfg config.BackendConfig, rc *request.Client) (*openai.Backend, error) {
	return openai.NewBackend(cfg, groqBaseURL, rc)
}
