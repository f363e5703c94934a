package deepseek

import (
	"coursegen/pkg/config"
	"coursegen/pkg/llm/openai"
	"coursegen/pkg/request"
)

const (
	deepseekBaseURL = "https://api.deepseek.com"
)

// NewBackend creates a DeepSeek backend using the generic OpenAI streaming client.
func NewBackend(cfg config.BackendConfig, rc *request.Client) (*openai.Backend, error) {
	return openai.NewBackend(cfg, deepseekBaseURL, rc)
}
