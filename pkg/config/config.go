package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendOpenAI   = "openai"
	BackendGroq     = "groq"
	BackendDeepSeek = "deepseek"
	BackendGemini   = "gemini"
)

// Config holds the application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	History      HistoryConfig      `yaml:"history"`
	DB           DBConfig           `yaml:"db"`
	Server       ServerConfig       `yaml:"server"`
	Request      RequestConfig      `yaml:"request"`
	Keys         KeysConfig         `yaml:"keys"`
	Queue        QueueConfig        `yaml:"queue"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Backends     []BackendConfig    `yaml:"backends"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Guidelines   GuidelinesConfig   `yaml:"guidelines"`
	Progress     ProgressConfig     `yaml:"progress"`
	Chat         ChatConfig         `yaml:"chat"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// HistoryConfig controls the prompt/response history log.
type HistoryConfig struct {
	LLM HistorySettings `yaml:"llm"`
}

type HistorySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// Finished runs stay queryable for RunRetention, at most MaxFinishedRuns.
	RunRetention    Duration `yaml:"run_retention"`
	MaxFinishedRuns int      `yaml:"max_finished_runs"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// KeysConfig holds the Gemini key pool and its per-key rate limit.
type KeysConfig struct {
	Gemini []string `yaml:"gemini"`
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
	Block  Duration `yaml:"block"`
}

// QueueConfig holds pacing for the generation queues.
type QueueConfig struct {
	Interval     Duration `yaml:"interval"`
	ChatInterval Duration `yaml:"chat_interval"`
	MaxWait      Duration `yaml:"max_wait"`
}

// ExecutorConfig holds retry settings for backend calls.
type ExecutorConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	QuotaBlock Duration `yaml:"quota_block"`
}

// BackendConfig describes one generation backend. Order in the list is
// failover order.
type BackendConfig struct {
	Type        string  `yaml:"type"`
	Name        string  `yaml:"name,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Key         string  `yaml:"key,omitempty"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// Label is the name used in logs and metrics.
func (b BackendConfig) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Type
}

// OrchestratorConfig holds lesson retry and persistence settings.
type OrchestratorConfig struct {
	MaxLessonRetries int      `yaml:"max_lesson_retries"`
	LessonBaseDelay  Duration `yaml:"lesson_base_delay"`
	MaxDBRetries     int      `yaml:"max_db_retries"`
	DBBaseDelay      Duration `yaml:"db_base_delay"`
	GroundingChars   int      `yaml:"grounding_chars"`
}

// GuidelinesConfig points at an optional template directory that replaces
// the built-in guideline and prompt templates.
type GuidelinesConfig struct {
	Dir string `yaml:"dir"`
}

// ProgressConfig enables publishing progress events to Redis.
type ProgressConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ChatConfig bounds the per-session history kept for the chat assistant.
type ChatConfig struct {
	SessionTTL Duration `yaml:"session_ttl"`
	MaxTurns   int      `yaml:"max_turns"`
}

// TracingConfig enables span export to a file.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server:   LogSettings{Path: "logs/server.log", Level: "INFO"},
			Requests: LogSettings{Path: "logs/requests.log", Level: "INFO"},
		},
		History: HistoryConfig{
			LLM: HistorySettings{Enabled: false, Path: "logs/llm.log"},
		},
		DB: DBConfig{Path: "data/coursegen.db"},
		Server: ServerConfig{
			Address:         "127.0.0.1:8080",
			ShutdownTimeout: Duration(10 * time.Second),
			RunRetention:    Duration(time.Hour),
			MaxFinishedRuns: 100,
		},
		Request: RequestConfig{Timeout: Duration(300 * time.Second)},
		Keys: KeysConfig{
			Limit:  11,
			Window: Duration(time.Minute),
			Block:  Duration(time.Minute),
		},
		Queue: QueueConfig{
			Interval:     Duration(2 * time.Second),
			ChatInterval: Duration(5500 * time.Millisecond),
			MaxWait:      Duration(30 * time.Second),
		},
		Executor: ExecutorConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(time.Second),
			QuotaBlock: Duration(5 * time.Minute),
		},
		Backends: []BackendConfig{
			{Type: BackendGroq, Model: "llama-3.3-70b-versatile", MaxTokens: 8192, Temperature: 0.7},
			{Type: BackendGemini, Model: "gemini-2.5-flash", MaxTokens: 8192, Temperature: 0.7},
		},
		Orchestrator: OrchestratorConfig{
			MaxLessonRetries: 5,
			LessonBaseDelay:  Duration(2 * time.Second),
			MaxDBRetries:     5,
			DBBaseDelay:      Duration(time.Second),
			GroundingChars:   6000,
		},
		Progress: ProgressConfig{ChannelPrefix: "course_progress"},
		Chat:     ChatConfig{SessionTTL: Duration(30 * time.Minute), MaxTurns: 6},
		Tracing:  TracingConfig{Enabled: false, Path: "logs/traces.jsonl"},
	}
}

// Load reads the config at path, creating it with defaults when missing.
// Secrets missing from the file are taken from the environment but never
// written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if len(cfg.Keys.Gemini) == 0 {
		if keys := os.Getenv("GEMINI_API_KEYS"); keys != "" {
			for _, k := range strings.Split(keys, ",") {
				if k = strings.TrimSpace(k); k != "" {
					cfg.Keys.Gemini = append(cfg.Keys.Gemini, k)
				}
			}
		} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.Keys.Gemini = []string{key}
		}
	}

	envKeys := map[string]string{
		BackendOpenAI:   "OPENAI_API_KEY",
		BackendGroq:     "GROQ_API_KEY",
		BackendDeepSeek: "DEEPSEEK_API_KEY",
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.Key != "" {
			continue
		}
		if env, ok := envKeys[b.Type]; ok {
			b.Key = os.Getenv(env)
		}
	}

	if cfg.Progress.RedisAddr == "" {
		cfg.Progress.RedisAddr = os.Getenv("COURSEGEN_REDIS_ADDR")
	}
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}
	for i, b := range c.Backends {
		switch b.Type {
		case BackendOpenAI, BackendGroq, BackendDeepSeek, BackendGemini:
		default:
			return fmt.Errorf("backends[%d]: unknown type %q", i, b.Type)
		}
		if b.Model == "" {
			return fmt.Errorf("backends[%d] (%s): model is required", i, b.Label())
		}
		if b.Type == BackendOpenAI && b.BaseURL == "" {
			return fmt.Errorf("backends[%d] (%s): base_url is required", i, b.Label())
		}
	}
	if c.Executor.MaxRetries < 1 {
		return fmt.Errorf("executor.max_retries must be at least 1")
	}
	if c.Orchestrator.MaxLessonRetries < 1 || c.Orchestrator.MaxDBRetries < 1 {
		return fmt.Errorf("orchestrator retry counts must be at least 1")
	}
	return nil
}

// HasBackend reports whether a backend of the given type is configured.
func (c *Config) HasBackend(typ string) bool {
	for _, b := range c.Backends {
		if b.Type == typ {
			return true
		}
	}
	return false
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# coursegen configuration
# -----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day); a bare number means seconds
# API keys may be left empty and supplied via GEMINI_API_KEYS, GEMINI_API_KEY,
# OPENAI_API_KEY, GROQ_API_KEY or DEEPSEEK_API_KEY.

`)
	data = append(header, data...)

	reType := regexp.MustCompile(`(?m)^(\s+)- type:`)
	data = reType.ReplaceAll(data, []byte("${1}# Options: openai, groq, deepseek, gemini (tried in this order)\n${1}- type:"))

	reLevel := regexp.MustCompile(`(?m)^(\s+)level:`)
	data = reLevel.ReplaceAll(data, []byte("${1}# Options: DEBUG, INFO, WARN, ERROR\n${1}level:"))

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
