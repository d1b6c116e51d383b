package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies the completion backend kind
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai" // any OpenAI-compatible chat endpoint
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRetries         int           `yaml:"max_retries"`          // Maximum retries on transient failures
	BaseDelay          time.Duration `yaml:"base_delay"`           // Base delay for exponential backoff
	MaxDelay           time.Duration `yaml:"max_delay"`            // Maximum delay between retries
	TokensPerMinute    int           `yaml:"tokens_per_minute"`    // Rate limit (tokens/minute)
	EnableRateLimiting bool          `yaml:"enable_rate_limiting"` // Enable proactive rate limiting
}

// HistoryConfig holds conversation-history bounds
type HistoryConfig struct {
	MaxMessages       int `yaml:"max_messages"`       // Truncate above this many messages (default: 200)
	SummarizeBytes    int `yaml:"summarize_bytes"`    // Summarize when serialized size exceeds this (default: 48 KiB)
	SummarizeMessages int `yaml:"summarize_messages"` // Summarize above this message count (default: 80)
	PreserveExchanges int `yaml:"preserve_exchanges"` // Recent exchanges kept verbatim through summarization (default: 2)
}

// LoopConfig holds agent-loop limits
type LoopConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`  // Iteration ceiling per query (default: 10)
	ToolTimeout    time.Duration `yaml:"tool_timeout"`    // Per-dispatch timeout for general tools (default: 60s)
	DoneTimeout    time.Duration `yaml:"done_timeout"`    // Timeout for the terminal done tool (default: 5s)
	RetryBackoff   time.Duration `yaml:"retry_backoff"`   // Pause after a transient provider failure (default: 2s)
	RequestTimeout time.Duration `yaml:"request_timeout"` // Overall timeout per provider round trip (default: 5m)
}

// Config holds the application configuration
type Config struct {
	APIKey      string          `yaml:"-"` // From environment only
	Provider    Provider        `yaml:"provider"`
	BaseURL     string          `yaml:"base_url"` // OpenAI-compatible endpoint, e.g. http://localhost:11434/v1
	Model       string          `yaml:"model"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	WorkDir     string          `yaml:"work_dir"` // Injected into the system prompt as environment context
	SessionDB   string          `yaml:"session_db"`
	LogLevel    string          `yaml:"log_level"` // debug, info, warn, error (default: info)
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	History     HistoryConfig   `yaml:"history"`
	Loop        LoopConfig      `yaml:"loop"`

	// Internal: where config was loaded from
	configPath string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderAnthropic,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   8192,
		Temperature: 0.7,
		SessionDB:   filepath.Join(".drover", "sessions.db"),
		LogLevel:    "info",
		RateLimit: RateLimitConfig{
			MaxRetries:         5,
			BaseDelay:          1 * time.Second,
			MaxDelay:           60 * time.Second,
			TokensPerMinute:    30000,
			EnableRateLimiting: true,
		},
		History: HistoryConfig{
			MaxMessages:       200,
			SummarizeBytes:    48 * 1024,
			SummarizeMessages: 80,
			PreserveExchanges: 2,
		},
		Loop: LoopConfig{
			MaxIterations:  10,
			ToolTimeout:    60 * time.Second,
			DoneTimeout:    5 * time.Second,
			RetryBackoff:   2 * time.Second,
			RequestTimeout: 5 * time.Minute,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config files in priority order
	configPaths := getConfigPaths()
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, fmt.Errorf("error loading config from %s: %w", path, err)
			}
			cfg.configPath = path
			break
		}
	}

	// If no config found, create default
	if cfg.configPath == "" {
		if err := cfg.createDefault(); err != nil {
			// Non-fatal: just use defaults
			fmt.Fprintf(os.Stderr, "Warning: could not create default config: %v\n", err)
		}
	}

	if cfg.WorkDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.WorkDir = cwd
		}
	}

	// API key from environment; only the Anthropic backend requires one
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.Provider == ProviderAnthropic && cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
	}
	if cfg.Provider == ProviderOpenAI && cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}

	return cfg, nil
}

// getConfigPaths returns config file paths in priority order
func getConfigPaths() []string {
	paths := []string{
		"drover.yaml",
		filepath.Join(".drover", "config.yaml"),
	}

	// Add user config directory
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "drover", "config.yaml"))
	}

	return paths
}

// loadFromFile loads config from a YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// createDefault creates a default config file
func (c *Config) createDefault() error {
	dir := ".drover"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(dir, "config.yaml")
	c.configPath = path

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	content := "# drover configuration\n\n" + string(data)
	return os.WriteFile(path, []byte(content), 0644)
}

// ConfigPath returns where the config was loaded from
func (c *Config) ConfigPath() string {
	return c.configPath
}
