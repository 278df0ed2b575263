package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zen-systems/enginegate/pkg/agent"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr      string
	RulesPath       string
	WatchRules      bool
	SubscriptionDB  string
	History         HistoryConfig
	RateLimit       RateLimitConfig
	Retry           RetryConfig
	FallbackToMock  bool
	Responders      map[agent.ID]RouteTarget
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	RuleTable       *RuleTable
	ConfigDir       string
}

// FileConfig represents the structure of ~/.enginegate/config.yaml
type FileConfig struct {
	ListenAddr     string                   `yaml:"listen_addr,omitempty"`
	RulesPath      string                   `yaml:"rules_path,omitempty"`
	WatchRules     bool                     `yaml:"watch_rules,omitempty"`
	SubscriptionDB string                   `yaml:"subscription_db,omitempty"`
	History        HistoryConfig            `yaml:"history,omitempty"`
	RateLimit      RateLimitConfig          `yaml:"rate_limit,omitempty"`
	Retry          FileRetryConfig          `yaml:"retry,omitempty"`
	FallbackToMock *bool                    `yaml:"fallback_to_mock,omitempty"`
	Responders     map[agent.ID]RouteTarget `yaml:"responders,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// HistoryConfig bounds the per-session request history.
type HistoryConfig struct {
	Limit       int `yaml:"limit,omitempty"`
	MaxSessions int `yaml:"max_sessions,omitempty"`
}

// RateLimitConfig configures the HTTP token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// RetryConfig defines retry and backoff behavior for responder calls.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// FileRetryConfig is RetryConfig as written in config.yaml. MaxRetries is
// a pointer so an explicit 0 disables retries instead of taking the default.
type FileRetryConfig struct {
	MaxRetries    *int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int  `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int  `yaml:"max_backoff_ms,omitempty"`
}

// DefaultMaxRetries is used when config.yaml does not set max_retries.
const DefaultMaxRetries = 2

// Load reads configuration from the config directory and environment.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	return load("")
}

// LoadWithRulesFile loads config with a specific rule table file.
func LoadWithRulesFile(rulesPath string) (*Config, error) {
	if rulesPath == "" {
		return nil, fmt.Errorf("rules path is required")
	}
	return load(rulesPath)
}

func load(rulesOverride string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:      getEnvOrDefault("ENGINEGATE_ADDR", fileConfig.ListenAddr),
		RulesPath:       fileConfig.RulesPath,
		WatchRules:      fileConfig.WatchRules,
		SubscriptionDB:  getEnvOrDefault("ENGINEGATE_SUBSCRIPTION_DB", fileConfig.SubscriptionDB),
		History:         fileConfig.History,
		RateLimit:       fileConfig.RateLimit,
		FallbackToMock:  true,
		Responders:      fileConfig.Responders,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		ConfigDir:       configDir,
	}
	cfg.Retry = RetryConfig{
		MaxRetries:    DefaultMaxRetries,
		BaseBackoffMs: fileConfig.Retry.BaseBackoffMs,
		MaxBackoffMs:  fileConfig.Retry.MaxBackoffMs,
	}
	if fileConfig.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *fileConfig.Retry.MaxRetries
	}
	if fileConfig.FallbackToMock != nil {
		cfg.FallbackToMock = *fileConfig.FallbackToMock
	}
	if v := os.Getenv("ENGINEGATE_WATCH_RULES"); v != "" {
		if watch, err := strconv.ParseBool(v); err == nil {
			cfg.WatchRules = watch
		}
	}
	if rulesOverride != "" {
		cfg.RulesPath = rulesOverride
	}

	applyDefaults(cfg)

	switch {
	case cfg.RulesPath != "":
		table, err := LoadRuleTable(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule table from %s: %w", cfg.RulesPath, err)
		}
		cfg.RuleTable = table
	default:
		defaultPath := filepath.Join(configDir, "rules.yaml")
		if _, err := os.Stat(defaultPath); err == nil {
			table, err := LoadRuleTable(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load rule table: %w", err)
			}
			cfg.RulesPath = defaultPath
			cfg.RuleTable = table
		} else {
			cfg.RuleTable = DefaultRuleTable()
		}
	}

	return cfg, nil
}

// HasAdapter returns true if the adapter can be constructed.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// Target returns the responder target for an agent. Agents without an
// explicit target are served by the mock adapter.
func (c *Config) Target(id agent.ID) RouteTarget {
	if t, ok := c.Responders[id]; ok && t.Adapter != "" {
		return t
	}
	return RouteTarget{Adapter: "mock", Model: string(id)}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5000"
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 10
	}
	if cfg.History.MaxSessions <= 0 {
		cfg.History.MaxSessions = 1024
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.SubscriptionDB == "memory" {
		cfg.SubscriptionDB = ""
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("ENGINEGATE_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".enginegate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
