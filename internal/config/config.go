// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"5s\": %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Tools     Tools     `yaml:"tool_execution"`
	Routing   Routing   `yaml:"routing"`
	Retrieval Retrieval `yaml:"retrieval"`
	Generator Generator `yaml:"generator"`
	Audit     Audit     `yaml:"audit"`
	Logging   Logging   `yaml:"logging"`
}

type Server struct {
	Listen string `yaml:"listen"`
}

type Auth struct {
	SecretEnv  string `yaml:"secret_env"`
	SecretFile string `yaml:"secret_file"`
}

type RateLimit struct {
	Enabled           *bool  `yaml:"enabled"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
	PerIP             bool   `yaml:"per_ip"`
	Store             string `yaml:"store"` // memory | sqlite
	SQLitePath        string `yaml:"sqlite_path"`
}

type Tools struct {
	Root       string   `yaml:"root"`
	RunCommand bool     `yaml:"run_command"`
	Timeout    Duration `yaml:"timeout"`
}

type Routing struct {
	// Threshold below which free text defaults to retrieval. Zero
	// keeps the built-in default.
	Threshold float64 `yaml:"threshold"`
}

type Retrieval struct {
	URL       string   `yaml:"url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Limit     int      `yaml:"limit"`
	Timeout   Duration `yaml:"timeout"`
}

// RateLimitEnabled reports whether throttling is on. Absent means on.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimit.Enabled == nil || *c.RateLimit.Enabled
}

type Generator struct {
	Backend   string   `yaml:"backend"` // openai | bedrock | none
	URL       string   `yaml:"url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Model     string   `yaml:"model"`
	Region    string   `yaml:"region"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

type Audit struct {
	Path string `yaml:"path"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Server: Server{Listen: "127.0.0.1:8787"},
		Auth:   Auth{SecretEnv: "FACTGATE_SECRET"},
		RateLimit: RateLimit{
			RequestsPerMinute: 60,
			Burst:             10,
			PerIP:             true,
			Store:             "memory",
		},
		Tools: Tools{
			Root:    ".",
			Timeout: Duration(5 * time.Second),
		},
		Retrieval: Retrieval{Limit: 5, Timeout: Duration(10 * time.Second)},
		Generator: Generator{
			Backend:   "openai",
			URL:       "https://api.groq.com/openai/v1/chat/completions",
			APIKeyEnv: "FACTGATE_API_KEY",
			Model:     "llama-3.3-70b-versatile",
			MaxTokens: 800,
			Timeout:   Duration(30 * time.Second),
		},
		Audit:   Audit{Path: "factgate-audit.jsonl"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen must be set")
	}
	if c.Auth.SecretEnv == "" && c.Auth.SecretFile == "" {
		return fmt.Errorf("config: auth requires secret_env or secret_file")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("config: rate_limit.requests_per_minute must be positive")
	}
	switch c.RateLimit.Store {
	case "memory":
	case "sqlite":
		if c.RateLimit.SQLitePath == "" {
			return fmt.Errorf("config: rate_limit.sqlite_path required for sqlite store")
		}
	default:
		return fmt.Errorf("config: rate_limit.store must be memory or sqlite, got %q", c.RateLimit.Store)
	}
	if c.Tools.Root == "" {
		return fmt.Errorf("config: tool_execution.root must be set")
	}
	if c.Routing.Threshold < 0 || c.Routing.Threshold > 1 {
		return fmt.Errorf("config: routing.threshold must be in [0,1]")
	}
	switch c.Generator.Backend {
	case "openai", "bedrock", "none":
	default:
		return fmt.Errorf("config: generator.backend must be openai, bedrock or none, got %q", c.Generator.Backend)
	}
	if c.Audit.Path == "" {
		return fmt.Errorf("config: audit.path must be set")
	}
	return nil
}
