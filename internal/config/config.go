// Package config loads the engine's YAML configuration. Values of the
// form ${VAR} are expanded from the environment before parsing, so
// secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Auth         AuthConfig         `yaml:"auth"`
	Security     SecurityConfig     `yaml:"security"`
	LLM          LLMConfig          `yaml:"llm"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend. Driver "memory" keeps
// everything in process; "postgres" uses DSN.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type SecurityConfig struct {
	// EncryptionKey is the base64-encoded 32-byte key for the credential
	// vault.
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	// ProviderOrder lists providers by priority; the first is the default.
	ProviderOrder  []string                     `yaml:"provider_order"`
	AttemptTimeout time.Duration                `yaml:"attempt_timeout"`
	Providers      map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type IntegrationsConfig struct {
	Google GoogleOAuthConfig `yaml:"google"`
	Linear LinearConfig      `yaml:"linear"`
}

// GoogleOAuthConfig is the OAuth client used to refresh stored Google
// tokens. The authorization redirect flow itself happens elsewhere; the
// engine only consumes refresh tokens.
type GoogleOAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type LinearConfig struct {
	// TeamID is the default team new tasks are created on.
	TeamID string `yaml:"team_id"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if len(cfg.LLM.ProviderOrder) == 0 {
		cfg.LLM.ProviderOrder = []string{"anthropic", "openai", "google"}
	}
	if cfg.LLM.AttemptTimeout == 0 {
		cfg.LLM.AttemptTimeout = 60 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("config: security.encryption_key is required")
	}
	for _, name := range c.LLM.ProviderOrder {
		switch name {
		case "anthropic", "openai", "google":
		default:
			return fmt.Errorf("config: unknown llm provider %q", name)
		}
	}
	return nil
}
