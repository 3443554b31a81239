package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store backend selectors.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config is the process configuration. Values come from an optional
// YAML file overlaid with environment variables; env wins.
type Config struct {
	// ClientID overrides the built-in Qwen OAuth client id.
	ClientID string `yaml:"client_id" env:"QWEN_OAUTH_CLIENT_ID"`

	// BaseURL overrides the provider base URL. Meant for tests and
	// proxies; normally empty.
	BaseURL string `yaml:"base_url" env:"QWEN_OAUTH_BASE_URL"`

	// TokenPath overrides the primary credential file location.
	TokenPath string `yaml:"token_path" env:"QWEN_TOKEN_PATH"`

	// Store selects the persistence backend, "file" or "postgres".
	Store string `yaml:"store" env:"QWENAUTH_STORE"`

	// DatabaseDSN is required when Store is "postgres".
	DatabaseDSN string `yaml:"database_dsn" env:"QWENAUTH_DATABASE_DSN"`

	// ModelConfigID keys the token row in the postgres backend.
	ModelConfigID int64 `yaml:"model_config_id" env:"QWENAUTH_MODEL_CONFIG_ID"`

	// ListenAddr is the HTTP bind address for the serve command.
	ListenAddr string `yaml:"listen_addr" env:"QWENAUTH_LISTEN_ADDR"`

	// AllowedOrigins are CORS origins for the HTTP layer.
	AllowedOrigins []string `yaml:"allowed_origins" env:"QWENAUTH_ALLOWED_ORIGINS" envSeparator:","`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"QWENAUTH_LOG_LEVEL"`
}

// Defaults applied after the YAML and env layers so neither layer has
// to repeat them.
const (
	DefaultListenAddr    = ":8321"
	DefaultModelConfigID = 1
)

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and then applies environment variables on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file.
		case err != nil:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = StoreFile
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ModelConfigID == 0 {
		c.ModelConfigID = DefaultModelConfigID
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreFile, StorePostgres:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store, StoreFile, StorePostgres)
	}
	if c.Store == StorePostgres && c.DatabaseDSN == "" {
		return fmt.Errorf("store %q requires QWENAUTH_DATABASE_DSN", StorePostgres)
	}
	return nil
}
