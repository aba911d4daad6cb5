// Package config resolves the CLI's runtime configuration: a YAML file
// under the state directory, overridden by the environment variables named
// in spec.md §6 — grounded on the teacher's internal/config/config.go
// (file-then-env-override-then-validate shape).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/happy-coder/happy/internal/model"
)

// Config is the CLI's resolved runtime configuration.
type Config struct {
	Dir       string `yaml:"-"` // resolved separately, never persisted
	ServerURL string `yaml:"server_url"`
	LogLevel  string `yaml:"log_level"`

	DefaultModel map[model.Flavor]string `yaml:"default_model"`

	// MasterSecretHex is only ever populated from HAPPY_MASTER_SECRET, and
	// only intended for test environments per spec.md §6 — production
	// deployments unlock the master secret from the credentials file.
	MasterSecretHex string `yaml:"-"`
}

const defaultServerURL = "wss://relay.happy.dev/ws"

// Load reads <dir>/config.yaml if present, applies environment overrides,
// and validates the result. A missing config file is not an error — every
// field has a usable default.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Dir:          dir,
		ServerURL:    defaultServerURL,
		LogLevel:     "info",
		DefaultModel: map[model.Flavor]string{},
	}

	path := dir + "/config.yaml"
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Dir = dir
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HAPPY_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.DefaultModel[model.FlavorClaude] = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.DefaultModel[model.FlavorCodex] = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.DefaultModel[model.FlavorGemini] = v
	}
	if v := os.Getenv("HAPPY_MASTER_SECRET"); v != "" {
		cfg.MasterSecretHex = v
	}
}

// Validate rejects an unusable configuration.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.Dir == "" {
		return fmt.Errorf("state dir is required")
	}
	return nil
}
