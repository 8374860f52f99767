// Package config loads the runtime's YAML configuration, mirroring the
// teacher's internal/config package's structure (typed nested sections,
// os.ExpandEnv before parsing, sane defaults applied after decode).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime's top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	UserData UserDataConfig `yaml:"user_data"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig is the listen address the cmd/orchestra "serve" subcommand
// binds for its /metrics endpoint.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig configures the ExecutionStore.
type StorageConfig struct {
	// SQLitePath is the single-file embedded database path (spec.md §1).
	SQLitePath string `yaml:"sqlite_path"`
}

// LLMConfig configures the LLMClient provider.
type LLMConfig struct {
	Provider     string        `yaml:"provider"` // "anthropic" | "openai"
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// UserDataConfig points at the `user/<projectDir>/...` filesystem root
// (spec.md §6).
type UserDataConfig struct {
	RootDir string `yaml:"root_dir"`
	LogDir  string `yaml:"log_dir"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

// Default returns a Config with every field set to its fallback value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Storage: StorageConfig{
			SQLitePath: "orchestra.db",
		},
		LLM: LLMConfig{
			Provider:     "anthropic",
			DefaultModel: "claude-sonnet-4-20250514",
			MaxTokens:    4096,
			MaxRetries:   3,
			RetryDelay:   time.Second,
		},
		UserData: UserDataConfig{
			RootDir: "user",
			LogDir:  "logs",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty and present), expanding ${VAR} references
// before parsing, then layers environment-variable overrides on top, and
// finally fills in any still-zero fields from Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides lets deployment-time secrets (API keys especially)
// come from the environment without being written to disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ORCHESTRA_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("ORCHESTRA_STORAGE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ORCHESTRA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = defaults.LLM.DefaultModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = defaults.LLM.MaxRetries
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = defaults.LLM.RetryDelay
	}
	if cfg.UserData.RootDir == "" {
		cfg.UserData.RootDir = defaults.UserData.RootDir
	}
	if cfg.UserData.LogDir == "" {
		cfg.UserData.LogDir = defaults.UserData.LogDir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}
