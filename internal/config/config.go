// Package config loads the toolplan configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/toolplan"
)

// Environment variables that override file values.
const (
	EnvBackendURL   = "TOOLPLAN_BACKEND_URL"
	EnvBackendToken = "TOOLPLAN_BACKEND_TOKEN"
	EnvLogLevel     = "TOOLPLAN_LOG_LEVEL"
	EnvHTTPAddr     = "TOOLPLAN_HTTP_ADDR"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Executor ExecutorConfig `yaml:"executor"`
	EventBus EventBusConfig `yaml:"event_bus"`
	Backend  BackendConfig  `yaml:"backend"`
	Sessions SessionConfig  `yaml:"sessions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Kind            string        `yaml:"kind"` // memory or sqlite
	Path            string        `yaml:"path"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type ExecutorConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

type EventBusConfig struct {
	BufferSize int `yaml:"buffer_size"`
	Workers    int `yaml:"workers"`
}

type BackendConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	// Settle re-drives a plan within the same turn after retryable failures.
	Settle      bool `yaml:"settle"`
	ResumeLimit int  `yaml:"resume_limit"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Store: StoreConfig{
			Kind:            StoreMemory,
			Path:            "toolplan.db",
			TTL:             time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Executor: ExecutorConfig{
			MaxRetries:  toolplan.DefaultMaxRetries,
			RetryDelay:  2 * time.Second,
			ExecTimeout: 5 * time.Minute,
		},
		EventBus: EventBusConfig{BufferSize: 100, Workers: 5},
		Backend:  BackendConfig{Timeout: 30 * time.Second},
		Sessions: SessionConfig{ResumeLimit: 4},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the
// result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, toolplan.NewConfigurationError("failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, toolplan.NewConfigurationError("failed to parse config file", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvBackendURL); ok {
		c.Backend.URL = v
	}
	if v, ok := os.LookupEnv(EnvBackendToken); ok {
		c.Backend.Token = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		c.HTTP.Addr = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Executor.MaxRetries < 0:
		return invalid("executor.max_retries must not be negative")
	case c.Executor.RetryDelay < 0:
		return invalid("executor.retry_delay must not be negative")
	case c.Executor.ExecTimeout <= 0:
		return invalid("executor.exec_timeout must be positive")
	case c.EventBus.BufferSize <= 0 || c.EventBus.Workers <= 0:
		return invalid("event_bus.buffer_size and event_bus.workers must be positive")
	case c.Store.TTL < 0:
		return invalid("store.ttl must not be negative")
	case c.Sessions.ResumeLimit <= 0:
		return invalid("sessions.resume_limit must be positive")
	}

	switch strings.ToLower(c.Store.Kind) {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite store")
		}
	default:
		return invalid(fmt.Sprintf("unknown store kind %q", c.Store.Kind))
	}
	return nil
}

func invalid(msg string) error {
	return toolplan.NewConfigurationError(msg, nil)
}
