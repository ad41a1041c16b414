package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
//
// Values are layered: built-in defaults, the YAML config file, RELAYBOT_*
// environment variables (plus the legacy TELEGRAM_TOKEN, ADMIN_USER_ID,
// GEMINI_API_KEY and PORT names), then runtime overrides.
type Config struct {
	Telegram   TelegramConfig             `mapstructure:"telegram" yaml:"telegram"`
	Bot        BotConfig                  `mapstructure:"bot" yaml:"bot"`
	Poll       PollConfig                 `mapstructure:"poll" yaml:"poll"`
	Supervisor SupervisorConfig           `mapstructure:"supervisor" yaml:"supervisor"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits" yaml:"rate_limits"`
	Store      StoreConfig                `mapstructure:"store" yaml:"store"`
	AI         AIConfig                   `mapstructure:"ai" yaml:"ai"`
	Server     ServerConfig               `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig              `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig              `mapstructure:"metrics" yaml:"metrics"`
}

// TelegramConfig contains Bot API client settings.
type TelegramConfig struct {
	Token              string        `mapstructure:"token" yaml:"token"`
	APIEndpoint        string        `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedUpdates     []string      `mapstructure:"allowed_updates" yaml:"allowed_updates"`
	DropPendingUpdates bool          `mapstructure:"drop_pending_updates" yaml:"drop_pending_updates"`
	SendRate           float64       `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst          int           `mapstructure:"send_burst" yaml:"send_burst"`
}

// BotConfig contains bot behavior settings.
type BotConfig struct {
	// OwnerID is the subject allowed to run admin commands and receive
	// /contact messages.
	OwnerID          string `mapstructure:"owner_id" yaml:"owner_id"`
	RegisterCommands bool   `mapstructure:"register_commands" yaml:"register_commands"`
}

// PollConfig tunes the long-poll loop.
type PollConfig struct {
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	BatchPause           time.Duration `mapstructure:"batch_pause" yaml:"batch_pause"`
	BackoffStep          time.Duration `mapstructure:"backoff_step" yaml:"backoff_step"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
	Workers              int           `mapstructure:"workers" yaml:"workers"`
}

// SupervisorConfig tunes restart behavior.
type SupervisorConfig struct {
	MaxRestarts    int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ConflictDelay  time.Duration `mapstructure:"conflict_delay" yaml:"conflict_delay"`
	TransientDelay time.Duration `mapstructure:"transient_delay" yaml:"transient_delay"`
	DefaultDelay   time.Duration `mapstructure:"default_delay" yaml:"default_delay"`
}

// RateLimitConfig is one category's sliding window. A limit of zero or
// less disables limiting for the category.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// StoreConfig selects the key value store driver.
//
// Path is a directory for the file driver and a database file for libsql.
type StoreConfig struct {
	Driver    string      `mapstructure:"driver" yaml:"driver"`
	Path      string      `mapstructure:"path" yaml:"path"`
	URL       string      `mapstructure:"url" yaml:"url"`
	AuthToken string      `mapstructure:"auth_token" yaml:"auth_token"`
	Redis     RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// AIConfig contains Gemini settings for /chat and free text.
type AIConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Model        string        `mapstructure:"model" yaml:"model"`
	SystemPrompt string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Breaker      BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around AI calls.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// ServerConfig contains status HTTP server configuration
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

var knownDrivers = map[string]bool{"file": true, "libsql": true, "redis": true}

// Validate checks ranges that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if c.Poll.MaxConsecutiveErrors < 1 {
		problems = append(problems, "poll.max_consecutive_errors must be at least 1")
	}
	if c.Poll.Workers < 0 {
		problems = append(problems, "poll.workers must not be negative")
	}
	if c.Supervisor.MaxRestarts < 0 {
		problems = append(problems, "supervisor.max_restarts must not be negative")
	}
	if c.Telegram.PollTimeout < 0 {
		problems = append(problems, "telegram.poll_timeout must not be negative")
	}
	for name, limit := range c.RateLimits {
		if limit.Limit > 0 && limit.Window <= 0 {
			problems = append(problems, fmt.Sprintf("rate_limits.%s.window must be positive", name))
		}
	}
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if driver != "" && !knownDrivers[driver] {
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of file, libsql, redis", c.Store.Driver))
	}
	if driver == "redis" && strings.TrimSpace(c.Store.Redis.Addr) == "" {
		problems = append(problems, "store.redis.addr is required for the redis driver")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireToken reports a missing Bot API token.
func (c *Config) RequireToken() error {
	if c == nil || strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (set RELAYBOT_TELEGRAM_TOKEN or TELEGRAM_TOKEN)")
	}
	return nil
}
