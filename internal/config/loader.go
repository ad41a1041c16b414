// Package config provides centralized configuration management for relaybot.
// It layers built-in defaults, the YAML config file, environment variables
// and runtime overrides through viper, then decodes the result with
// mapstructure into a typed Config.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/relaybot/relaybot/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv lists environment names the bot accepted before the RELAYBOT_
// prefix existed.
var legacyEnv = map[string][]string{
	"telegram.token": {"TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"bot.owner_id":   {"ADMIN_USER_ID"},
	"ai.api_key":     {"GEMINI_API_KEY"},
	"server.port":    {"PORT"},
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"telegram": map[string]any{
			"token":                "",
			"api_endpoint":         "https://api.telegram.org/bot%s/%s",
			"poll_timeout":         30 * time.Second,
			"request_timeout":      45 * time.Second,
			"allowed_updates":      []string{"message", "callback_query"},
			"drop_pending_updates": true,
			"send_rate":            30.0,
			"send_burst":           5,
		},
		"bot": map[string]any{
			"owner_id":          "",
			"register_commands": true,
		},
		"poll": map[string]any{
			"max_consecutive_errors": 5,
			"batch_pause":            100 * time.Millisecond,
			"backoff_step":           2 * time.Second,
			"backoff_cap":            10 * time.Second,
			"workers":                0,
		},
		"supervisor": map[string]any{
			"max_restarts":    10,
			"settle_delay":    2 * time.Second,
			"conflict_delay":  15 * time.Second,
			"transient_delay": 5 * time.Second,
			"default_delay":   10 * time.Second,
		},
		"rate_limits": map[string]any{
			"messages":   map[string]any{"limit": 10, "window": time.Minute},
			"downloads":  map[string]any{"limit": 5, "window": time.Hour},
			"broadcasts": map[string]any{"limit": 5, "window": 24 * time.Hour},
		},
		"store": map[string]any{
			"driver":     "file",
			"path":       "",
			"url":        "",
			"auth_token": "",
			"redis": map[string]any{
				"addr":     "",
				"password": "",
				"db":       0,
				"prefix":   appid.BinaryName,
			},
		},
		"ai": map[string]any{
			"api_key":       "",
			"model":         "gemini-2.0-flash",
			"system_prompt": "You are a helpful assistant in a Telegram chat. Answer concisely.",
			"timeout":       30 * time.Second,
			"breaker": map[string]any{
				"max_failures": 5,
				"open_timeout": time.Minute,
			},
		},
		"server": map[string]any{
			"enabled":          true,
			"host":             "0.0.0.0",
			"port":             8080,
			"read_timeout":     30 * time.Second,
			"write_timeout":    30 * time.Second,
			"idle_timeout":     120 * time.Second,
			"shutdown_timeout": 10 * time.Second,
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "STRUCTURED",
		},
		"metrics": map[string]any{
			"enabled": false,
			"port":    9090,
		},
	}
}

// ApplyDefaults registers the built-in layer on v.
func ApplyDefaults(v *viper.Viper) {
	setDefaults(v, "", Defaults())
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, path, nested)
			continue
		}
		v.SetDefault(path, value)
	}
}

// BindEnv enables RELAYBOT_* overrides and the legacy variable names.
func BindEnv(v *viper.Viper) error {
	identity := appid.Get()
	v.SetEnvPrefix(identity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		args := append([]string{key, identity.EnvName(key)}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load decodes the global viper instance.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFrom(ctx, viper.GetViper(), runtimeOverrides...)
}

// LoadFrom decodes v with runtime overrides merged on top.
func LoadFrom(_ context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("viper instance is nil")
	}

	merged := v.AllSettings()
	for _, overrides := range runtimeOverrides {
		mergeMaps(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath(cfg.Store.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Get().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(appid.Get().ConfigName)
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.Get().ConfigName)
}

// DefaultStorePath returns the default location for the given store driver:
// a state directory for the file driver, a database file for libsql.
func DefaultStorePath(driver string) string {
	identity := appid.Get()
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "."
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "libsql":
		return filepath.Join(dataDir, identity.BinaryName+".db")
	case "redis":
		return ""
	default:
		return filepath.Join(dataDir, "state")
	}
}

func mergeMaps(dst map[string]any, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		if nested, ok := value.(map[string]any); ok {
			existing, ok := dst[key].(map[string]any)
			if !ok {
				existing = map[string]any{}
				dst[key] = existing
			}
			mergeMaps(existing, nested)
			continue
		}
		dst[key] = value
	}
}
