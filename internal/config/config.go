package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "CASESENTINEL"

// secretKeys are bound to environment variables explicitly so they never
// need to live in a config file.
var secretKeys = []string{
	"server.admin_token",
	"source.database.database_url",
	"source.http.token",
	"destination.api_token",
	"audit.redis.url",
	"websocket.password",
	"redaction.aliases.protected_adult_real_name",
	"redaction.aliases.protected_minor_real_name",
}

// Loader reads configuration from file and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty configPath searches the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/case-sentinel/")
	v.AddConfigPath("$HOME/.case-sentinel/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, unmarshals and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Watch starts watching the configuration file for changes. The callback
// only sees configurations that passed validation.
func (l *Loader) Watch(log *zap.Logger, callback func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			log.Error("Ignoring invalid configuration change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}

		log.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	l.v.WatchConfig()
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if err := config.Settings().Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, p := range config.Redaction.CustomPatterns {
		if p.Name == "" || p.Placeholder == "" {
			return fmt.Errorf("custom pattern %d: name and placeholder are required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("custom pattern %q defined twice", p.Name)
		}
		seen[p.Name] = true
		if _, err := regexp.Compile(p.Expression); err != nil {
			return fmt.Errorf("custom pattern %q: %w", p.Name, err)
		}
	}

	if config.Safety.MinRetainedRatio <= 0 || config.Safety.MinRetainedRatio > 1 {
		return fmt.Errorf("invalid min_retained_ratio: %g (must be in (0, 1])", config.Safety.MinRetainedRatio)
	}

	if config.Safety.PreviewLength <= 0 {
		return fmt.Errorf("invalid preview_length: %d", config.Safety.PreviewLength)
	}

	if config.Audit.RedactionCap <= 0 || config.Audit.RejectionCap <= 0 {
		return fmt.Errorf("audit caps must be positive (redactions %d, rejections %d)",
			config.Audit.RedactionCap, config.Audit.RejectionCap)
	}

	switch config.Source.Kind {
	case "none":
	case "postgres":
		if config.Source.Database.DatabaseURL == "" {
			return fmt.Errorf("source.database.database_url is required for postgres source")
		}
	case "http":
		if config.Source.HTTP.BaseURL == "" {
			return fmt.Errorf("source.http.base_url is required for http source")
		}
	default:
		return fmt.Errorf("invalid source kind: %s (must be none, postgres, or http)", config.Source.Kind)
	}

	if config.Sync.Workers <= 0 || config.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync workers and batch_size must be positive")
	}

	return nil
}
