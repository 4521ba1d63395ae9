package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Redaction   RedactionConfig   `yaml:"redaction" mapstructure:"redaction"`
	Safety      SafetyConfig      `yaml:"safety" mapstructure:"safety"`
	Audit       AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Destination DestinationConfig `yaml:"destination" mapstructure:"destination"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	WebSocket   WebSocketConfig   `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	AdminToken   string        `yaml:"admin_token" mapstructure:"admin_token"`
	RateLimit    struct {
		Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
		RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
		Burst          int  `yaml:"burst" mapstructure:"burst"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// RedactionConfig holds the process-wide redaction settings and any
// administrator-defined patterns appended to the built-in registry.
type RedactionConfig struct {
	RelevancyThreshold       int             `yaml:"relevancy_threshold" mapstructure:"relevancy_threshold"`
	HighSensitivityThreshold int             `yaml:"high_sensitivity_threshold" mapstructure:"high_sensitivity_threshold"`
	Aliases                  AliasConfig     `yaml:"aliases" mapstructure:"aliases"`
	CustomPatterns           []PatternConfig `yaml:"custom_patterns" mapstructure:"custom_patterns"`
}

// AliasConfig maps the two protected real names to their public aliases
type AliasConfig struct {
	ProtectedAdultRealName string `yaml:"protected_adult_real_name" mapstructure:"protected_adult_real_name" json:"protected_adult_real_name"`
	ProtectedAdultAlias    string `yaml:"protected_adult_alias" mapstructure:"protected_adult_alias" json:"protected_adult_alias"`
	ProtectedMinorRealName string `yaml:"protected_minor_real_name" mapstructure:"protected_minor_real_name" json:"protected_minor_real_name"`
	ProtectedMinorAlias    string `yaml:"protected_minor_alias" mapstructure:"protected_minor_alias" json:"protected_minor_alias"`
}

// PatternConfig describes an extra detection pattern
type PatternConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Expression  string `yaml:"expression" mapstructure:"expression"`
	Placeholder string `yaml:"placeholder" mapstructure:"placeholder"`
	Description string `yaml:"description" mapstructure:"description"`
}

// SafetyConfig contains the public-safety gate configuration
type SafetyConfig struct {
	MinRetainedRatio float64  `yaml:"min_retained_ratio" mapstructure:"min_retained_ratio"`
	RedFlags         []string `yaml:"red_flags" mapstructure:"red_flags"`
	PreviewLength    int      `yaml:"preview_length" mapstructure:"preview_length"`
}

// AuditConfig contains audit log retention and mirroring configuration
type AuditConfig struct {
	RedactionCap int         `yaml:"redaction_cap" mapstructure:"redaction_cap"`
	RejectionCap int         `yaml:"rejection_cap" mapstructure:"rejection_cap"`
	Redis        RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig contains the audit mirror connection settings
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	URL            string `yaml:"url" mapstructure:"url"`
	KeyPrefix      string `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	QueueSize      int    `yaml:"queue_size" mapstructure:"queue_size"`
}

// SourceConfig selects and configures the case-management store
type SourceConfig struct {
	Kind     string         `yaml:"kind" mapstructure:"kind"` // postgres, http, or none
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	HTTP     struct {
		BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
		Token   string        `yaml:"token" mapstructure:"token"`
		Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	} `yaml:"http" mapstructure:"http"`
}

// DatabaseConfig contains SQL connection pool configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DestinationConfig contains the public content system configuration
type DestinationConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIToken          string        `yaml:"api_token" mapstructure:"api_token"`
	Collection        string        `yaml:"collection" mapstructure:"collection"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// SyncConfig contains orchestrator configuration
type SyncConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	ContentTypes []string      `yaml:"content_types" mapstructure:"content_types"`
}

// WebSocketConfig contains live audit feed configuration
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	Username       string   `yaml:"username" mapstructure:"username"`
	Password       string   `yaml:"password" mapstructure:"password"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events         struct {
		BroadcastRedactions  bool `yaml:"broadcast_redactions" mapstructure:"broadcast_redactions"`
		BroadcastRejections  bool `yaml:"broadcast_rejections" mapstructure:"broadcast_rejections"`
		BroadcastSync        bool `yaml:"broadcast_sync" mapstructure:"broadcast_sync"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Redaction: RedactionConfig{
			RelevancyThreshold:       700,
			HighSensitivityThreshold: 900,
			Aliases: AliasConfig{
				ProtectedAdultAlias: "Mother",
				ProtectedMinorAlias: "Ashe",
			},
		},
		Safety: SafetyConfig{
			MinRetainedRatio: 0.5,
			RedFlags:         DefaultRedFlags(),
			PreviewLength:    200,
		},
		Audit: AuditConfig{
			RedactionCap: 100,
			RejectionCap: 50,
			Redis: RedisConfig{
				Enabled:        false,
				URL:            "redis://localhost:6379/0",
				KeyPrefix:      "casesentinel",
				MaxConnections: 10,
				MinIdleConns:   1,
				QueueSize:      256,
			},
		},
		Source: SourceConfig{
			Kind: "none",
			Database: DatabaseConfig{
				Driver:          "postgres",
				Table:           "syncable_records",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Destination: DestinationConfig{
			Collection:        "case-updates",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Sync: SyncConfig{
			Interval:     time.Hour,
			BatchSize:    100,
			Workers:      4,
			ContentTypes: []string{"timeline_event", "court_hearing", "document_summary", "general"},
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
	}

	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerMin = 120
	cfg.Server.RateLimit.Burst = 20
	cfg.Logging.File.Path = "logs/case-sentinel.log"
	cfg.Source.HTTP.Timeout = 15 * time.Second
	cfg.WebSocket.Events.BroadcastRedactions = true
	cfg.WebSocket.Events.BroadcastRejections = true
	cfg.WebSocket.Events.BroadcastSync = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}

// DefaultRedFlags returns the deny-list of sensitive-topic keywords, in
// evaluation order.
func DefaultRedFlags() []string {
	return []string{
		"medical diagnosis",
		"therapy session",
		"school record",
		"psychiatric",
		"substance abuse",
		"sexual abuse",
		"home address",
		"phone number",
		"email address",
	}
}
