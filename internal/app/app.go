// Package app wires configuration into the running components shared by
// the server, the sync job and the admin CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/destination"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/pipeline"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/raaihank/case-sentinel/internal/safety"
	"github.com/raaihank/case-sentinel/internal/source"
	"go.uber.org/zap"
)

// restoreTimeout bounds the audit mirror read at startup
const restoreTimeout = 10 * time.Second

// Services holds every initialized component. Optional components are nil
// when their configuration section is disabled.
type Services struct {
	Config    *config.Config
	Logger    *logger.Logger
	Settings  *config.SettingsStore
	Registry  *privacy.Registry
	Audit     *audit.Store
	Mirror    *audit.RedisMirror
	Engine    *redaction.Engine
	Evaluator *safety.Evaluator

	Source    source.Source
	SQL       *source.SQLStore
	Publisher destination.Publisher
	Sync      *pipeline.Orchestrator
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// Initialize builds the core pipeline and whichever boundary components are
// configured. A malformed custom pattern is an error: running with a
// detection class silently disabled is never acceptable.
func Initialize(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	s := &Services{
		Config:   cfg,
		Logger:   log,
		Settings: config.NewSettingsStore(cfg.Settings()),
	}

	registry, err := privacy.NewRegistry(cfg.Redaction.CustomPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern registry: %w", err)
	}
	s.Registry = registry

	s.Audit = audit.NewStore(cfg.Audit.RedactionCap, cfg.Audit.RejectionCap, log)
	if cfg.Audit.Redis.Enabled {
		if err := s.attachMirror(ctx); err != nil {
			s.Cleanup()
			return nil, err
		}
	}

	detector := privacy.New(registry, log.WithComponent("privacy"))
	s.Engine = redaction.NewEngine(detector, s.Audit, log)
	s.Evaluator = safety.NewEvaluator(s.Engine, s.Audit, cfg.Safety, log)

	if err := s.openSource(); err != nil {
		s.Cleanup()
		return nil, err
	}

	if cfg.Destination.BaseURL != "" {
		s.Publisher = destination.NewClient(cfg.Destination, log)
	}

	if s.Source != nil && s.Publisher != nil {
		s.Sync = pipeline.NewOrchestrator(s.Source, s.Publisher, s.Evaluator, s.Settings, cfg.Sync, log)
	}

	log.Info("Services initialized",
		zap.Int("patterns", len(registry.Patterns())),
		zap.Bool("audit_mirror", s.Mirror != nil),
		zap.String("source", cfg.Source.Kind),
		zap.Bool("destination", s.Publisher != nil),
		zap.Bool("sync", s.Sync != nil),
	)

	return s, nil
}

// attachMirror connects the Redis mirror, restores the last persisted audit
// window into the in-memory store, then subscribes the mirror to new events.
func (s *Services) attachMirror(ctx context.Context) error {
	cfg := s.Config.Audit
	mirror, err := audit.NewRedisMirror(cfg.Redis, cfg.RedactionCap, cfg.RejectionCap, s.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect audit mirror: %w", err)
	}
	s.Mirror = mirror

	loadCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	redactions, rejections, err := mirror.Load(loadCtx)
	if err != nil {
		s.Logger.Warn("Failed to restore audit log from mirror, starting empty", zap.Error(err))
	} else {
		s.Audit.Restore(redactions, rejections)
	}

	s.Audit.Subscribe(mirror.Listen)
	return nil
}

// openSource opens the configured source store. SQL is also set for
// postgres so the sync job can import and manage the schema.
func (s *Services) openSource() error {
	cfg := s.Config.Source
	switch cfg.Kind {
	case "", "none":
		return nil
	case "postgres":
		store, err := source.NewSQLStore(cfg.Database, s.Logger)
		if err != nil {
			return fmt.Errorf("failed to open source database: %w", err)
		}
		s.SQL = store
		s.Source = store
	case "http":
		s.Source = source.NewHTTPStore(cfg.HTTP.BaseURL, cfg.HTTP.Token, cfg.HTTP.Timeout, s.Logger)
	default:
		return fmt.Errorf("unknown source kind: %s", cfg.Kind)
	}
	return nil
}

// Cleanup releases every open connection
func (s *Services) Cleanup() {
	if s.Source != nil {
		if err := s.Source.Close(); err != nil {
			s.Logger.Warn("Failed to close source", zap.Error(err))
		}
	}
	if s.Mirror != nil {
		if err := s.Mirror.Close(); err != nil {
			s.Logger.Warn("Failed to close audit mirror", zap.Error(err))
		}
	}
}

// ApplyConfig swaps the runtime settings after a configuration reload.
// Only settings take effect without a restart.
func (s *Services) ApplyConfig(cfg *config.Config) {
	if err := s.Settings.Set(cfg.Settings()); err != nil {
		s.Logger.Error("Rejected reloaded settings", zap.Error(err))
		return
	}
	s.Logger.Info("Runtime settings reloaded",
		zap.Int("relevancy_threshold", cfg.Redaction.RelevancyThreshold),
		zap.Int("high_sensitivity_threshold", cfg.Redaction.HighSensitivityThreshold),
	)
}
