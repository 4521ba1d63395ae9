package main

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/case-sentinel/internal/app"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	logLevel   string
	server     string
	token      string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "sentinelctl",
		Short: "administer case-sentinel redaction and audit",
		Long: `
sentinelctl previews redaction and safety decisions locally using the same
configuration as the server, and inspects or clears the audit log through
the server's admin API or the Redis audit mirror.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level for local operations")
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "admin server base URL")
	flags.StringVar(&opts.token, "token", "", "admin bearer token (defaults to server.admin_token)")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "timeout for remote calls")

	root.AddCommand(
		newFilterCmd(opts),
		newEvaluateCmd(opts),
		newPatternsCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.token == "" {
		o.token = cfg.Server.AdminToken
	}
	return cfg, nil
}

func (o *globalOptions) newLogger() (*logger.Logger, error) {
	return logger.New(logger.Config{Level: o.logLevel, Format: "console"})
}

// localServices builds the redaction pipeline in-process. Boundary
// components are disabled so previews never touch the source, the
// destination or the shared audit mirror.
func (o *globalOptions) localServices(ctx context.Context) (*app.Services, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := o.newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	local := *cfg
	local.Audit.Redis.Enabled = false
	local.Source.Kind = "none"
	local.Destination.BaseURL = ""
	return app.Initialize(ctx, &local, log)
}
