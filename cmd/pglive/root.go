package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/config"
	"github.com/zoravur/pglive/internal/logutil"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	LogLevel string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pglive",
		Short: "pglive - live SQL queries over Postgres",
		Long: `pglive keeps the results of SQL queries up to date as rows change.

Statements written through pglive are propagated through a graph of
incremental operators and pushed to WebSocket subscribers.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))

	return cmd
}

// load reads configuration and installs the global logger.
func (o *RootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, nil, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	log, err := logutil.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}
