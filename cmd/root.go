package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/filter"
)

// LoggerFactory builds the logger of a command from its configuration. The
// returned function releases log files.
type LoggerFactory func(cfg config.Config) (*slog.Logger, func() error, error)

// NewRootCmd returns the email-proc command tree.
func NewRootCmd(setupLogger LoggerFactory) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "email-proc",
		Short:         "Decompose, report on, export and download mbox email archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterPersistentFlags(root)

	fetch, err := newFetchCmd(setupLogger)
	if err != nil {
		return nil, err
	}
	root.AddCommand(
		newStatsCmd(setupLogger),
		newExportCmd(setupLogger),
		newInspectCmd(setupLogger),
		fetch,
	)
	return root, nil
}

// prepare loads the configuration of cmd and sets up its logger.
func prepare(cmd *cobra.Command, mode config.Mode, args []string, setupLogger LoggerFactory) (config.Config, *slog.Logger, func(), error) {
	cfg, err := config.LoadConfig(cmd, mode, args)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("setup logger: %w", err)
	}
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", "command", mode.String(), "archive", cfg.MboxPath, "config", cfg.ConfigFile)

	return cfg, logger, func() { _ = cleanup() }, nil
}

func logFilterHits(logger *slog.Logger, f *filter.Filter) {
	if f == nil {
		return
	}
	for pattern, hits := range f.Hits() {
		logger.Info("filter pattern matched", "pattern", pattern, "messages", hits)
	}
}
