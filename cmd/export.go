package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/mbox"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/stats"
)

func newExportCmd(setupLogger LoggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [mbox file]",
		Short: "Re-serialize the parsed, de-duplicated and filtered messages of an archive into a new mbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeExport, args, setupLogger)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := runner.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}
			reporter := stats.NewReporter(r, logger)
			attachProgress(cfg, r, logger)

			if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath, EOL: cfg.EOL()}, r, logger); err != nil {
				return fmt.Errorf("mbox.NewProducer: %w", err)
			}
			exporter, err := mbox.NewExporter(cfg.OutPath, r, logger)
			if err != nil {
				return err
			}

			err = errors.Join(r.Start(), exporter.Close())
			if err != nil {
				return err
			}
			logFilterHits(logger, r.Filter())
			logger.Info("export finished", append([]any{"out", cfg.OutPath}, reporter.Summary().LogAttrs()...)...)
			return nil
		},
	}
	config.RegisterArchiveFlags(cmd)
	config.RegisterExportFlags(cmd)
	return cmd
}
