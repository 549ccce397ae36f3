package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/inspect"
	"github.com/dhcgn/email-proc/mbox"
	"github.com/dhcgn/email-proc/runner"
)

func newInspectCmd(setupLogger LoggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [mbox file]",
		Short: "Print the part tree of every message of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeInspect, args, setupLogger)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := runner.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}
			if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath, EOL: cfg.EOL()}, r, logger); err != nil {
				return fmt.Errorf("mbox.NewProducer: %w", err)
			}
			printer := inspect.NewPrinter(cmd.OutOrStdout())
			r.OnParsed("inspect", printer.Consume)

			if err := r.Start(); err != nil {
				return err
			}
			printer.Print()
			return nil
		},
	}
	config.RegisterArchiveFlags(cmd)
	return cmd
}
