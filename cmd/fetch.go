package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/imap"
	"github.com/dhcgn/email-proc/progress"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/stats"
)

func newFetchCmd(setupLogger LoggerFactory) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download IMAP mailboxes into an mbox archive, resuming an interrupted download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeFetch, args, setupLogger)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := runner.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}
			reporter := stats.NewReporter(r, logger)

			downloader, err := imap.NewDownloader(imap.Options{
				Host:               cfg.IMAPHost,
				Port:               cfg.IMAPPort,
				Username:           cfg.IMAPUser,
				Password:           cfg.IMAPPass,
				UseTLS:             cfg.UseTLS,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				Mailboxes:          cfg.Mailboxes,
				DownloadDir:        cfg.DownloadDir,
				Filter:             r.Filter(),
				ProgressInterval:   10 * time.Second,
			}, r, logger)
			if err != nil {
				return fmt.Errorf("imap.NewDownloader: %w", err)
			}

			if err := r.Start(); err != nil {
				return err
			}
			if cfg.LogLevel == "info" {
				progress.PrintSummary(reporter.Summary(), reporter.Duration())
			}
			logger.Info("archive downloaded", "path", downloader.ArchivePath(), "messages", downloader.Downloaded())

			if !cfg.WithStats {
				return writeMetrics(cfg, reporter, downloader.ArchivePath())
			}

			// The report parses the fresh archive; filters already applied.
			cfg.MboxPath = downloader.ArchivePath()
			cfg.LineTerminator = "lf"
			cfg.OutputDir = cfg.DownloadDir
			cfg.IncludeHeader, cfg.IncludeBody, cfg.ExcludeHeader, cfg.ExcludeBody = nil, nil, nil, nil
			_, err = runReport(cfg, logger)
			return err
		},
	}
	if err := config.RegisterIMAPFlags(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
