package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/mbox"
	"github.com/dhcgn/email-proc/progress"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/stats"
)

const metricsNamespace = "emailproc"

func newStatsCmd(setupLogger LoggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [mbox file]",
		Short: "Write an anonymized structure report of an mbox archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, config.ModeStats, args, setupLogger)
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = runReport(cfg, logger)
			return err
		},
	}
	config.RegisterArchiveFlags(cmd)
	config.RegisterReportFlags(cmd)
	return cmd
}

// runReport writes the stats report of cfg.MboxPath into cfg.OutputDir and
// returns the report path.
func runReport(cfg config.Config, logger *slog.Logger) (string, error) {
	info, err := os.Stat(cfg.MboxPath)
	if err != nil {
		return "", fmt.Errorf("stat mbox: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	reportPath := filepath.Join(cfg.OutputDir, "stats-"+time.Now().Format("20060102T150405")+".out")
	file, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	report, err := stats.NewReportWriter(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return "", fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)
	attachProgress(cfg, r, logger)

	if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath, EOL: cfg.EOL()}, r, logger); err != nil {
		return "", fmt.Errorf("mbox.NewProducer: %w", err)
	}
	r.OnParsed("report", report.Consume)

	runErr := r.Start()
	if err := report.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush report: %w", err)
	}
	if runErr != nil {
		return "", runErr
	}

	logFilterHits(logger, r.Filter())
	if err := writeMetrics(cfg, reporter, cfg.MboxPath); err != nil {
		return "", err
	}
	logger.Info("report written", append([]any{"path", reportPath, "summary", reporter.Summary().String(), "duration", reporter.Duration()}, reporter.Summary().LogAttrs()...)...)
	return reportPath, nil
}

// attachProgress shows a progress bar sized by the archive's message count.
func attachProgress(cfg config.Config, r *runner.Runner, logger *slog.Logger) {
	enabled := !cfg.NoProgress && cfg.LogLevel == "info"
	if !enabled {
		return
	}
	total, err := mbox.CountMessages(cfg.MboxPath)
	if err != nil {
		logger.Debug("count messages failed, progress disabled", "err", err)
		return
	}
	progress.NewProgressReporter(r, progress.New(total, enabled), logger)
}

func writeMetrics(cfg config.Config, source stats.SummarySource, archive string) error {
	if cfg.MetricsFile == "" {
		return nil
	}
	collector := stats.NewMetricsCollector(source, metricsNamespace, filepath.Base(archive))
	if err := stats.WriteMetrics(cfg.MetricsFile, collector); err != nil {
		return err
	}
	return nil
}
