package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/dhcgn/email-proc/stats"
)

// Bar tracks how many archive messages were decomposed.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	current int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar when enabled and total is known.
func New(total int, enabled bool) *Bar {
	bar := &Bar{
		total:   total,
		enabled: enabled && total > 0,
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Parsing messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in archive: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update advances the bar for every message the parser finished.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeParsed, stats.EventTypeFailed:
		b.current++
		if !b.enabled || b.pb == nil {
			return
		}
		if b.pb.Current < b.total {
			b.pb.Increment()
		}
		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Parsing: " + displayID)
		}
	case stats.EventTypeError:
		if b.enabled && evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Current returns the number of messages counted so far.
func (b *Bar) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Parsing complete!")
}

// Subscriber updates the bar from a stats stream and stops it when the
// stream ends.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter shows the bar while a run is going and a summary once it
// is done.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	PrintSummary(pr.collector.Snapshot(), time.Since(pr.started))
	return nil
}

// PrintSummary prints a run summary to the terminal.
func PrintSummary(summary stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Parsed: %d\n", summary.Parsed)
	pterm.Info.Printf("Failed: %d\n", summary.Failed)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	if summary.Written > 0 {
		pterm.Info.Printf("Written: %d\n", summary.Written)
	}
	if summary.Downloaded > 0 {
		pterm.Info.Printf("Downloaded: %d\n", summary.Downloaded)
	}
	pterm.Info.Printf("Message bytes: %s\n", humanize.Bytes(uint64(summary.Bytes)))
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
