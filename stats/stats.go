package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageParse  Stage = "parse"
	StageReport Stage = "report"
	StageExport Stage = "export"
	StageFetch  Stage = "fetch"
)

type EventType string

const (
	EventTypeParsed     EventType = "parsed"
	EventTypeFailed     EventType = "failed"
	EventTypeFiltered   EventType = "filtered"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeWritten    EventType = "written"
	EventTypeDownloaded EventType = "downloaded"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	Index     int
	MessageID string
	Size      int
	Err       error
	Detail    string
}

type Summary struct {
	Parsed     int
	Failed     int
	Filtered   int
	Duplicates int
	Written    int
	Downloaded int
	Errors     int
	Bytes      int64
	LastError  error
}

// Messages returns the number of archive iterations seen, failed ones
// included.
func (s Summary) Messages() int {
	return s.Parsed + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d messages, %d failed", s.Messages(), s.Failed)
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"parsed", s.Parsed,
		"failed", s.Failed,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"written", s.Written,
		"downloaded", s.Downloaded,
		"errors", s.Errors,
		"bytes", s.Bytes,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds one event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeParsed:
		c.summary.Parsed++
		c.summary.Bytes += int64(evt.Size)
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeDownloaded:
		c.summary.Downloaded++
		c.summary.Bytes += int64(evt.Size)
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Duration returns the time since the reporter was created.
func (r *Reporter) Duration() time.Duration {
	return time.Since(r.started)
}
