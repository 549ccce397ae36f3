package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SummarySource is anything holding a run summary, such as a Reporter.
type SummarySource interface {
	Summary() Summary
}

// MetricsCollector exposes a run summary as Prometheus metrics. Values are
// read from the source on every collection.
type MetricsCollector struct {
	source SummarySource

	messages *prometheus.Desc
	bytes    *prometheus.Desc
	errors   *prometheus.Desc
}

// NewMetricsCollector creates a collector labelled with the archive or
// mailbox the run processed.
func NewMetricsCollector(source SummarySource, namespace, archive string) *MetricsCollector {
	constLabels := prometheus.Labels{"archive": archive}
	return &MetricsCollector{
		source: source,
		messages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_total"),
			"Messages handled by the run, by outcome",
			[]string{"outcome"},
			constLabels,
		),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "message_bytes_total"),
			"Bytes of the messages parsed or downloaded",
			nil,
			constLabels,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "errors_total"),
			"Stage errors",
			nil,
			constLabels,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.bytes
	ch <- c.errors
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Summary()
	outcomes := []struct {
		name  string
		value int
	}{
		{"parsed", s.Parsed},
		{"failed", s.Failed},
		{"filtered", s.Filtered},
		{"duplicate", s.Duplicates},
		{"written", s.Written},
		{"downloaded", s.Downloaded},
	}
	for _, o := range outcomes {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(o.value), o.name)
	}
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.Bytes))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
}

// WriteMetrics writes the collector's metrics to path in the text exposition
// format, for the node exporter textfile collector.
func WriteMetrics(path string, c prometheus.Collector) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
