package mbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/stats"
)

// Writer re-serializes messages into an mbox stream. Each message keeps its
// original envelope line; body lines that look like envelope lines are
// escaped by go-mbox.
type Writer struct {
	w       io.Writer
	scratch bytes.Buffer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage appends msg and returns the number of body bytes written.
func (w *Writer) WriteMessage(msg *parser.Message) (int, error) {
	body, err := msg.Body()
	if err != nil {
		return 0, fmt.Errorf("message body: %w", err)
	}
	return w.WriteEntry(msg.Postmark.Line(), body)
}

// WriteEntry appends body under the envelope line postmark. go-mbox ends
// every message with two newlines, so up to two trailing line terminators
// of body are dropped first: a body ending in a blank line reads back
// unchanged, any other body gains one blank separator line.
func (w *Writer) WriteEntry(postmark string, body []byte) (int, error) {
	sender, t, _ := parser.SplitPostmark(postmark)

	// go-mbox formats the envelope date itself. The message is rendered
	// into scratch and its first line replaced by postmark.
	w.scratch.Reset()
	mw := mboxlib.NewWriter(&w.scratch)
	out, err := mw.CreateMessage(sender, t)
	if err != nil {
		return 0, fmt.Errorf("create message: %w", err)
	}
	body = parser.TrimLineTerminators(body, 2)
	if _, err := out.Write(body); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}

	rendered := w.scratch.Bytes()
	rendered = rendered[bytes.IndexByte(rendered, '\n')+1:]
	if _, err := io.WriteString(w.w, postmark+"\n"); err != nil {
		return 0, fmt.Errorf("write postmark: %w", err)
	}
	if _, err := w.w.Write(rendered); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}
	return len(body), nil
}

// Exporter is the consumer stage writing the envelopes that passed the
// bridge to a new archive. Failed messages are skipped.
type Exporter struct {
	runner *runner.Runner
	logger *slog.Logger
	path   string

	file    *os.File
	buf     *bufio.Writer
	writer  *Writer
	written int
}

func NewExporter(path string, r *runner.Runner, logger *slog.Logger) (*Exporter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export archive: %w", err)
	}
	buf := bufio.NewWriterSize(file, 64*1024)
	e := &Exporter{
		runner: r,
		logger: logger,
		path:   path,
		file:   file,
		buf:    buf,
		writer: NewWriter(buf),
	}
	r.OnParsed("export", e.consume)
	return e, nil
}

func (e *Exporter) consume(ctx context.Context, env model.Envelope) error {
	if env.Err != nil {
		if e.logger != nil {
			e.logger.Debug("skipping failed message", "index", env.Index, "err", env.Err)
		}
		return nil
	}

	n, err := e.writer.WriteMessage(env.Message)
	if err != nil {
		return fmt.Errorf("message %d: %w", env.Index, err)
	}
	e.written++
	e.runner.EmitEvent(stats.Event{
		Stage:     stats.StageExport,
		Type:      stats.EventTypeWritten,
		Index:     env.Index,
		MessageID: env.ID,
		Size:      n,
	})
	return nil
}

// Written returns the number of messages written so far.
func (e *Exporter) Written() int {
	return e.written
}

// Close finishes the archive. Call it once the runner has returned.
func (e *Exporter) Close() error {
	var firstErr error
	if err := e.buf.Flush(); err != nil {
		firstErr = fmt.Errorf("flush export archive: %w", err)
	}
	if err := e.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close export archive: %w", err)
	}
	if firstErr == nil && e.logger != nil {
		e.logger.Info("archive exported", "path", e.path, "messages", e.written)
	}
	return firstErr
}
