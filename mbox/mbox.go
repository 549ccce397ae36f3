package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
	"github.com/dhcgn/email-proc/runner"
)

type Options struct {
	Path string
	// EOL is written after every parsed line, "\n" when empty.
	EOL string
}

// Reader decomposes an archive into envelopes, one per message, failed
// messages included.
type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	return &fileReader{path: path, eol: opts.EOL, logger: logger}, nil
}

type fileReader struct {
	path   string
	eol    string
	logger *slog.Logger
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	if err := Stream(ctx, file, f.eol, f.logger, out); err != nil {
		if f.logger != nil {
			f.logger.Error("mbox stream error", "path", f.path, "err", err)
		}
		return err
	}
	return nil
}

// Stream parses r and sends an envelope per message to out. Parse failures
// travel in the envelopes; only read errors and cancellation are returned.
func Stream(ctx context.Context, r io.Reader, eol string, logger *slog.Logger, out chan<- model.Envelope) error {
	opts := []parser.Option{parser.WithLineTerminator(eol)}
	if logger != nil {
		opts = append(opts, parser.WithLogger(logger))
	}

	index := 0
	return parser.New(opts...).ParseMessages(ctx, parser.NewLineSource(r), func(msg *parser.Message, err error) error {
		env := model.NewEnvelope(index, msg, err)
		index++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- env:
			return nil
		}
	})
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// CountMessages counts the messages of an mbox file without decomposing
// them. It splits on envelope lines only, so the count is a progress total
// rather than the number of messages the parser yields.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return CountReader(file)
}

// CountReader is CountMessages for an open archive.
func CountReader(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		count++
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, err
		}
	}
}
