// Package parser decomposes an mbox stream into messages and each message
// into a tree of headers and content entities. Entities are byte ranges of a
// single growing buffer and are cut while reading, one line at a time, with
// malformed input (missing delimiters, missing envelope lines, truncated
// streams) tolerated where the stream can be resynchronized.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	ErrNoPostmark        = errors.New("postmark is not found")
	ErrMissingBoundary   = errors.New("multipart media part with no boundary")
	ErrInvalidHeaderLine = errors.New("invalid header line")
	ErrParseFailed       = errors.New("parse failed")
	ErrPostmarkExists    = errors.New("message already starts with a postmark")
)

// Result is the way a part ended.
type Result int

const (
	// ResultContinue means the part ended at its multipart's open delimiter;
	// another part follows.
	ResultContinue Result = iota
	// ResultClosed means the part ended normally: at a close delimiter, or at
	// the blank line ending a header block.
	ResultClosed
	// ResultEndOfStream means the stream ended, possibly mid structure.
	ResultEndOfStream
	// ResultResynchronized means the next envelope line was reached before
	// the structure completed. The line was pushed back.
	ResultResynchronized
	// ResultFailed means the part could not be parsed. The error says why.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultContinue:
		return "continue"
	case ResultClosed:
		return "closed"
	case ResultEndOfStream:
		return "eof"
	case ResultResynchronized:
		return "resynchronized"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// run carries the state of parsing one message.
type run struct {
	src   *LineSource
	buf   *Buffer
	eol   string
	stack *BoundaryStack

	// afterBlank is set when the postmark ended with blank lines.
	afterBlank bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithSharedBuffer makes every message parsed share buf instead of owning a
// fresh buffer. Entities of earlier messages stay readable.
func WithSharedBuffer(buf *Buffer) Option {
	return func(p *Parser) {
		p.shared = buf
	}
}

// WithLineTerminator sets the terminator written after every line, "\n" by
// default.
func WithLineTerminator(eol string) Option {
	return func(p *Parser) {
		if eol != "" {
			p.eol = eol
		}
	}
}

// WithLogger sets the logger used to report failed messages.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// Parser turns a LineSource into messages. It is not safe for concurrent
// use; use one Parser per archive.
type Parser struct {
	shared *Buffer
	eol    string
	logger *slog.Logger
	stack  BoundaryStack
}

// New returns a parser.
func New(opts ...Option) *Parser {
	p := &Parser{eol: "\n"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseMessage parses the next message of src. Lines up to the first
// envelope line are skipped. On failure the rest of the message is consumed
// so the next call starts at the following envelope line, and no message is
// returned.
func (p *Parser) ParseMessage(src *LineSource) (*Message, error) {
	p.stack.Reset()
	buf := p.shared
	if buf == nil {
		buf = NewBuffer()
	}
	r := &run{src: src, buf: buf, eol: p.eol, stack: &p.stack}

	m := &Message{Entity: newEntity(buf, p.eol)}
	m.Postmark = newPostmark(r)
	if err := m.Postmark.parse(r); err != nil {
		return nil, err
	}

	m.Email = newEmail(r)
	res, err := m.Email.parse(r, ContentTypeText, ContentSubtypePlain, nil)
	if err != nil || (res != ResultEndOfStream && res != ResultResynchronized) {
		m.drain(r)
	}
	if err != nil {
		return nil, err
	}

	m.result = res
	m.SetSize()
	return m, nil
}

// ParseMessages parses every message of src and hands each to sink, either
// the message or the error that prevented parsing it. Failed messages do not
// stop the loop; an error returned by sink, cancellation of ctx, or a read
// error of the underlying reader does.
func (p *Parser) ParseMessages(ctx context.Context, src *LineSource, sink func(*Message, error) error) error {
	for index := 0; !src.Exhausted(); index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.ParseMessage(src)
		if err != nil && p.logger != nil {
			p.logger.Debug("message parse failed", "index", index, "err", err)
		}
		if err := sink(msg, err); err != nil {
			return err
		}
	}

	if err := src.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read mbox: %w", err)
	}
	return nil
}
