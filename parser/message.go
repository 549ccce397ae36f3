package parser

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
)

// Email is a header block followed by its content: a whole message or one
// body part of a multipart.
type Email struct {
	Entity

	Headers *Headers
	Content *Content
}

func newEmail(r *run) *Email {
	return &Email{Entity: newEntity(r.buf, r.eol)}
}

func (e *Email) parse(r *run, outerType ContentType, outerSubtype ContentSubtype, inherited *Boundary) (Result, error) {
	e.Headers = newHeaders(r, outerType, outerSubtype)
	if res, err := e.Headers.parse(r); err != nil {
		return res, e.fail(err)
	}

	b := e.Headers.Boundary()
	if b == nil {
		b = inherited
	}
	e.Content = newContent(r)
	res, err := e.Content.parse(r, e.Headers.ContentType(), e.Headers.ContentSubtype(), b)
	if err != nil {
		return res, e.fail(err)
	}
	e.sealAt(e.Content.Start() + e.Content.Size())
	return res, nil
}

// Walk calls fn for e and then for every nested email, depth first in
// document order. depth is 0 for e.
func (e *Email) Walk(fn func(email *Email, depth int)) {
	e.walk(fn, 0)
}

func (e *Email) walk(fn func(*Email, int), depth int) {
	fn(e, depth)
	if e.Content == nil {
		return
	}
	for _, part := range e.Content.Parts() {
		part.walk(fn, depth+1)
	}
}

// Postmark is the mbox envelope line opening a message, followed by any
// blank lines before the header block.
type Postmark struct {
	Entity

	line string
}

func newPostmark(r *run) *Postmark {
	return &Postmark{Entity: newEntity(r.buf, r.eol)}
}

// Line returns the envelope line.
func (p *Postmark) Line() string { return p.line }

var postmarkPartsRe = regexp.MustCompile(`(?i)^from ([^ \r\n]+) (.+)$`)

var postmarkLayouts = []string{
	time.ANSIC,
	"Mon Jan _2 15:04:05 -0700 2006",
	"Mon Jan _2 15:04:05 MST 2006",
	"Mon Jan _2 15:04 2006",
}

// Sender returns the address token of the envelope line.
func (p *Postmark) Sender() string {
	sender, _, _ := SplitPostmark(p.line)
	return sender
}

// Time returns the date of the envelope line. ok is false if it does not
// parse.
func (p *Postmark) Time() (t time.Time, ok bool) {
	_, t, ok = SplitPostmark(p.line)
	return t, ok
}

// SplitPostmark returns the sender and date of an envelope line. sender is
// empty if line is not an envelope line; ok is false if the date does not
// parse.
func SplitPostmark(line string) (sender string, t time.Time, ok bool) {
	m := postmarkPartsRe.FindStringSubmatch(line)
	if m == nil {
		return "", time.Time{}, false
	}
	date := strings.Join(strings.Fields(m[2]), " ")
	for _, layout := range postmarkLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return m[1], t, true
		}
	}
	return m[1], time.Time{}, false
}

// parse skips to the next envelope line. Lines before it are discarded.
func (p *Postmark) parse(r *run) error {
	for {
		line, err := r.src.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrNoPostmark
			}
			return err
		}
		if IsPostmark(line) {
			p.line = line
			p.writeLine(line)
			break
		}
	}

	for {
		line, err := r.src.ReadLine()
		if err != nil {
			break
		}
		if line != "" {
			r.src.PushBack(line)
			break
		}
		p.writeLine(line)
		r.afterBlank = true
	}
	p.SetSize()
	return nil
}

// Message is one message of an archive: its envelope line and the email
// following it.
type Message struct {
	Entity

	Postmark *Postmark
	Email    *Email

	result Result
}

// Result tells how the message ended: ResultClosed for a multipart closed by
// its delimiter, ResultEndOfStream at the end of the archive,
// ResultResynchronized when the next envelope line ended it.
func (m *Message) Result() Result { return m.result }

// Body returns the message without its postmark, as it would be handed to
// a mail store.
func (m *Message) Body() ([]byte, error) {
	b, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	return b[m.Postmark.Size():], nil
}

// drain consumes what is left of a message up to the next envelope line.
func (m *Message) drain(r *run) {
	for {
		line, err := r.src.ReadLine()
		if err != nil {
			return
		}
		if IsPostmark(line) {
			r.src.PushBack(line)
			return
		}
		m.writeLine(line)
	}
}
