package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/email-proc/parser"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool

	mu   sync.Mutex
	hits map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
		hits:           make(map[string]int),
	}, nil
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if f.includeMode {
		return f.matchAny(f.includeHeader, headerText) || f.matchAny(f.includeBody, bodyText)
	}

	if f.excludeMode {
		if f.matchAny(f.excludeHeader, headerText) || f.matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

// AllowsRaw applies the filter to an undecomposed message.
func (f *Filter) AllowsRaw(raw []byte) bool {
	return f.Allows(SplitRawMessage(raw))
}

// AllowsMessage applies the filter to a decomposed message. Header patterns
// see the top level header block, body patterns the text of every data part
// that is not an attachment.
func (f *Filter) AllowsMessage(msg *parser.Message) (bool, error) {
	var header, body []byte
	if f.needHeaderText {
		b, err := msg.Email.Headers.Bytes()
		if err != nil {
			return false, err
		}
		header = b
	}
	if f.needBodyText {
		b, err := TextBody(msg.Email)
		if err != nil {
			return false, err
		}
		body = b
	}
	return f.Allows(header, body), nil
}

// TextBody concatenates the content of the non-attachment data parts of
// email, in document order.
func TextBody(email *parser.Email) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	email.Walk(func(e *parser.Email, _ int) {
		if err != nil || e.Content.DataType() != parser.DataTypeData || e.Headers.ContentType().IsBinary() {
			return
		}
		b, bErr := e.Content.Bytes()
		if bErr != nil {
			err = bErr
			return
		}
		buf.Write(b)
		buf.WriteByte('\n')
	})
	return buf.Bytes(), err
}

// Hits returns how often each pattern matched.
func (f *Filter) Hits() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.hits))
	for k, v := range f.hits {
		out[k] = v
	}
	return out
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re.String()]++
			f.mu.Unlock()
			return true
		}
	}
	return false
}
