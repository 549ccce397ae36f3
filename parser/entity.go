package parser

import (
	"bytes"
	"fmt"
	"sync"
)

// Buffer is the append-only byte sink shared by every entity of a message,
// or of a whole archive when supplied with WithSharedBuffer.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Len returns the current write offset.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) write(parts ...string) {
	b.mu.Lock()
	for _, p := range parts {
		b.data = append(b.data, p...)
	}
	b.mu.Unlock()
}

func (b *Buffer) copyRange(start, size int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, size)
	copy(out, b.data[start:start+size])
	return out
}

// trailingTerminator returns the length of the line terminator ending
// data[start:end], 0 if there is none.
func (b *Buffer) trailingTerminator(start, end int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case end-start >= 2 && b.data[end-2] == '\r' && b.data[end-1] == '\n':
		return 2
	case end-start >= 1 && b.data[end-1] == '\n':
		return 1
	}
	return 0
}

// TrimLineTerminators drops up to n trailing line terminators, LF or CRLF,
// from b.
func TrimLineTerminators(b []byte, n int) []byte {
	for ; n > 0; n-- {
		switch {
		case bytes.HasSuffix(b, []byte("\r\n")):
			b = b[:len(b)-2]
		case bytes.HasSuffix(b, []byte("\n")):
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}

// Ranged is implemented by every entity carved out of a Buffer.
type Ranged interface {
	Start() int
	Size() int
	Lines() int
	Bytes() ([]byte, error)
	Text() (string, error)
}

// Entity is a byte range of a Buffer. It is written line by line while
// parsing and sealed by SetSize.
type Entity struct {
	buf    *Buffer
	eol    string
	start  int
	size   int
	lines  int
	sealed bool
	err    error
}

func newEntity(buf *Buffer, eol string) Entity {
	return Entity{buf: buf, eol: eol, start: buf.Len()}
}

// Start returns the offset of the entity in its buffer.
func (e *Entity) Start() int { return e.start }

// Size returns the length of the entity, 0 until it is sealed.
func (e *Entity) Size() int { return e.size }

// Lines returns the number of lines written while the entity was built,
// including delimiter lines that fall outside its final size.
func (e *Entity) Lines() int { return e.lines }

// Sealed reports whether SetSize has been called.
func (e *Entity) Sealed() bool { return e.sealed }

// Err returns the reason the entity failed to parse, if it did.
func (e *Entity) Err() error { return e.err }

// SetSize fixes the entity's size at the current end of the buffer. Only the
// first call has an effect.
func (e *Entity) SetSize() {
	if e.sealed {
		return
	}
	e.size = e.buf.Len() - e.start
	e.sealed = true
}

func (e *Entity) sealAt(end int) {
	if e.sealed {
		return
	}
	e.size = end - e.start
	e.sealed = true
}

// Bytes returns a copy of the entity's range.
func (e *Entity) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, e.err)
	}
	if !e.sealed {
		return nil, fmt.Errorf("%w: entity size is not set", ErrParseFailed)
	}
	return e.buf.copyRange(e.start, e.size), nil
}

// Text returns the entity's range as a string.
func (e *Entity) Text() (string, error) {
	b, err := e.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (e *Entity) writeLine(line string) {
	e.buf.write(line, e.eol)
	e.lines++
}

func (e *Entity) writeEOL() {
	e.buf.write(e.eol)
	e.lines++
}

// rewindLastCRLF drops the line terminator ending the sealed range. It is
// called when the line after it turned out to be a boundary delimiter, which
// owns the terminator preceding it.
func (e *Entity) rewindLastCRLF() {
	e.size -= e.buf.trailingTerminator(e.start, e.start+e.size)
}

func (e *Entity) fail(err error) error {
	e.err = err
	return err
}
