package parser

import (
	"errors"
	"io"
)

// DataType tells how a part's content is structured.
type DataType int

const (
	DataTypeData DataType = iota
	DataTypeMessage
	DataTypeMultipart
)

func (t DataType) String() string {
	switch t {
	case DataTypeMessage:
		return "message"
	case DataTypeMultipart:
		return "multipart"
	default:
		return "data"
	}
}

// Content is the body of a message or part.
type Content struct {
	Entity

	dataType DataType
	parts    []*Email
}

func newContent(r *run) *Content {
	return &Content{Entity: newEntity(r.buf, r.eol)}
}

// DataType returns the structure of the content.
func (c *Content) DataType() DataType { return c.dataType }

// Parts returns the child emails: none for data, exactly one for an
// embedded message, one per body part in document order for a multipart.
func (c *Content) Parts() []*Email { return c.parts }

// parse consumes the body of a part of the given type. boundary is the part's
// own boundary if it declared one, otherwise the one of the enclosing
// multipart, nil at the top level.
func (c *Content) parse(r *run, tp ContentType, subtype ContentSubtype, b *Boundary) (Result, error) {
	switch tp {
	case ContentTypeMultipart:
		c.dataType = DataTypeMultipart
		return c.parseMultipart(r, tp, subtype, b)
	case ContentTypeMessage:
		c.dataType = DataTypeMessage
		return c.parseMessage(r, tp, subtype, b)
	default:
		c.dataType = DataTypeData
		return c.parseData(r, b)
	}
}

func (c *Content) parseMultipart(r *run, tp ContentType, subtype ContentSubtype, b *Boundary) (Result, error) {
	for {
		line, err := r.src.ReadLine()
		if err != nil {
			return c.endOfStream(err)
		}
		if IsPostmark(line) {
			// Read into the next message, the close delimiter is missing.
			r.src.PushBack(line)
			c.SetSize()
			return ResultResynchronized, nil
		}

		if r.stack.IsOpen(line, b) {
			c.writeLine(line)
			res, err := c.parseParts(r, tp, subtype, b)
			if err != nil {
				return res, c.fail(err)
			}
			// A nested multipart ended, or an enclosing delimiter ended the
			// last part early: this multipart is still open.
			if res == ResultClosed && r.stack.NotClosed(b) {
				continue
			}
			c.SetSize()
			return res, nil
		}

		switch r.stack.IsClose(line, b, r.src) {
		case CloseSelf:
			c.writeLine(line)
			c.SetSize()
			return ResultClosed, nil
		case CloseAncestor:
			c.SetSize()
			return ResultClosed, nil
		}
		// Preamble, epilogue of a nested part, or the blank line after one.
		c.writeLine(line)
	}
}

// parseParts reads sibling parts following an open delimiter for as long as
// each one ends at the next open delimiter.
func (c *Content) parseParts(r *run, tp ContentType, subtype ContentSubtype, b *Boundary) (Result, error) {
	for {
		email := newEmail(r)
		c.parts = append(c.parts, email)
		res, err := email.parse(r, tp, subtype, b)
		if err != nil || res != ResultContinue {
			return res, err
		}
	}
}

func (c *Content) parseMessage(r *run, tp ContentType, subtype ContentSubtype, b *Boundary) (Result, error) {
	email := newEmail(r)
	c.parts = append(c.parts, email)
	res, err := email.parse(r, tp, subtype, b)
	if err != nil {
		return res, c.fail(err)
	}
	// The delimiter that ended the embedded message is not part of it.
	c.sealAt(email.Start() + email.Size())
	return res, nil
}

func (c *Content) parseData(r *run, b *Boundary) (Result, error) {
	for {
		line, err := r.src.ReadLine()
		if err != nil {
			return c.endOfStream(err)
		}
		if IsPostmark(line) {
			r.src.PushBack(line)
			c.SetSize()
			return ResultResynchronized, nil
		}
		if b == nil {
			c.writeLine(line)
			continue
		}

		if r.stack.IsOpen(line, b) {
			c.cutAtDelimiter()
			c.writeLine(line)
			return ResultContinue, nil
		}
		switch r.stack.IsClose(line, b, r.src) {
		case CloseSelf:
			c.cutAtDelimiter()
			c.writeLine(line)
			return ResultClosed, nil
		case CloseAncestor:
			c.cutAtDelimiter()
			return ResultClosed, nil
		}
		c.writeLine(line)
	}
}

// cutAtDelimiter seals the content before a delimiter line. The terminator
// of the last body line belongs to the delimiter.
func (c *Content) cutAtDelimiter() {
	c.SetSize()
	c.rewindLastCRLF()
}

func (c *Content) endOfStream(err error) (Result, error) {
	if !errors.Is(err, io.EOF) {
		return ResultFailed, c.fail(err)
	}
	c.SetSize()
	return ResultEndOfStream, nil
}
