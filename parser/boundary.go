package parser

import (
	"regexp"
	"strings"
)

var boundaryRe = regexp.MustCompile(`(?i)boundary=(?:"([^"\r\n]+)"|([^;\s]+))`)

// Boundary is a multipart delimiter taken from a Content-Type boundary
// parameter.
type Boundary struct {
	Delimiter string
	Open      string
	Close     string
}

// NewBoundary builds the open and close delimiter lines for delimiter.
// Surrounding quotes and trailing spaces are removed.
func NewBoundary(delimiter string) *Boundary {
	delimiter = strings.TrimRight(strings.Trim(delimiter, `"`), " ")
	open := "--" + delimiter
	return &Boundary{
		Delimiter: delimiter,
		Open:      open,
		Close:     open + "--",
	}
}

// ParseBoundary extracts the boundary parameter from a header line, or
// returns nil if the line carries none.
func ParseBoundary(text string) *Boundary {
	m := boundaryRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value := m[1]
	if value == "" {
		value = m[2]
	}
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return NewBoundary(value)
}

// CloseKind is the outcome of matching a line against a boundary's close
// delimiter.
type CloseKind int

const (
	CloseNone CloseKind = iota
	// CloseSelf means the line is the boundary's own close delimiter.
	CloseSelf
	// CloseAncestor means the line delimits an enclosing multipart. The line
	// has been pushed back for the enclosing parser.
	CloseAncestor
)

func (k CloseKind) String() string {
	switch k {
	case CloseSelf:
		return "self"
	case CloseAncestor:
		return "ancestor"
	default:
		return "none"
	}
}

// BoundaryStack holds the boundaries of the multiparts currently open in a
// message, outermost first.
type BoundaryStack struct {
	items []*Boundary
}

// Push opens b.
func (s *BoundaryStack) Push(b *Boundary) {
	s.items = append(s.items, b)
}

// Reset drops every open boundary.
func (s *BoundaryStack) Reset() {
	s.items = s.items[:0]
}

// Len returns the number of open boundaries.
func (s *BoundaryStack) Len() int {
	return len(s.items)
}

// IsOpen reports whether line is b's open delimiter.
func (s *BoundaryStack) IsOpen(line string, b *Boundary) bool {
	return b != nil && strings.TrimRight(line, " ") == b.Open
}

// IsClose matches line against b's close delimiter and, failing that,
// against the delimiters of every boundary opened before b. A close of b
// removes b and every boundary opened after it. A delimiter of an enclosing
// boundary removes everything opened after that boundary and pushes the line
// back onto src, so a part missing its own close delimiter still ends.
func (s *BoundaryStack) IsClose(line string, b *Boundary, src *LineSource) CloseKind {
	if b == nil {
		return CloseNone
	}
	line = strings.TrimRight(line, " ")
	if line == b.Close {
		s.remove(b.Delimiter)
		return CloseSelf
	}

	self := s.lastIndex(b.Delimiter)
	for i := self - 1; i >= 0; i-- {
		outer := s.items[i]
		if line == outer.Open || line == outer.Close {
			s.items = s.items[:i+1]
			src.PushBack(line)
			return CloseAncestor
		}
	}
	return CloseNone
}

// NotClosed reports whether b is still open.
func (s *BoundaryStack) NotClosed(b *Boundary) bool {
	return b != nil && s.lastIndex(b.Delimiter) >= 0
}

// Delimits reports whether line is the open or close delimiter of any open
// boundary.
func (s *BoundaryStack) Delimits(line string) bool {
	line = strings.TrimRight(line, " ")
	for _, b := range s.items {
		if line == b.Open || line == b.Close {
			return true
		}
	}
	return false
}

func (s *BoundaryStack) lastIndex(delimiter string) int {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Delimiter == delimiter {
			return i
		}
	}
	return -1
}

func (s *BoundaryStack) remove(delimiter string) {
	if i := s.lastIndex(delimiter); i >= 0 {
		s.items = s.items[:i]
	}
}
