package parser

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineSource reads an mbox stream line by line. Lines pushed back are
// replayed, oldest first, before reading resumes from the underlying reader.
type LineSource struct {
	r       *bufio.Reader
	pending []string
	err     error
}

// NewLineSource wraps r. Reads are buffered.
func NewLineSource(r io.Reader) *LineSource {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &LineSource{r: br}
}

// ReadLine returns the next line without its trailing "\n" or "\r\n".
// It returns io.EOF once the stream and the pushback queue are exhausted.
func (s *LineSource) ReadLine() (string, error) {
	if len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		return line, nil
	}
	if s.err != nil {
		return "", s.err
	}

	line, err := s.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
			return "", err
		}
		s.err = io.EOF
		if line == "" {
			return "", io.EOF
		}
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// PushBack queues line to be returned by the next ReadLine call.
func (s *LineSource) PushBack(line string) {
	s.pending = append(s.pending, line)
}

// Err returns the error that ended reading, nil while reading goes on and
// io.EOF at the end of the stream.
func (s *LineSource) Err() error {
	return s.err
}

// Exhausted reports whether no line is left to read.
func (s *LineSource) Exhausted() bool {
	if len(s.pending) > 0 {
		return false
	}
	if s.err != nil {
		return true
	}
	if _, err := s.r.Peek(1); err != nil {
		s.err = err
		return true
	}
	return false
}
