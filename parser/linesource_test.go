package parser

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineSource_ReadLine(t *testing.T) {
	src := NewLineSource(strings.NewReader("one\r\ntwo\n\nlast"))

	var lines []string
	for {
		line, err := src.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"one", "two", "", "last"}, lines)
	assert.True(t, src.Exhausted())
	assert.ErrorIs(t, src.Err(), io.EOF)
}

func TestLineSource_PushBack(t *testing.T) {
	src := NewLineSource(strings.NewReader("c\n"))
	src.PushBack("a")
	src.PushBack("b")
	assert.False(t, src.Exhausted())

	for _, want := range []string{"a", "b", "c"} {
		line, err := src.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := src.ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	src.PushBack("again")
	assert.False(t, src.Exhausted())
	line, err := src.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "again", line)
	assert.True(t, src.Exhausted())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestLineSource_ReadError(t *testing.T) {
	src := NewLineSource(failingReader{})
	_, err := src.ReadLine()
	assert.EqualError(t, err, "disk gone")
	assert.True(t, src.Exhausted())

	err = New().ParseMessages(t.Context(), NewLineSource(failingReader{}), func(*Message, error) error { return nil })
	assert.ErrorContains(t, err, "read mbox: disk gone")
}
