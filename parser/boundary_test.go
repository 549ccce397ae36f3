package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "bare", text: "; boundary=42", want: "42"},
		{name: "quoted", text: `; boundary="simple boundary"`, want: "simple boundary"},
		{name: "case", text: "; BOUNDARY=abc; charset=utf-8", want: "abc"},
		{name: "continuation", text: "\tboundary=\"=_part\"", want: "=_part"},
		{name: "trailing space", text: `boundary="x  "`, want: "x"},
		{name: "missing", text: "; charset=utf-8", want: ""},
		{name: "empty", text: "boundary=", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ParseBoundary(tt.text)
			if tt.want == "" {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.Equal(t, tt.want, b.Delimiter)
			assert.Equal(t, "--"+tt.want, b.Open)
			assert.Equal(t, "--"+tt.want+"--", b.Close)
		})
	}
}

func TestBoundaryStack_IsClose(t *testing.T) {
	a, b, c := NewBoundary("a"), NewBoundary("b"), NewBoundary("c")

	tests := []struct {
		name    string
		line    string
		current *Boundary
		want    CloseKind
		left    int
		pushed  bool
	}{
		{name: "self", line: "--c--", current: c, want: CloseSelf, left: 2},
		{name: "self middle", line: "--b--", current: b, want: CloseSelf, left: 1},
		{name: "parent open", line: "--b", current: c, want: CloseAncestor, left: 2, pushed: true},
		{name: "grandparent close", line: "--a--", current: c, want: CloseAncestor, left: 1, pushed: true},
		{name: "own open", line: "--c", current: c, want: CloseNone, left: 3},
		{name: "text", line: "plain", current: c, want: CloseNone, left: 3},
		{name: "trailing spaces", line: "--c--  ", current: c, want: CloseSelf, left: 2},
		{name: "nil", line: "--a--", current: nil, want: CloseNone, left: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s BoundaryStack
			s.Push(a)
			s.Push(b)
			s.Push(c)
			src := NewLineSource(strings.NewReader(""))

			assert.Equal(t, tt.want, s.IsClose(tt.line, tt.current, src))
			assert.Equal(t, tt.left, s.Len())

			line, err := src.ReadLine()
			if tt.pushed {
				require.NoError(t, err)
				assert.Equal(t, tt.line, line)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBoundaryStack_AncestorKeepsAncestor(t *testing.T) {
	var s BoundaryStack
	outer, inner := NewBoundary("outer"), NewBoundary("inner")
	s.Push(outer)
	s.Push(inner)

	src := NewLineSource(strings.NewReader(""))
	require.Equal(t, CloseAncestor, s.IsClose("--outer", inner, src))
	assert.True(t, s.NotClosed(outer))
	assert.False(t, s.NotClosed(inner))
	assert.True(t, s.IsOpen("--outer", outer))
}

func TestBoundaryStack_Delimits(t *testing.T) {
	var s BoundaryStack
	s.Push(NewBoundary("a"))

	assert.True(t, s.Delimits("--a"))
	assert.True(t, s.Delimits("--a--"))
	assert.False(t, s.Delimits("--b"))
	assert.False(t, s.Delimits("a"))

	s.Reset()
	assert.False(t, s.Delimits("--a"))
	assert.Equal(t, 0, s.Len())
}

func TestCloseKind_String(t *testing.T) {
	assert.Equal(t, "none", CloseNone.String())
	assert.Equal(t, "self", CloseSelf.String())
	assert.Equal(t, "ancestor", CloseAncestor.String())
}
