package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-proc/parser"
)

func TestNewEnvelope(t *testing.T) {
	input := "From a Mon Jan 1 00:00:00 2000\nMessage-ID:  <abc@example.com> \n\nbody\n"
	msg, err := parser.New().ParseMessage(parser.NewLineSource(strings.NewReader(input)))
	require.NoError(t, err)

	env := NewEnvelope(3, msg, nil)
	assert.Equal(t, 3, env.Index)
	assert.Equal(t, "abc@example.com", env.ID)
	assert.NoError(t, env.Err)

	failed := NewEnvelope(4, nil, errors.New("broken"))
	assert.Empty(t, failed.ID)
	assert.Nil(t, failed.Message)
	assert.EqualError(t, failed.Err, "broken")
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "x@y", NormalizeMessageID(" <x@y> "))
	assert.Equal(t, "x@y", NormalizeMessageID("x@y"))
	assert.Equal(t, "", NormalizeMessageID("<>"))
}
