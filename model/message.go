package model

import (
	"strings"

	"github.com/dhcgn/email-proc/parser"
)

// Envelope carries one iteration of an archive parse: the decomposed message,
// or the error that prevented decomposing it.
type Envelope struct {
	Index   int
	ID      string
	Message *parser.Message
	Err     error
}

// NewEnvelope wraps a parse result. The Message-ID is read from the top level
// header block.
func NewEnvelope(index int, msg *parser.Message, err error) Envelope {
	env := Envelope{Index: index, Message: msg, Err: err}
	if msg == nil || err != nil {
		return env
	}
	id, idErr := msg.Email.Headers.Get("message-id")
	if idErr != nil {
		env.Err = idErr
		env.Message = nil
		return env
	}
	env.ID = NormalizeMessageID(id)
	return env
}

// NormalizeMessageID strips the angle brackets and surrounding space of a
// Message-ID value.
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), " <>")
}
