package inspect

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
)

const message = "From alice@example.com Sat Dec 5 07:08:09 2015\n" +
	"Content-Type: multipart/mixed; boundary=sep\n" +
	"\n" +
	"--sep\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"hello\n" +
	"--sep\n" +
	"Content-Type: message/rfc822\n" +
	"\n" +
	"Subject: inner\n" +
	"\n" +
	"inner body\n" +
	"--sep\n" +
	"Content-Type: image/png\n" +
	"\n" +
	"PNG\n" +
	"--sep--\n"

func TestPrinter(t *testing.T) {
	msg, err := parser.New().ParseMessage(parser.NewLineSource(strings.NewReader(message)))
	require.NoError(t, err)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	require.NoError(t, p.Consume(context.Background(), model.NewEnvelope(0, msg, nil)))
	p.Add(model.NewEnvelope(1, nil, errors.New("invalid header line")))
	p.Print()

	assert.Equal(t, 7, p.Rows())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 9, buf.String())
	assert.Regexp(t, `^MSG\s+PART\s+CONTENT TYPE\s+KIND\s+SIZE\s+HEADERS$`, lines[0])
	assert.Regexp(t, `^0\s+alice@example\.com\s+message\s+\d+ B`, lines[2])
	assert.Regexp(t, `^0\s+1\s+multipart/mixed\s+multipart\s+\d+ B\s+1$`, lines[3])
	assert.Regexp(t, `^0\s+1\.1\s+  text/plain\s+data\s`, lines[4])
	assert.Regexp(t, `^0\s+1\.2\s+  message/rfc822\s+message\s`, lines[5])
	assert.Regexp(t, `^0\s+1\.2\.1\s+    text/plain\s+data\s+\d+ B\s+1$`, lines[6])
	assert.Regexp(t, `^0\s+1\.3\s+  image/png\s+attachment\s`, lines[7])
	assert.Regexp(t, `^1\s+-\s+failed: invalid header line`, lines[8])
}

func TestPrinter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPrinter(&bytes.Buffer{})
	assert.ErrorIs(t, p.Consume(ctx, model.Envelope{}), context.Canceled)
	assert.Zero(t, p.Rows())
}
