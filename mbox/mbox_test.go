package mbox

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/stats"
)

//go:embed testdata/archive.mbox
var archiveData []byte

const archivePath = "testdata/archive.mbox"

func streamAll(t *testing.T, data []byte) []model.Envelope {
	t.Helper()
	out := make(chan model.Envelope, 16)
	require.NoError(t, Stream(context.Background(), bytes.NewReader(data), "", nil, out))
	close(out)

	var envs []model.Envelope
	for env := range out {
		envs = append(envs, env)
	}
	return envs
}

func TestStream(t *testing.T) {
	envs := streamAll(t, archiveData)
	require.Len(t, envs, 4)

	assert.Equal(t, "a1@example.com", envs[0].ID)
	assert.NoError(t, envs[0].Err)

	assert.ErrorIs(t, envs[1].Err, parser.ErrInvalidHeaderLine)
	assert.Nil(t, envs[1].Message)
	assert.Equal(t, 1, envs[1].Index)

	require.NoError(t, envs[2].Err)
	content := envs[2].Message.Email.Content
	assert.Equal(t, parser.DataTypeMultipart, content.DataType())
	assert.Len(t, content.Parts(), 2)

	assert.Equal(t, "a1@example.com", envs[3].ID)
}

func TestStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, bytes.NewReader(archiveData), "", nil, make(chan model.Envelope))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReader_EmptyPath(t *testing.T) {
	_, err := NewReader(Options{Path: "  "}, nil)
	assert.Error(t, err)
}

func TestCountMessages(t *testing.T) {
	count, err := CountMessages(archivePath)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	_, err = CountMessages(filepath.Join(t.TempDir(), "missing.mbox"))
	assert.Error(t, err)
}

func TestExporter(t *testing.T) {
	out := filepath.Join(t.TempDir(), "export.mbox")

	r, err := runner.New(config.Config{}, nil)
	require.NoError(t, err)
	collector := stats.NewCollector()
	r.SubscribeStats("test", func(ctx context.Context, events <-chan stats.Event) error {
		collector.Run(ctx, events)
		return nil
	})
	_, err = NewProducer(Options{Path: archivePath}, r, nil)
	require.NoError(t, err)
	exporter, err := NewExporter(out, r, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.NoError(t, exporter.Close())
	assert.Equal(t, 2, exporter.Written())

	summary := collector.Snapshot()
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Duplicates)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "From alice@example.com Sat Dec  5 07:08:09 2015\n"))

	envs := streamAll(t, data)
	require.Len(t, envs, 2)
	var subjects []string
	for _, env := range envs {
		require.NoError(t, env.Err)
		subject, err := env.Message.Email.Headers.Get("subject")
		require.NoError(t, err)
		subjects = append(subjects, subject)
	}
	assert.Equal(t, []string{"hello", "report"}, subjects)
	assert.Len(t, envs[1].Message.Email.Content.Parts(), 2)
}

func TestWriter_WriteMessage(t *testing.T) {
	envs := streamAll(t, archiveData)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	n, err := w.WriteMessage(envs[0].Message)
	require.NoError(t, err)

	body, err := envs[0].Message.Body()
	require.NoError(t, err)
	assert.Equal(t, len(body)-1, n)
	assert.Equal(t, "From alice@example.com Sat Dec  5 07:08:09 2015\n"+string(body)+"\n", buf.String())
}

func exportAll(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, env := range streamAll(t, data) {
		require.NoError(t, env.Err)
		_, err := w.WriteMessage(env.Message)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func contents(t *testing.T, data []byte) (postmarks, bodies []string) {
	t.Helper()
	for _, env := range streamAll(t, data) {
		require.NoError(t, env.Err)
		body, err := env.Message.Email.Content.Text()
		require.NoError(t, err)
		postmarks = append(postmarks, env.Message.Postmark.Line())
		bodies = append(bodies, body)
	}
	return postmarks, bodies
}

func TestWriter_RoundTrip(t *testing.T) {
	input := []byte("From a@example.com Mon Jan  1 00:00:00 2001\n" +
		"Subject: one\n" +
		"\n" +
		"body one\n" +
		"From me, in the body\n" +
		"\n" +
		"From b@example.com Tue Feb  2 10:00:00 2010 remote from z\n" +
		"Subject: two\n" +
		"\n" +
		"body two\n")

	wantPostmarks, wantBodies := contents(t, input)
	require.Equal(t, []string{"body one\nFrom me, in the body\n\n", "body two\n"}, wantBodies)

	first := exportAll(t, input)
	assert.Contains(t, string(first), "\n>From me, in the body\n")
	postmarks, bodies := contents(t, first)
	assert.Equal(t, wantPostmarks, postmarks)
	assert.Equal(t, wantBodies[0], strings.Replace(bodies[0], ">From", "From", 1))
	// A body without a trailing blank line gains the separator once.
	assert.Equal(t, "body two\n\n", bodies[1])

	second := exportAll(t, first)
	assert.Equal(t, string(first), string(second))
}
