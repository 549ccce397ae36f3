package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
	"github.com/dhcgn/email-proc/stats"
)

const archive = "From a@example.com Mon Jan 1 00:00:00 2001\n" +
	"Message-ID: <one@example.com>\n" +
	"Subject: first\n" +
	"\n" +
	"hello\n" +
	"From a@example.com Mon Jan 1 00:00:00 2001\n" +
	"Subject: broken\n" +
	"not a header\n" +
	"\n" +
	"body\n" +
	"From b@example.com Tue Jan 2 00:00:00 2001\n" +
	"Message-ID: <one@example.com>\n" +
	"Subject: copy\n" +
	"\n" +
	"hello again\n" +
	"From c@example.com Wed Jan 3 00:00:00 2001\n" +
	"Message-ID: <two@example.com>\n" +
	"Subject: newsletter\n" +
	"\n" +
	"unsubscribe here\n"

func produce(r *Runner) {
	r.AddStage("producer", func(ctx context.Context) error {
		defer r.CloseMailbox()
		index := 0
		return parser.New().ParseMessages(ctx, parser.NewLineSource(strings.NewReader(archive)), func(msg *parser.Message, err error) error {
			env := model.NewEnvelope(index, msg, err)
			index++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.MailboxWriter() <- env:
				return nil
			}
		})
	})
}

type consumed struct {
	mu   sync.Mutex
	envs []model.Envelope
}

func (c *consumed) add(_ context.Context, env model.Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *consumed) subjects(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, env := range c.envs {
		if env.Err != nil {
			out = append(out, "error")
			continue
		}
		subject, err := env.Message.Email.Headers.Get("subject")
		require.NoError(t, err)
		out = append(out, subject)
	}
	return out
}

func collect(r *Runner) *stats.Collector {
	c := stats.NewCollector()
	r.SubscribeStats("test", func(ctx context.Context, events <-chan stats.Event) error {
		c.Run(ctx, events)
		return nil
	})
	return c
}

func TestRunner_Dedup(t *testing.T) {
	r, err := New(config.Config{}, nil)
	require.NoError(t, err)

	var got consumed
	first := collect(r)
	second := collect(r)
	produce(r)
	r.OnParsed("consumer", got.add)

	require.NoError(t, r.Start())

	assert.Equal(t, []string{"first", "error", "newsletter"}, got.subjects(t))
	assert.Equal(t, 1, got.envs[1].Index)

	summary := first.Snapshot()
	assert.Equal(t, 3, summary.Parsed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Duplicates)
	assert.ErrorIs(t, summary.LastError, parser.ErrInvalidHeaderLine)
	assert.Equal(t, summary, second.Snapshot(), "every subscriber sees every event")
	assert.Equal(t, 2, r.Tracker().Snapshot().Marked)
}

func TestRunner_KeepDuplicates(t *testing.T) {
	r, err := New(config.Config{KeepDuplicates: true}, nil)
	require.NoError(t, err)

	var got consumed
	produce(r)
	r.OnParsed("consumer", got.add)

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"first", "error", "copy", "newsletter"}, got.subjects(t))
}

func TestRunner_Filter(t *testing.T) {
	r, err := New(config.Config{ExcludeBody: []string{"unsubscribe"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, r.Filter())

	var got consumed
	c := collect(r)
	produce(r)
	r.OnParsed("consumer", got.add)

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"first", "error"}, got.subjects(t))
	assert.Equal(t, 1, c.Snapshot().Filtered)
	assert.Equal(t, 1, r.Filter().Hits()["unsubscribe"])
}

func TestRunner_FilterConflict(t *testing.T) {
	_, err := New(config.Config{IncludeHeader: []string{"a"}, ExcludeHeader: []string{"b"}}, nil)
	require.Error(t, err)
}

func TestRunner_ConsumerErrorCancels(t *testing.T) {
	r, err := New(config.Config{}, nil)
	require.NoError(t, err)

	boom := errors.New("disk full")
	produce(r)
	r.OnParsed("consumer", func(context.Context, model.Envelope) error { return boom })

	err = r.Start()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "consumer stage")
	assert.ErrorIs(t, r.Context().Err(), context.Canceled)
}
