package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jpillora/backoff"
	"go.uber.org/atomic"

	"github.com/dhcgn/email-proc/filter"
	"github.com/dhcgn/email-proc/mbox"
	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/runner"
	"github.com/dhcgn/email-proc/state"
	"github.com/dhcgn/email-proc/stats"
)

var ErrLoginFailed = errors.New("imap login failed")

const (
	stateFileName = "email-proc.state"
	dialAttempts  = 4
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// Mailboxes limits the download; empty means every selectable mailbox.
	Mailboxes   []string
	DownloadDir string
	// Filter drops messages before they are written, nil keeps all.
	Filter *filter.Filter
	// ProgressInterval is the period of progress log lines, 0 for none.
	ProgressInterval time.Duration
}

// Downloader is the stage that copies IMAP mailboxes into one mbox archive.
// Each message is preceded by an envelope line and an X-Mailbox header naming
// its mailbox. An interrupted download resumes into the same archive.
type Downloader struct {
	opts    Options
	runner  *runner.Runner
	logger  *slog.Logger
	tracker *state.FileTracker
	archive string
	resumed bool

	downloaded atomic.Int64
	skipped    atomic.Int64
	bytes      atomic.Int64
}

func NewDownloader(opts Options, r *runner.Runner, logger *slog.Logger) (*Downloader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download directory is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	archive, resumed, err := ResolveArchive(opts.DownloadDir, time.Now())
	if err != nil {
		return nil, err
	}
	tracker, err := state.NewFileTracker(opts.DownloadDir, stateFileName, true)
	if err != nil {
		return nil, fmt.Errorf("download state: %w", err)
	}

	d := &Downloader{
		opts:    opts,
		runner:  r,
		logger:  logger,
		tracker: tracker,
		archive: archive,
		resumed: resumed,
	}
	r.AddStage("imap", d.run)
	return d, nil
}

// ArchivePath returns the archive the download writes to.
func (d *Downloader) ArchivePath() string {
	return d.archive
}

// Resumed reports whether the download continues an interrupted one.
func (d *Downloader) Resumed() bool {
	return d.resumed
}

// Downloaded returns the number of messages written so far.
func (d *Downloader) Downloaded() int64 {
	return d.downloaded.Load()
}

func (d *Downloader) run(ctx context.Context) (err error) {
	defer d.runner.CloseMailbox()
	defer func() {
		if cerr := d.tracker.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err == nil {
			err = d.finish()
		}
	}()

	client, cleanup, err := d.connect(ctx)
	if err != nil {
		d.runner.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Err: err})
		return err
	}
	defer cleanup()

	mailboxes, aggregate, err := d.mailboxes(client)
	if err != nil {
		return err
	}
	d.logger.Info("downloading mailboxes", "count", len(mailboxes), "archive", d.archive, "resume", d.resumed)

	file, err := os.OpenFile(d.archive, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()
	buf := bufio.NewWriterSize(file, 256*1024)
	w := mbox.NewWriter(buf)

	stopTicker := d.startTicker(ctx)
	defer stopTicker()

	for _, name := range mailboxes {
		if err := d.fetchMailbox(ctx, client, name, aggregate[name], w); err != nil {
			_ = buf.Flush()
			return err
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("flush archive: %w", err)
		}
		if err := d.tracker.Flush(); err != nil {
			return err
		}
	}

	d.logger.Info("download complete", "archive", d.archive, "messages", d.downloaded.Load(), "skipped", d.skipped.Load(), "size", humanize.Bytes(uint64(d.bytes.Load())))
	return nil
}

// finish drops the resume bookkeeping of a completed download.
func (d *Downloader) finish() error {
	for _, path := range []string{d.tracker.Path(), filepath.Join(d.opts.DownloadDir, IndexFileName)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

func (d *Downloader) mailboxes(client *imapclient.Client) ([]string, map[string]bool, error) {
	list, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("list mailboxes: %w", err)
	}

	wanted := make(map[string]bool, len(d.opts.Mailboxes))
	for _, name := range d.opts.Mailboxes {
		wanted[name] = true
	}

	names := make([]string, 0, len(list))
	for _, data := range list {
		if hasAttr(data.Attrs, imapv2.MailboxAttrNoSelect) {
			continue
		}
		if len(wanted) > 0 && !wanted[data.Mailbox] {
			continue
		}
		names = append(names, data.Mailbox)
	}
	ordered, aggregate := OrderMailboxes(names)
	return ordered, aggregate, nil
}

func hasAttr(attrs []imapv2.MailboxAttr, want imapv2.MailboxAttr) bool {
	for _, attr := range attrs {
		if attr == want {
			return true
		}
	}
	return false
}

func (d *Downloader) fetchMailbox(ctx context.Context, client *imapclient.Client, name string, aggregate bool, w *mbox.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	selected, err := client.Select(name, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}
	d.logger.Info("mailbox selected", "mailbox", name, "messages", selected.NumMessages)
	if selected.NumMessages == 0 {
		return nil
	}

	pending, err := d.pendingUIDs(client, name, selected.UIDValidity, aggregate)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var set imapv2.UIDSet
	set.AddNum(pending...)
	cmd := client.Fetch(set, &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{{Peek: true}},
	})

	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}

		var (
			uid imapv2.UID
			raw []byte
		)
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch item := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = item.UID
			case imapclient.FetchItemDataBodySection:
				if raw, err = io.ReadAll(item.Literal); err != nil {
					_ = cmd.Close()
					return fmt.Errorf("read message from %s: %w", name, err)
				}
			}
		}
		if err := d.store(w, name, selected.UIDValidity, uid, raw); err != nil {
			_ = cmd.Close()
			return err
		}
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	return nil
}

// pendingUIDs returns the UIDs of name not yet downloaded. Messages of an
// aggregate mailbox whose Message-ID was already written are skipped.
func (d *Downloader) pendingUIDs(client *imapclient.Client, name string, validity uint32, aggregate bool) ([]imapv2.UID, error) {
	all := imapv2.UIDSet{imapv2.UIDRange{Start: 1, Stop: 0}}
	msgs, err := client.Fetch(all, &imapv2.FetchOptions{UID: true, Envelope: true}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch envelopes of %s: %w", name, err)
	}

	pending := make([]imapv2.UID, 0, len(msgs))
	for _, msg := range msgs {
		key := UIDKey(name, validity, msg.UID)
		if d.tracker.Seen(key) {
			continue
		}
		var id string
		if msg.Envelope != nil {
			id = model.NormalizeMessageID(msg.Envelope.MessageID)
		}
		if aggregate && id != "" && d.tracker.Seen(messageIDKey(id)) {
			d.skipped.Inc()
			d.runner.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeDuplicate, MessageID: id, Detail: name})
			if err := d.tracker.Mark(key, id); err != nil {
				return nil, err
			}
			continue
		}
		pending = append(pending, msg.UID)
	}
	return pending, nil
}

func (d *Downloader) store(w *mbox.Writer, mailbox string, validity uint32, uid imapv2.UID, raw []byte) error {
	key := UIDKey(mailbox, validity, uid)
	id := messageID(raw)

	if d.opts.Filter != nil && !d.opts.Filter.AllowsRaw(raw) {
		d.skipped.Inc()
		d.runner.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFiltered, MessageID: id, Detail: mailbox})
		return d.tracker.Mark(key, id)
	}

	n, err := WriteMessage(w, mailbox, raw, time.Now())
	if err != nil {
		err = fmt.Errorf("write message %s/%d: %w", mailbox, uid, err)
		d.runner.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, MessageID: id, Err: err})
		return err
	}
	d.downloaded.Inc()
	d.bytes.Add(int64(n))
	d.runner.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeDownloaded, MessageID: id, Size: n, Detail: mailbox})
	d.logger.Debug("message downloaded", "mailbox", mailbox, "uid", uid, "messageID", id, "size", n)

	if err := d.tracker.Mark(key, id); err != nil {
		return err
	}
	if id != "" {
		return d.tracker.Mark(messageIDKey(id), key)
	}
	return nil
}

func (d *Downloader) startTicker(ctx context.Context) func() {
	if d.opts.ProgressInterval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(d.opts.ProgressInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				d.logger.Info("download progress",
					"messages", d.downloaded.Load(),
					"skipped", d.skipped.Load(),
					"size", humanize.Bytes(uint64(d.bytes.Load())))
			}
		}
	}()
	return func() { close(done) }
}

// connect dials with exponential backoff. A rejected login is not retried.
func (d *Downloader) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 1; ; attempt++ {
		client, cleanup, err := d.dial(ctx)
		if err == nil {
			return client, cleanup, nil
		}
		if errors.Is(err, ErrLoginFailed) || attempt == dialAttempts {
			return nil, nil, err
		}

		wait := b.Duration()
		d.logger.Warn("imap connection failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (d *Downloader) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	options := &imapclient.Options{}

	if d.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if d.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(d.opts.Username, d.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	d.logger.Debug("imap connection established", "address", address, "user", d.opts.Username, "tls", d.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				d.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			d.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}
