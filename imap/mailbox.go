package imap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/dhcgn/email-proc/mbox"
	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
)

// IndexFileName names the file in the download directory holding the path
// of an unfinished archive.
const IndexFileName = "email-proc.index"

// gmailAggregates hold copies of messages also found under other labels.
// They are downloaded last, in this order.
var gmailAggregates = []string{
	"[Gmail]/Sent Mail",
	"[Gmail]/Trash",
	"[Gmail]/Important",
	"[Gmail]/All Mail",
}

var messageIDRe = regexp.MustCompile(`(?im)^message-id:[ \t]*([^ \t\r\n]+)`)

// OrderMailboxes sorts names. On a Gmail account the aggregate mailboxes are
// moved to the end and reported in aggregate.
func OrderMailboxes(names []string) (ordered []string, aggregate map[string]bool) {
	ordered = append([]string(nil), names...)
	sort.Strings(ordered)
	aggregate = make(map[string]bool)

	gmail := false
	for _, name := range ordered {
		if strings.HasPrefix(name, "[Gmail]/") {
			gmail = true
			break
		}
	}
	if !gmail {
		return ordered, aggregate
	}

	present := make(map[string]bool, len(ordered))
	for _, name := range ordered {
		present[name] = true
	}
	for _, name := range gmailAggregates {
		if present[name] {
			aggregate[name] = true
		}
	}

	out := ordered[:0]
	for _, name := range ordered {
		if !aggregate[name] {
			out = append(out, name)
		}
	}
	for _, name := range gmailAggregates {
		if aggregate[name] {
			out = append(out, name)
		}
	}
	return out, aggregate
}

// ResolveArchive returns the archive a download in dir writes to. An index
// file left by an unfinished download names it; otherwise a new timestamped
// archive is chosen and recorded.
func ResolveArchive(dir string, now time.Time) (path string, resumed bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create download directory: %w", err)
	}

	index := filepath.Join(dir, IndexFileName)
	data, err := os.ReadFile(index)
	switch {
	case err == nil:
		if path := strings.TrimSpace(string(data)); path != "" {
			return path, true, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", false, fmt.Errorf("read download index: %w", err)
	}

	path = filepath.Join(dir, "arch"+now.Format("20060102T150405")+".mbox")
	if err := os.WriteFile(index, []byte(path), 0o644); err != nil {
		return "", false, fmt.Errorf("write download index: %w", err)
	}
	return path, false, nil
}

// WriteMessage appends a fetched message to w, preceded by an envelope line
// and an X-Mailbox header. The envelope line is the message's own when it
// has one, otherwise it is made from its From and Date fields. It returns
// the number of message bytes written.
func WriteMessage(w *mbox.Writer, mailbox string, raw []byte, now time.Time) (int, error) {
	postmark, err := parser.MakePostmark(string(raw), now)
	if errors.Is(err, parser.ErrPostmarkExists) {
		postmark, raw = splitFirstLine(raw)
	} else if err != nil {
		return 0, err
	}

	header := fmt.Sprintf("X-Mailbox: %s\r\n", mailbox)
	body := make([]byte, 0, len(header)+len(raw))
	body = append(body, header...)
	body = append(body, raw...)
	n, err := w.WriteEntry(postmark, body)
	if err != nil {
		return 0, err
	}
	return n - len(header), nil
}

func splitFirstLine(raw []byte) (string, []byte) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		return strings.TrimRight(string(raw), "\r"), nil
	}
	return strings.TrimRight(string(raw[:i]), "\r"), raw[i+1:]
}

// UIDKey identifies a message of a mailbox across sessions.
func UIDKey(mailbox string, validity uint32, uid imapv2.UID) string {
	return fmt.Sprintf("uid:%s/%d/%d", mailbox, validity, uid)
}

func messageIDKey(id string) string {
	return "id:" + id
}

// messageID returns the Message-ID of the first kilobytes of raw.
func messageID(raw []byte) string {
	if len(raw) > 5000 {
		raw = raw[:5000]
	}
	m := messageIDRe.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	return model.NormalizeMessageID(string(m[1]))
}
