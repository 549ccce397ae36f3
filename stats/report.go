package stats

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/klauspost/compress/flate"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
)

// reportFields are the top level header fields a report entry needs.
var reportFields = []string{
	"from", "to", "cc", "date", "subject", "in-reply-to",
	"content-type", "message-id", "x-gmail-labels", "x-mailbox",
}

// seedMailboxes get the lowest label ids so common folders compare across
// reports.
var seedMailboxes = []string{
	"inbox", "sent", "sent messages", `"[Gmail]/Sent Mail"`, "trash",
	`"[Gmail]/Trash"`, "junk", "deleted", "deleted messages", "spam",
	`"[Gmail]/Spam"`, `"[Gmail]/All Mail"`, `"[Gmail]/Important"`, "drafts",
	`"[Gmail]/Drafts"`,
}

var (
	replySubjectRe = regexp.MustCompile(`(?i)^[ ]*(re|fw|fwd): (.*)$`)
	addressRe      = regexp.MustCompile(`([^ <@:\[]+@[^\] :<>"\r\n]+)`)
)

// ReportWriter writes an anonymized structure report of an archive: one
// entry per message with sizes, compressed sizes, hashed addressing fields
// and the part tree. Header values that identify people are replaced by
// hashes; sizes and structure are kept.
type ReportWriter struct {
	w          *bufio.Writer
	mailboxes  map[string]int
	messageIDs map[string]string
}

// NewReportWriter starts a report for an archive of archiveSize bytes.
func NewReportWriter(w io.Writer, archiveSize int64) (*ReportWriter, error) {
	rw := &ReportWriter{
		w:          bufio.NewWriter(w),
		mailboxes:  make(map[string]int),
		messageIDs: make(map[string]string),
	}
	for _, name := range seedMailboxes {
		rw.labelID(name)
	}
	if err := rw.line("archive size: %d\n", archiveSize); err != nil {
		return nil, err
	}
	return rw, nil
}

// Consume writes the entry of env. It fits runner.Runner.OnParsed.
func (rw *ReportWriter) Consume(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return rw.WriteEnvelope(env)
}

// WriteEnvelope writes one entry. A message whose entry cannot be completed
// ends with a "failed to process" line; only write errors are returned.
func (rw *ReportWriter) WriteEnvelope(env model.Envelope) error {
	if err := rw.line("--> start"); err != nil {
		return err
	}
	reason := env.Err
	if reason == nil {
		reason = rw.writeMessage(env.Message)
	}
	if reason != nil {
		if werr, ok := reason.(writeError); ok {
			return werr.err
		}
		return rw.line("<-- end failed to process: %v", reason)
	}
	return rw.line("<-- end")
}

// Flush writes buffered report lines.
func (rw *ReportWriter) Flush() error {
	return rw.w.Flush()
}

type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }

func (rw *ReportWriter) line(format string, args ...any) error {
	if _, err := fmt.Fprintf(rw.w, format+"\n", args...); err != nil {
		return writeError{err}
	}
	return nil
}

func (rw *ReportWriter) writeMessage(msg *parser.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	fields, err := msg.Email.Headers.Fields(reportFields...)
	if err != nil {
		return err
	}
	mailbox := fields["x-gmail-labels"]
	if mailbox == "" {
		mailbox = fields["x-mailbox"]
	}

	csize, err := CompressedSize(raw)
	if err != nil {
		return err
	}
	lines := []string{
		fmt.Sprintf("Full Message: %d %d", msg.Size(), csize),
		"Hdrs",
		"from: " + rw.addresses(fields["from"]),
		"to: " + rw.addresses(fields["to"]),
		"cc: " + rw.addresses(fields["cc"]),
		"date: " + fields["date"],
		"subject: " + subjectHash(fields["subject"]),
		"mailbox: " + rw.mailbox(mailbox),
		"messageid: " + rw.messageID(fields["message-id"]),
		"inreplyto: " + rw.inReplyTo(fields["in-reply-to"]),
		"Parts",
	}
	for _, l := range lines {
		if err := rw.line("%s", l); err != nil {
			return err
		}
	}
	return rw.writePart(0, 0, msg.Email)
}

func (rw *ReportWriter) writePart(id, part int, email *parser.Email) error {
	if err := rw.line("part: %d", part); err != nil {
		return err
	}

	headers, err := email.Headers.Bytes()
	if err != nil {
		return err
	}
	count, err := email.Headers.Count()
	if err != nil {
		return err
	}
	csize, err := CompressedSize(headers)
	if err != nil {
		return err
	}
	if err := rw.line("headers: %d %d %d", count, email.Headers.Size(), csize); err != nil {
		return err
	}
	if err := rw.line("contenttype: %s", email.Headers.ContentTypeString()); err != nil {
		return err
	}

	content := email.Content
	switch content.DataType() {
	case parser.DataTypeMessage:
		if err := rw.line("start rfc822: %d", id); err != nil {
			return err
		}
		if err := rw.writePart(id+1, 0, content.Parts()[0]); err != nil {
			return err
		}
		return rw.line("end rfc822: %d", id)
	case parser.DataTypeMultipart:
		if err := rw.line("start multipart %d %d:", id, len(content.Parts())); err != nil {
			return err
		}
		for i, child := range content.Parts() {
			if err := rw.writePart(id+1, i, child); err != nil {
				return err
			}
		}
		return rw.line("end multipart %d", id)
	}

	body, err := content.Bytes()
	if err != nil {
		return err
	}
	csize, err = CompressedSize(body)
	if err != nil {
		return err
	}
	if email.Headers.ContentType().IsBinary() {
		return rw.line("attachment: %s %d %d", Hash(body), content.Size(), csize)
	}
	return rw.line("body: %d %d", content.Size(), csize)
}

// addresses hashes every address of an address list header, in order.
func (rw *ReportWriter) addresses(value string) string {
	if value == "" {
		return ""
	}
	list, err := mail.ParseAddressList(value)
	if err != nil || len(list) == 0 {
		if m := addressRe.FindStringSubmatch(value); m != nil {
			return HashString(m[1])
		}
		return HashString(value)
	}
	hashes := make([]string, 0, len(list))
	for _, addr := range list {
		hashes = append(hashes, HashString(addr.Address))
	}
	return strings.Join(hashes, ",")
}

func (rw *ReportWriter) messageID(id string) string {
	if id == "" {
		return ""
	}
	if h, ok := rw.messageIDs[id]; ok {
		return h
	}
	h := HashString(id)
	rw.messageIDs[id] = h
	return h
}

func (rw *ReportWriter) inReplyTo(value string) string {
	ids := strings.Fields(value)
	hashes := make([]string, 0, len(ids))
	for _, id := range ids {
		h, ok := rw.messageIDs[id]
		if !ok {
			h = HashString(id)
		}
		hashes = append(hashes, h)
	}
	return strings.Join(hashes, ",")
}

// mailbox maps every level of a mailbox path to a stable numeric id.
func (rw *ReportWriter) mailbox(name string) string {
	name = strings.Trim(strings.ToLower(name), `"`)
	if name == "" {
		return ""
	}
	levels := strings.Split(name, "/")
	ids := make([]string, 0, len(levels))
	for _, level := range levels {
		ids = append(ids, rw.labelID(level))
	}
	return strings.Join(ids, "/")
}

func (rw *ReportWriter) labelID(name string) string {
	if name == "" {
		return ""
	}
	id, ok := rw.mailboxes[name]
	if !ok {
		id = len(rw.mailboxes) + 1
		rw.mailboxes[name] = id
	}
	return fmt.Sprint(id)
}

func subjectHash(subject string) string {
	if subject == "" {
		return ""
	}
	if m := replySubjectRe.FindStringSubmatch(subject); m != nil {
		return "re/fw: " + HashString(m[2])
	}
	return HashString(subject)
}

// Hash returns the base64 SHA-1 of b with "/" spelled "o057", so hashes can
// be used in file names.
func Hash(b []byte) string {
	sum := sha1.Sum(b)
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString(sum[:]), "/", "o057")
}

// HashString is Hash for text; the empty string hashes to "".
func HashString(s string) string {
	if s == "" {
		return ""
	}
	return Hash([]byte(s))
}

// CompressedSize returns the size of b after deflate compression.
func CompressedSize(b []byte) (int, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return 0, err
	}
	if _, err := fw.Write(b); err != nil {
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}
