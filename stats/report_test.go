package stats

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
)

const replyHeaders = "From: \"Carol\" <carol@example.com>\n" +
	"To: alice@example.com, Bob <bob@example.com>\n" +
	"Subject: Re: first\n" +
	"Date: Wed, 3 Mar 2002 09:08:07 +0000\n" +
	"Message-ID: <three@example.com>\n" +
	"In-Reply-To: <one@example.com>\n" +
	"X-Gmail-Labels: Inbox/Work\n" +
	"Content-Type: multipart/mixed; boundary=b\n"

const replyMessage = "From carol@example.com Wed Mar  3 09:08:07 2002\n" +
	replyHeaders +
	"\n" +
	"--b\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"hello\n" +
	"--b\n" +
	"Content-Type: image/png\n" +
	"\n" +
	"PNGDATA\n" +
	"--b--\n"

func envelope(t *testing.T, index int, input string) model.Envelope {
	t.Helper()
	msg, err := parser.New().ParseMessage(parser.NewLineSource(strings.NewReader(input)))
	require.NoError(t, err)
	return model.NewEnvelope(index, msg, nil)
}

var numberRe = regexp.MustCompile(`^[0-9]+$`)

// assertReport compares report lines; a "#" token stands for any number.
func assertReport(t *testing.T, want []string, got string) {
	t.Helper()
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, len(want), got)
	for i := range want {
		wantTokens := strings.Split(want[i], " ")
		gotTokens := strings.Split(lines[i], " ")
		require.Len(t, gotTokens, len(wantTokens), "line %d: %q", i, lines[i])
		for j, tok := range wantTokens {
			if tok == "#" {
				assert.Regexp(t, numberRe, gotTokens[j], "line %d: %q", i, lines[i])
				continue
			}
			assert.Equal(t, tok, gotTokens[j], "line %d: %q", i, lines[i])
		}
	}
}

func TestReportWriter_Message(t *testing.T) {
	var out bytes.Buffer
	rw, err := NewReportWriter(&out, 4242)
	require.NoError(t, err)

	env := envelope(t, 0, replyMessage)
	require.NoError(t, rw.Consume(context.Background(), env))
	require.NoError(t, rw.Flush())

	assertReport(t, []string{
		"archive size: 4242",
		"",
		"--> start",
		"Full Message: " + strconv.Itoa(len(replyMessage)) + " #",
		"Hdrs",
		"from: " + HashString("carol@example.com"),
		"to: " + HashString("alice@example.com") + "," + HashString("bob@example.com"),
		"cc: ",
		"date: Wed, 3 Mar 2002 09:08:07 +0000",
		"subject: re/fw: " + HashString("first"),
		"mailbox: 1/16",
		"messageid: " + HashString("<three@example.com>"),
		"inreplyto: " + HashString("<one@example.com>"),
		"Parts",
		"part: 0",
		"headers: 8 " + strconv.Itoa(len(replyHeaders)) + " #",
		"contenttype: multipart/mixed",
		"start multipart 0 2:",
		"part: 0",
		"headers: 1 25 #",
		"contenttype: text/plain",
		"body: 5 #",
		"part: 1",
		"headers: 1 24 #",
		"contenttype: image/png",
		"attachment: " + HashString("PNGDATA") + " 7 #",
		"end multipart 0",
		"<-- end",
	}, out.String())
}

func TestReportWriter_RFC822AndFailure(t *testing.T) {
	input := "From a Mon Jan 1 00:00:00 2000\n" +
		"Content-Type: message/rfc822\n" +
		"\n" +
		"Subject: inner\n" +
		"\n" +
		"inner body\n"

	var out bytes.Buffer
	rw, err := NewReportWriter(&out, 0)
	require.NoError(t, err)
	require.NoError(t, rw.WriteEnvelope(envelope(t, 0, input)))
	require.NoError(t, rw.WriteEnvelope(model.Envelope{Index: 1, Err: errors.New("multipart media part with no boundary")}))
	require.NoError(t, rw.Flush())

	assertReport(t, []string{
		"archive size: 0",
		"",
		"--> start",
		"Full Message: # #",
		"Hdrs",
		"from: ",
		"to: ",
		"cc: ",
		"date: ",
		"subject: ",
		"mailbox: ",
		"messageid: ",
		"inreplyto: ",
		"Parts",
		"part: 0",
		"headers: 1 29 #",
		"contenttype: message/rfc822",
		"start rfc822: 0",
		"part: 0",
		"headers: 1 15 #",
		"contenttype: text/plain",
		"body: 11 #",
		"end rfc822: 0",
		"<-- end",
		"--> start",
		"<-- end failed to process: multipart media part with no boundary",
	}, out.String())
}

func TestReportWriter_MailboxIDs(t *testing.T) {
	rw, err := NewReportWriter(&bytes.Buffer{}, 0)
	require.NoError(t, err)

	assert.Equal(t, "1", rw.mailbox("INBOX"))
	assert.Equal(t, "16/17", rw.mailbox(`"Archive/2014"`))
	assert.Equal(t, "16", rw.mailbox("archive"))
	assert.Equal(t, "", rw.mailbox(""))
}

func TestReportWriter_Addresses(t *testing.T) {
	rw, err := NewReportWriter(&bytes.Buffer{}, 0)
	require.NoError(t, err)

	assert.Equal(t, "", rw.addresses(""))
	assert.Equal(t, HashString("x@y.org"), rw.addresses("Someone <x@y.org>"))
	assert.Equal(t, HashString("odd@host"), rw.addresses("broken <<odd@host"))
}

func TestSubjectHash(t *testing.T) {
	assert.Equal(t, "", subjectHash(""))
	assert.Equal(t, "re/fw: "+HashString("plans"), subjectHash("FWD: plans"))
	assert.Equal(t, "re/fw: "+HashString("plans"), subjectHash("  re: plans"))
	assert.Equal(t, HashString("plans"), subjectHash("plans"))
}

func TestHash(t *testing.T) {
	assert.Equal(t, "qZk+NkcGgWq6PiVxeFDCbJzQ2J0=", HashString("abc"))
	assert.Equal(t, "hipR+LYpSksHKafFySmo0571nBo2WI=", HashString("m3"))
	assert.Equal(t, "", HashString(""))
}

func TestCompressedSize(t *testing.T) {
	repetitive := bytes.Repeat([]byte("abcdefgh"), 1024)
	n, err := CompressedSize(repetitive)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, len(repetitive)/10)
}
