package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// postmarkRe matches an mbox envelope line such as
// "From 1487928187900928398@xxx Fri Dec 19 02:21:37 2014".
var postmarkRe = regexp.MustCompile(`(?i)^(from [^ \r\n]+ (mon|tue|wed|thu|fri|sat|sun) (jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)) +[0-9]+`)

var (
	fromHeaderRe = regexp.MustCompile(`(?im)^from:[ \t]*(?:"[^"\r\n]*"|[^<\r\n]*?)[ \t]*<?([^"<:\s@]+@[^":\s>]+)>?`)
	dateHeaderRe = regexp.MustCompile(`(?im)^date: (mon|tue|wed|thu|fri|sat|sun), ([0-9]+) (jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec) ([0-9]+) ([0-9:]+)`)
)

const (
	defaultPostmarkSender = "daemon@local.com"
	postmarkScanLimit     = 5000
	postmarkDateLayout    = "Mon Jan 02 15:04:05 2006"
)

// IsPostmark reports whether line is an mbox envelope line.
func IsPostmark(line string) bool {
	return postmarkRe.MatchString(line)
}

// MakePostmark builds an envelope line for a message that arrived without
// one, from the From and Date fields found in its first few kilobytes. The
// sender defaults to daemon@local.com and the date to the day of now. It
// returns ErrPostmarkExists if message already starts with an envelope line.
func MakePostmark(message string, now time.Time) (string, error) {
	if IsPostmark(message) {
		return "", ErrPostmarkExists
	}
	if len(message) > postmarkScanLimit {
		message = message[:postmarkScanLimit]
	}

	from := defaultPostmarkSender
	if m := fromHeaderRe.FindStringSubmatch(message); m != nil {
		from = m[1]
	}

	y, mo, d := now.Date()
	date := time.Date(y, mo, d, 0, 0, 0, 0, now.Location()).Format(postmarkDateLayout)
	if m := dateHeaderRe.FindStringSubmatch(message); m != nil {
		date = fmt.Sprintf("%s %s %s %s %s", m[1], m[3], m[2], m[5], m[4])
	}

	var sb strings.Builder
	sb.WriteString("From ")
	sb.WriteString(from)
	sb.WriteString(" ")
	sb.WriteString(date)
	return sb.String(), nil
}
