package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPostmark(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"From a Mon Jan 1 00:00:00 2000", true},
		{"From alice@example.com Mon Jan  1 00:00:00 2000", true},
		{"From 1487928187900928398@xxx Fri Dec 19 02:21:37 2014", true},
		{"from x fri dec 19 02:21:37 2014", true},
		{"From: alice@example.com", false},
		{">From a Mon Jan 1 00:00:00 2000", false},
		{"From a Monday Jan 1 00:00:00 2000", false},
		{"From a Mon Jan", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPostmark(tt.line))
		})
	}
}

func TestMakePostmark(t *testing.T) {
	now := time.Date(2024, time.March, 5, 13, 14, 15, 0, time.UTC)

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "from and date",
			message: "From: Alice <alice@example.com>\nDate: Fri, 19 Dec 2014 09:21:23 -0500\n\nbody\n",
			want:    "From alice@example.com Fri Dec 19 09:21:23 2014",
		},
		{
			name:    "quoted name",
			message: "Subject: x\nFrom: \"Dow, John\" <john.dow@cloud.net>\n\n",
			want:    "From john.dow@cloud.net Tue Mar 05 00:00:00 2024",
		},
		{
			name:    "bare address",
			message: "from: bob@example.com\n\n",
			want:    "From bob@example.com Tue Mar 05 00:00:00 2024",
		},
		{
			name:    "no headers",
			message: "just text\n",
			want:    "From daemon@local.com Tue Mar 05 00:00:00 2024",
		},
		{
			name:    "fields past scan limit",
			message: strings.Repeat("X-Pad: padding\n", 400) + "From: late@example.com\n\n",
			want:    "From daemon@local.com Tue Mar 05 00:00:00 2024",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MakePostmark(tt.message, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsPostmark(got))
		})
	}
}

func TestMakePostmark_Exists(t *testing.T) {
	_, err := MakePostmark("From a Mon Jan 1 00:00:00 2000\nSubject: x\n", time.Now())
	assert.ErrorIs(t, err, ErrPostmarkExists)
}

func TestPostmark_SenderAndTime(t *testing.T) {
	msg := parseOne(t, nestedMbox)
	assert.Equal(t, "1487928187900928398@xxx", msg.Postmark.Sender())

	got, ok := msg.Postmark.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2014, time.December, 19, 2, 21, 37, 0, time.UTC), got)

	msgs, _ := parseAll(t, archiveMbox)
	got, ok = msgs[0].Postmark.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), got)

	p := &Postmark{line: "From x Mon Jan 1 garbage"}
	_, ok = p.Time()
	assert.False(t, ok)
}

func TestSplitPostmark(t *testing.T) {
	line, err := MakePostmark("From: Alice <alice@example.com>\nDate: Sat, 5 Dec 2015 07:08:09 +0000\n\n", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "From alice@example.com Sat Dec 5 07:08:09 2015", line)

	sender, date, ok := SplitPostmark(line)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", sender)
	assert.Equal(t, time.Date(2015, time.December, 5, 7, 8, 9, 0, time.UTC), date)

	sender, _, ok = SplitPostmark("Subject: nope")
	assert.False(t, ok)
	assert.Empty(t, sender)
}
