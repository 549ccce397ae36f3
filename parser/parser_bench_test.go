package parser

import (
	"context"
	"strings"
	"testing"
)

// BenchmarkParser_ParseMessages measures throughput over a mixed archive.
func BenchmarkParser_ParseMessages(b *testing.B) {
	archive := strings.Repeat(nestedMbox+archiveMbox+digestMbox, 50)
	b.SetBytes(int64(len(archive)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src := NewLineSource(strings.NewReader(archive))
		err := New().ParseMessages(context.Background(), src, func(*Message, error) error { return nil })
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkIsPostmark measures envelope line detection on body lines.
func BenchmarkIsPostmark(b *testing.B) {
	lines := strings.Split(archiveMbox, "\n")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, line := range lines {
			IsPostmark(line)
		}
	}
}
