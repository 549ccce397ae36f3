// Package inspect prints the decomposed structure of archive messages as a
// table, one row per message and one per nested part.
package inspect

import (
	"context"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"

	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/parser"
)

type Printer struct {
	table *tabby.Tabby
	rows  int
}

func NewPrinter(w io.Writer) *Printer {
	table := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 2, ' ', 0))
	table.AddHeader("MSG", "PART", "CONTENT TYPE", "KIND", "SIZE", "HEADERS")
	return &Printer{table: table}
}

// Consume adds the rows of env. It fits runner.Runner.OnParsed.
func (p *Printer) Consume(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Add(env)
	return nil
}

func (p *Printer) Add(env model.Envelope) {
	if env.Err != nil {
		p.line(env.Index, "-", "failed: "+env.Err.Error(), "", "", "")
		return
	}

	msg := env.Message
	p.line(env.Index, "", msg.Postmark.Sender(), "message", humanize.Bytes(uint64(msg.Size())), "")
	p.addEmail(env.Index, "1", 0, msg.Email)
}

func (p *Printer) addEmail(index int, path string, depth int, email *parser.Email) {
	content := email.Content
	kind := content.DataType().String()
	if content.DataType() == parser.DataTypeData && email.Headers.ContentType().IsBinary() {
		kind = "attachment"
	}
	fields := "?"
	if n, err := email.Headers.Count(); err == nil {
		fields = strconv.Itoa(n)
	}
	p.line(index, path, strings.Repeat("  ", depth)+email.Headers.ContentTypeString(), kind,
		humanize.Bytes(uint64(email.Size())), fields)

	for i, part := range content.Parts() {
		p.addEmail(index, path+"."+strconv.Itoa(i+1), depth+1, part)
	}
}

func (p *Printer) line(index int, cols ...any) {
	p.rows++
	p.table.AddLine(append([]any{index}, cols...)...)
}

// Rows returns the number of rows added.
func (p *Printer) Rows() int {
	return p.rows
}

// Print writes the table.
func (p *Printer) Print() {
	p.table.Print()
}
