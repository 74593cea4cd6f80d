package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table wraps text/tabwriter with column-aligned output. Headers and a dash
// divider are written on the first Row, so an empty table prints nothing.
type Table struct {
	w       *tabwriter.Writer
	headers []string
	written bool
}

// NewTable creates a table writing to w.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:       tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers: headers,
	}
}

// Row writes one row.
func (t *Table) Row(values ...string) {
	t.ensureHeaders()
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

// Flush writes buffered output. If no rows were written, nothing is printed.
func (t *Table) Flush() error {
	if !t.written {
		return nil
	}
	return t.w.Flush()
}

func (t *Table) ensureHeaders() {
	if t.written {
		return
	}
	t.written = true
	fmt.Fprintln(t.w, strings.Join(t.headers, "\t"))
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(t.w, strings.Join(dividers, "\t"))
}
