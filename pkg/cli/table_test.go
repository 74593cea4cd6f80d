package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "KEY", "VALUE")
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty table printed %q", buf.String())
	}
}

func TestTable_Rows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "KEY", "OPER")
	tbl.Row("Ethernet0", "up")
	tbl.Row("PortChannel0001", "down")
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"KEY              OPER",
		"---              ----",
		"Ethernet0        up",
		"PortChannel0001  down",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
