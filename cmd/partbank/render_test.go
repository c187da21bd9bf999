package main

import (
	"strings"
	"testing"
)

func TestRenderStatusLine(t *testing.T) {
	plain := renderStatusLine("Running", statusOK, "pid 99", false)
	if !strings.Contains(plain, "Running:") || !strings.Contains(plain, "[OK] pid 99") {
		t.Fatalf("plain = %q", plain)
	}
	if strings.Contains(plain, "\x1b[") {
		t.Fatal("plain rendering must not contain ANSI codes")
	}

	colored := renderStatusLine("Running", statusError, "stopped", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("colored = %q", colored)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Name", "Status"},
		[][]string{{"1", "flute.pdf", "complete"}, {"2"}},
		[]columnAlignment{alignRight, alignLeft, alignLeft},
	)
	if !strings.Contains(out, "flute.pdf") || !strings.Contains(out, "ID") {
		t.Fatalf("table = %q", out)
	}
	if lines := strings.Split(out, "\n"); len(lines) < 4 {
		t.Fatalf("expected bordered table, got %d lines", len(lines))
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := renderTable(nil, nil, nil); out != "" {
		t.Fatalf("out = %q", out)
	}
}
