package deps_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"partbank/internal/config"
	"partbank/internal/deps"
)

func TestCheckBinariesReportsMissing(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "ghost", Command: "definitely-not-a-real-binary-xyz"},
		{Name: "blank", Command: "   "},
	})
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	if statuses[0].Available {
		t.Fatal("missing binary reported available")
	}
	if statuses[0].Detail == "" {
		t.Fatal("missing binary needs a detail message")
	}
	if statuses[1].Available || statuses[1].Detail != "command not configured" {
		t.Fatalf("blank command status = %+v", statuses[1])
	}
}

func TestCheckBinariesFindsExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix executable bit")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "pdftotext")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "pdftotext", Command: fake},
	})
	if !statuses[0].Available {
		t.Fatalf("expected available, got %+v", statuses[0])
	}
}

func TestRequirementsHonorConfigOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Extraction.Pdftotext = "/opt/poppler/bin/pdftotext"

	requirements := deps.Requirements(&cfg)
	if len(requirements) != 2 {
		t.Fatalf("got %d requirements", len(requirements))
	}
	if requirements[0].Command != "/opt/poppler/bin/pdftotext" {
		t.Fatalf("pdftotext command = %q", requirements[0].Command)
	}
	if requirements[1].Name != "pdftoppm" || !requirements[1].Optional {
		t.Fatalf("pdftoppm requirement = %+v", requirements[1])
	}

	defaults := deps.Requirements(nil)
	if defaults[0].Command != "pdftotext" {
		t.Fatalf("default command = %q", defaults[0].Command)
	}
}
