package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Extraction.MinTextChars != defaultMinTextChars {
		t.Fatalf("MinTextChars = %d, want %d", cfg.Extraction.MinTextChars, defaultMinTextChars)
	}
	if cfg.Queue.IngestWorkers != 1 {
		t.Fatalf("IngestWorkers = %d, want 1", cfg.Queue.IngestWorkers)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[extraction]
min_text_chars = 250
ocr_mode = "FORCE"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Extraction.MinTextChars != 250 {
		t.Fatalf("MinTextChars = %d, want 250", cfg.Extraction.MinTextChars)
	}
	if cfg.Extraction.OCRMode != "force" {
		t.Fatalf("OCRMode = %q, want force", cfg.Extraction.OCRMode)
	}
	if cfg.Paths.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("DataDir = %q", cfg.Paths.DataDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ocr mode", func(c *Config) { c.Extraction.OCRMode = "maybe" }, "ocr_mode"},
		{"whitespace ratio", func(c *Config) { c.Extraction.MaxWhitespaceRatio = 1.5 }, "max_whitespace_ratio"},
		{"ingest workers", func(c *Config) { c.Queue.IngestWorkers = 2 }, "ingest_workers"},
		{"heartbeat", func(c *Config) { c.Queue.HeartbeatTimeout = 1 }, "heartbeat_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				t.Fatalf("normalize: %v", err)
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error for existing file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[extraction]") {
		t.Fatal("sample config missing extraction section")
	}
}
