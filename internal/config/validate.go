package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		problems = append(problems, "storage.root must be set")
	}

	switch c.Extraction.OCRMode {
	case "auto", "skip", "force":
	default:
		problems = append(problems, fmt.Sprintf("extraction.ocr_mode must be auto, skip, or force (got %q)", c.Extraction.OCRMode))
	}
	if c.Extraction.DPI <= 0 {
		problems = append(problems, "extraction.dpi must be positive")
	}
	if c.Extraction.MinTextChars < 0 {
		problems = append(problems, "extraction.min_text_chars must not be negative")
	}
	if c.Extraction.MinCharsPerPage < 0 {
		problems = append(problems, "extraction.min_chars_per_page must not be negative")
	}
	if c.Extraction.MaxWhitespaceRatio <= 0 || c.Extraction.MaxWhitespaceRatio > 1 {
		problems = append(problems, "extraction.max_whitespace_ratio must be in (0, 1]")
	}
	if c.Extraction.OCRConfidence <= 0 || c.Extraction.OCRConfidence > 1 {
		problems = append(problems, "extraction.ocr_confidence must be in (0, 1]")
	}

	if c.Matching.AcceptThreshold <= 0 || c.Matching.AcceptThreshold > 1 {
		problems = append(problems, "matching.accept_threshold must be in (0, 1]")
	}
	if c.Matching.FuzzyCap <= 0 || c.Matching.FuzzyCap > 1 {
		problems = append(problems, "matching.fuzzy_cap must be in (0, 1]")
	}

	if c.Queue.PollInterval <= 0 {
		problems = append(problems, "queue.poll_interval must be positive")
	}
	if c.Queue.HeartbeatInterval <= 0 {
		problems = append(problems, "queue.heartbeat_interval must be positive")
	}
	if c.Queue.HeartbeatTimeout <= c.Queue.HeartbeatInterval {
		problems = append(problems, "queue.heartbeat_timeout must exceed queue.heartbeat_interval")
	}
	for _, w := range []struct {
		name  string
		value int
	}{
		{"queue.extract_workers", c.Queue.ExtractWorkers},
		{"queue.classify_workers", c.Queue.ClassifyWorkers},
		{"queue.split_workers", c.Queue.SplitWorkers},
		{"queue.cleanup_workers", c.Queue.CleanupWorkers},
	} {
		if w.value <= 0 {
			problems = append(problems, w.name+" must be positive")
		}
	}
	if c.Queue.IngestWorkers != 1 {
		problems = append(problems, "queue.ingest_workers must be 1; concurrent ingestion can double-commit a batch")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json (got %q)", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
