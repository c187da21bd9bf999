// Package deps reports availability of the external tools the extraction
// pipeline shells out to. Missing tools degrade extraction rather than break
// the daemon, so availability is surfaced through status output instead of
// failing startup.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"partbank/internal/config"
)

// Requirement defines one external binary partbank relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the poppler tools used for text extraction and OCR
// rasterization, honoring configured overrides.
func Requirements(cfg *config.Config) []Requirement {
	pdftotext := "pdftotext"
	pdftoppm := "pdftoppm"
	if cfg != nil {
		if v := strings.TrimSpace(cfg.Extraction.Pdftotext); v != "" {
			pdftotext = v
		}
		if v := strings.TrimSpace(cfg.Extraction.Pdftoppm); v != "" {
			pdftoppm = v
		}
	}
	return []Requirement{
		{
			Name:        "pdftotext",
			Command:     pdftotext,
			Description: "direct PDF text extraction (poppler-utils)",
		},
		{
			Name:        "pdftoppm",
			Command:     pdftoppm,
			Description: "page rasterization for OCR escalation (poppler-utils)",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case !onPath(cmd):
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Check evaluates the default partbank requirements for the given config.
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Requirements(cfg))
}

func onPath(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
