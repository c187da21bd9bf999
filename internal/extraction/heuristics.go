package extraction

import (
	"strings"
	"unicode"

	"partbank/internal/config"
)

// Decision reports whether extracted text warrants OCR escalation, the first
// heuristic that tripped, and an estimated confidence in the direct text.
type Decision struct {
	ShouldOCR  bool
	Reason     string
	Confidence float64
}

// Escalation reasons, in evaluation order.
const (
	ReasonTooShort    = "text_below_minimum"
	ReasonLowDensity  = "low_chars_per_page"
	ReasonMostlyBlank = "whitespace_ratio_exceeded"
)

// ShouldUseOCR applies the ordered quality heuristics to directly extracted
// text. Each check returns its own reason and confidence estimate; text that
// passes all checks is accepted at full confidence.
func ShouldUseOCR(text string, pageCount int, cfg config.Extraction) Decision {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) < cfg.MinTextChars {
		return Decision{ShouldOCR: true, Reason: ReasonTooShort, Confidence: 0.2}
	}

	if pageCount > 0 {
		density := float64(len(trimmed)) / float64(pageCount)
		if density < float64(cfg.MinCharsPerPage) {
			return Decision{ShouldOCR: true, Reason: ReasonLowDensity, Confidence: 0.3}
		}
	}

	if ratio := whitespaceRatio(text); ratio > cfg.MaxWhitespaceRatio {
		return Decision{ShouldOCR: true, Reason: ReasonMostlyBlank, Confidence: 0.3}
	}

	return Decision{Confidence: 1.0}
}

func whitespaceRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	var spaces, total int
	for _, r := range text {
		total++
		if unicode.IsSpace(r) {
			spaces++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(spaces) / float64(total)
}
