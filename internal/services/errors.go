package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying pipeline failures. Stage code wraps causes with
// one of these markers via Wrap; the queue and API layers branch on them.
var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing batch, item, or proposal. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation that is illegal for the current
	// lifecycle state, such as approving twice. Never retried.
	ErrInvalidState = errors.New("invalid state")
	// ErrExtraction marks a PDF or OCR failure. Retried up to the job's
	// attempt limit, then dead-lettered.
	ErrExtraction = errors.New("extraction error")
	// ErrTransient marks a network or backend failure. Retried with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrIngestion marks a catalog commit failure. Isolated per proposal and
	// aggregated into the batch error summary.
	ErrIngestion = errors.New("ingestion error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the queue should retry a job that failed with err.
// Validation, not-found, and invalid-state failures are deterministic; retrying
// them burns attempts without changing the outcome.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
