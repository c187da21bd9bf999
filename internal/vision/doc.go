// Package vision wraps the OCR/LLM backend used to recognize text on scanned
// pages and to propose catalog metadata for uploaded scores.
//
// The HTTP client retries rate-limit and server errors with exponential
// backoff, honors Retry-After, and decodes model JSON leniently (code fences,
// surrounding prose). The Service interface is what the pipeline consumes, so
// tests substitute a stub backend.
package vision
