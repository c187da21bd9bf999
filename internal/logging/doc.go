// Package logging assembles the structured slog loggers used across partbank.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so job handlers automatically
// tag log lines with batch, item, and correlation identifiers. Prefer these
// constructors over hand-rolled slog setup so every component emits the same
// shape.
package logging
