// Package queue layers a durable, typed job queue over the store.
//
// Job kinds form a closed union: each kind has exactly one payload struct and
// one policy entry (priority, attempt budget, backoff shape, concurrency), so
// dispatch is checked exhaustively at compile time. Workers claim jobs with a
// compare-and-swap update, heartbeat while running, reschedule retryable
// failures with the kind's backoff, and move exhausted or non-retryable jobs
// to the dead-letter area for inspection and replay.
package queue
