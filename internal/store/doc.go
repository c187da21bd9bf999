// Package store provides SQLite persistence for the whole upload pipeline:
// batches, items, proposals, the instrument catalog, committed pieces, and
// the durable job queue with its dead-letter area.
//
// Multi-entity invariants are expressed as transactions here (proposal
// approval, catalog ingestion, batch counter recompute) so concurrent job
// handlers can rely on them being atomic. Lifecycle decisions stay in
// internal/pipeline; this package only persists and guards the few
// transitions that must be atomic with other writes.
package store
