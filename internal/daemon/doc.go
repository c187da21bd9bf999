// Package daemon runs the partbank background services as a single process:
// the SQLite store, the durable job queue workers, the upload pipeline, and
// the authenticated HTTP API the CLI talks to. A lock file keeps a second
// daemon from starting against the same data directory.
package daemon
