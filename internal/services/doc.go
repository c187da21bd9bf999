// Package services holds the cross-cutting error taxonomy and context helpers
// shared by pipeline stages, the job queue, and the API layer.
package services
