package queue

import (
	"time"

	"partbank/internal/config"
)

// Backoff names a retry delay shape.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Policy parameterizes retry and scheduling behavior for one job kind. Every
// stage consumes the same policy component instead of hand-rolling retry
// logic in its handler.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	BaseDelay   time.Duration
	Concurrency int
	Priority    int
}

const maxBackoffDelay = 10 * time.Minute

// Delay returns the wait before the next attempt, given the number of
// attempts already made.
func (p Policy) Delay(attempts int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if p.Backoff != BackoffExponential || attempts <= 1 {
		return base
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	return delay
}

// Policies builds the per-kind policy table. Concurrency comes from config;
// attempt budgets and backoff shapes are fixed per kind. Ingestion runs with
// concurrency 1 so a batch can never be committed twice concurrently.
func Policies(cfg *config.Config) map[Kind]Policy {
	return map[Kind]Policy{
		KindExtract: {
			MaxAttempts: 3,
			Backoff:     BackoffExponential,
			BaseDelay:   5 * time.Second,
			Concurrency: cfg.Queue.ExtractWorkers,
			Priority:    10,
		},
		KindClassify: {
			MaxAttempts: 4,
			Backoff:     BackoffExponential,
			BaseDelay:   10 * time.Second,
			Concurrency: cfg.Queue.ClassifyWorkers,
			Priority:    10,
		},
		KindSplit: {
			MaxAttempts: 3,
			Backoff:     BackoffFixed,
			BaseDelay:   5 * time.Second,
			Concurrency: cfg.Queue.SplitWorkers,
			Priority:    10,
		},
		KindIngest: {
			MaxAttempts: 2,
			Backoff:     BackoffFixed,
			BaseDelay:   30 * time.Second,
			Concurrency: 1,
			Priority:    20,
		},
		KindCleanup: {
			MaxAttempts: 2,
			Backoff:     BackoffFixed,
			BaseDelay:   time.Minute,
			Concurrency: cfg.Queue.CleanupWorkers,
			Priority:    0,
		},
	}
}
