package queue

import (
	"context"
	"fmt"
	"log/slog"

	"partbank/internal/logging"
	"partbank/internal/store"
)

// Client enqueues typed jobs against the store using the per-kind policy
// table. It is constructed explicitly at process start and shares the store's
// lifecycle; nothing in the queue is package-level state.
type Client struct {
	store    *store.Store
	policies map[Kind]Policy
	logger   *slog.Logger
}

// NewClient builds a queue client over the given store.
func NewClient(st *store.Store, policies map[Kind]Policy, logger *slog.Logger) *Client {
	return &Client{
		store:    st,
		policies: policies,
		logger:   logging.NewComponentLogger(logger, "queue"),
	}
}

// Enqueue persists a job for the payload's kind with its policy defaults.
func (c *Client) Enqueue(ctx context.Context, payload Payload) (*store.Job, error) {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	kind := payload.Kind()
	policy := c.policies[kind]

	job, err := c.store.EnqueueJob(ctx, string(kind), encoded, store.JobOptions{
		Priority:    policy.Priority,
		MaxAttempts: policy.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	c.logger.Debug("job enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(kind)),
	)
	return job, nil
}

// Replay moves a dead-letter entry back into its original kind with a fresh
// attempt budget taken from the kind's policy.
func (c *Client) Replay(ctx context.Context, deadLetterID int64) (*store.Job, error) {
	letter, err := c.store.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return nil, err
	}
	if letter == nil {
		return c.store.ReplayDeadLetter(ctx, deadLetterID, store.JobOptions{})
	}
	policy := c.policies[Kind(letter.Kind)]
	job, err := c.store.ReplayDeadLetter(ctx, deadLetterID, store.JobOptions{
		Priority:    policy.Priority,
		MaxAttempts: policy.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("dead letter replayed",
		logging.Int64("dead_letter_id", deadLetterID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, letter.Kind),
	)
	return job, nil
}

// Store exposes the backing store for read-only queue views.
func (c *Client) Store() *store.Store {
	return c.store
}
