package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"partbank/internal/logging"
	"partbank/internal/services"
	"partbank/internal/store"
)

// Handler processes one decoded job payload. Returned errors are classified
// with services.Retryable: retryable failures reschedule with the kind's
// backoff, non-retryable failures dead-letter immediately.
type Handler interface {
	Handle(ctx context.Context, payload Payload) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload Payload) error

func (f HandlerFunc) Handle(ctx context.Context, payload Payload) error {
	return f(ctx, payload)
}

// DeadLetterHook observes jobs moving into the dead-letter area. The payload
// is nil when it could not be decoded.
type DeadLetterHook func(ctx context.Context, letter *store.DeadLetter, payload Payload)

// Timing bundles the dispatcher intervals.
type Timing struct {
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
}

// Workers runs one bounded dispatcher per registered kind plus a stale-job
// reclaimer. Construct, register handlers, Start, and Stop on shutdown.
type Workers struct {
	store    *store.Store
	policies map[Kind]Policy
	timing   Timing
	logger   *slog.Logger

	mu           sync.Mutex
	handlers     map[Kind]Handler
	onDeadLetter DeadLetterHook
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWorkers builds the worker set over the given store.
func NewWorkers(st *store.Store, policies map[Kind]Policy, timing Timing, logger *slog.Logger) *Workers {
	if timing.PollInterval <= 0 {
		timing.PollInterval = 2 * time.Second
	}
	if timing.ErrorRetryInterval <= 0 {
		timing.ErrorRetryInterval = 10 * time.Second
	}
	if timing.HeartbeatInterval <= 0 {
		timing.HeartbeatInterval = 15 * time.Second
	}
	return &Workers{
		store:    st,
		policies: policies,
		timing:   timing,
		logger:   logging.NewComponentLogger(logger, "queue"),
		handlers: make(map[Kind]Handler),
	}
}

// Register installs the handler for a kind. Must be called before Start.
func (w *Workers) Register(kind Kind, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = handler
}

// OnDeadLetter installs an observer invoked after a job is dead-lettered.
func (w *Workers) OnDeadLetter(hook DeadLetterHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDeadLetter = hook
}

// Start begins background dispatch for every registered kind.
func (w *Workers) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("queue workers already running")
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return errors.New("no job handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	kinds := make([]Kind, 0, len(w.handlers))
	for _, kind := range Kinds() {
		if _, ok := w.handlers[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	w.wg.Add(len(kinds) + 1)
	w.mu.Unlock()

	for _, kind := range kinds {
		go w.runKind(runCtx, kind)
	}
	go w.runReclaimer(runCtx)

	return nil
}

// Stop terminates dispatch and waits for in-flight handlers to drain.
func (w *Workers) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Workers) runKind(ctx context.Context, kind Kind) {
	defer w.wg.Done()

	w.mu.Lock()
	handler := w.handlers[kind]
	w.mu.Unlock()

	policy := w.policies[kind]
	limit := policy.Concurrency
	if limit < 1 {
		limit = 1
	}
	group := &errgroup.Group{}
	group.SetLimit(limit)
	defer func() { _ = group.Wait() }()

	logger := w.logger.With(logging.String(logging.FieldJobKind, string(kind)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.store.ClaimJob(ctx, string(kind), time.Now().UTC())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to claim job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			w.sleep(ctx, w.timing.ErrorRetryInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.timing.PollInterval)
			continue
		}

		// Go blocks once the concurrency limit is reached, which also
		// throttles further claims for this kind.
		group.Go(func() error {
			w.process(ctx, logger, kind, handler, policy, job)
			return nil
		})
	}
}

func (w *Workers) process(ctx context.Context, logger *slog.Logger, kind Kind, handler Handler, policy Policy, job *store.Job) {
	jobCtx := services.WithJobKind(ctx, string(kind))
	logger = logger.With(logging.Int64(logging.FieldJobID, job.ID))

	payload, err := DecodePayload(kind, job.PayloadJSON)
	if err != nil {
		w.deadLetter(jobCtx, logger, job, nil, fmt.Sprintf("undecodable payload: %v", err))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go w.heartbeatLoop(hbCtx, &hbWG, job.ID)

	start := time.Now()
	handlerErr := handler.Handle(jobCtx, payload)
	stopHeartbeat()
	hbWG.Wait()

	if handlerErr == nil {
		if err := w.store.CompleteJob(jobCtx, job.ID); err != nil {
			logger.Error("failed to remove completed job", logging.Error(err))
		} else {
			logger.Info("job completed",
				logging.Duration("elapsed", time.Since(start)),
				logging.Int("attempt", job.Attempts),
			)
		}
		return
	}

	if errors.Is(handlerErr, context.Canceled) {
		// Shutdown mid-handler: release the claim so the job reruns.
		if err := w.store.RetryJob(context.Background(), job.ID, time.Now().UTC(), handlerErr.Error()); err != nil {
			logger.Warn("failed to release job on shutdown", logging.Error(err))
		}
		return
	}

	retryable := services.Retryable(handlerErr)
	exhausted := job.Attempts >= job.MaxAttempts
	if !retryable || exhausted {
		reason := handlerErr.Error()
		if !retryable {
			reason = "non-retryable: " + reason
		}
		w.deadLetter(jobCtx, logger, job, payload, reason)
		return
	}

	delay := policy.Delay(job.Attempts)
	if err := w.store.RetryJob(jobCtx, job.ID, time.Now().UTC().Add(delay), handlerErr.Error()); err != nil {
		logger.Error("failed to reschedule job", logging.Error(err))
		return
	}
	logger.Warn("job failed, retry scheduled",
		logging.Error(handlerErr),
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", job.MaxAttempts),
		logging.Duration("delay", delay),
	)
}

func (w *Workers) deadLetter(ctx context.Context, logger *slog.Logger, job *store.Job, payload Payload, reason string) {
	letter, err := w.store.DeadLetterJob(ctx, job, reason)
	if err != nil {
		logger.Error("failed to dead-letter job", logging.Error(err))
		return
	}
	logger.Error("job dead-lettered",
		logging.String("reason", reason),
		logging.Int("attempts", job.Attempts),
		logging.String(logging.FieldEventType, "job_dead_lettered"),
	)

	w.mu.Lock()
	hook := w.onDeadLetter
	w.mu.Unlock()
	if hook != nil {
		hook(ctx, letter, payload)
	}
}

func (w *Workers) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	ticker := time.NewTicker(w.timing.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatJob(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("job heartbeat failed",
					logging.Int64(logging.FieldJobID, jobID),
					logging.Error(err),
				)
			}
		}
	}
}

func (w *Workers) runReclaimer(ctx context.Context) {
	defer w.wg.Done()
	if w.timing.HeartbeatTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(w.timing.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-w.timing.HeartbeatTimeout)
			reclaimed, err := w.store.ReclaimStaleJobs(ctx, cutoff)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.logger.Warn("stale job reclaim failed", logging.Error(err))
				}
				continue
			}
			if reclaimed > 0 {
				w.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
			}
		}
	}
}

func (w *Workers) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
