package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"partbank/internal/services"
)

const jobColumns = "id, kind, payload_json, status, attempts, max_attempts, priority, run_at, last_error, heartbeat_at, created_at, updated_at"

// JobOptions controls scheduling for a newly enqueued job.
type JobOptions struct {
	Priority    int
	MaxAttempts int
	RunAt       time.Time
}

// EnqueueJob inserts a pending job.
func (s *Store) EnqueueJob(ctx context.Context, kind, payloadJSON string, opts JobOptions) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (kind, payload_json, status, attempts, max_attempts, priority, run_at, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		kind,
		payloadJSON,
		JobPending,
		maxAttempts,
		opts.Priority,
		timestamp(runAt),
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier, nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimJob atomically claims the next runnable job of a kind. The claim is a
// compare-and-swap on the pending status so concurrent workers never take the
// same job twice. Returns nil when nothing is runnable.
func (s *Store) ClaimJob(ctx context.Context, kind string, now time.Time) (*Job, error) {
	ctx = ensureContext(ctx)
	nowStr := timestamp(now)

	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE kind = ? AND status = ? AND run_at <= ?
             ORDER BY priority DESC, id LIMIT 1`,
			kind,
			JobPending,
			nowStr,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, heartbeat_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobRunning,
			nowStr,
			nowStr,
			job.ID,
			JobPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another worker; try the next candidate.
			continue
		}
		return s.GetJob(ctx, job.ID)
	}
}

// CompleteJob removes a successfully processed job.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ensureContext(ctx), `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RetryJob returns a failed job to pending with a future run time.
func (s *Store) RetryJob(ctx context.Context, id int64, runAt time.Time, lastError string) error {
	now := timestamp(time.Now())
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE jobs SET status = ?, run_at = ?, last_error = ?, heartbeat_at = NULL, updated_at = ? WHERE id = ?`,
		JobPending,
		timestamp(runAt),
		nullableString(lastError),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

// DeadLetterJob moves an exhausted job into the dead-letter holding area,
// preserving payload, kind, reason, and attempt count.
func (s *Store) DeadLetterJob(ctx context.Context, job *Job, reason string) (*DeadLetter, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	ctx = ensureContext(ctx)

	var letterID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO dead_letters (kind, payload_json, reason, attempts, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			job.Kind,
			job.PayloadJSON,
			reason,
			job.Attempts,
			timestamp(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		letterID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("dead letter insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
			return fmt.Errorf("remove exhausted job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDeadLetter(ctx, letterID)
}

// HeartbeatJob refreshes a running job's heartbeat.
func (s *Store) HeartbeatJob(ctx context.Context, id int64) error {
	now := timestamp(time.Now())
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		JobRunning,
	)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns running jobs whose heartbeat expired back to
// pending so a crashed worker never wedges an item.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE jobs SET status = ?, heartbeat_at = NULL, updated_at = ?
         WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		JobPending,
		timestamp(time.Now()),
		JobRunning,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobCounts returns pending+running job counts grouped by kind.
func (s *Store) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT kind, COUNT(1) FROM jobs GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// GetDeadLetter fetches a dead-letter entry, nil when absent.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (*DeadLetter, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, kind, payload_json, reason, attempts, created_at FROM dead_letters WHERE id = ?`,
		id,
	)
	letter, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return letter, nil
}

// ListDeadLetters returns all dead-letter entries, newest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, kind, payload_json, reason, attempts, created_at FROM dead_letters ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// ReplayDeadLetter re-enqueues a dead-letter entry into its original kind
// with a fresh attempt budget and removes the entry.
func (s *Store) ReplayDeadLetter(ctx context.Context, id int64, opts JobOptions) (*Job, error) {
	ctx = ensureContext(ctx)
	letter, err := s.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if letter == nil {
		return nil, fmt.Errorf("%w: dead letter %d", services.ErrNotFound, id)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	var jobID int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := timestamp(time.Now())
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (kind, payload_json, status, attempts, max_attempts, priority, run_at, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
			letter.Kind,
			letter.PayloadJSON,
			JobPending,
			maxAttempts,
			opts.Priority,
			timestamp(runAt),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("replay enqueue: %w", err)
		}
		jobID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("replay insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove replayed dead letter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		kind         string
		payload      string
		statusStr    string
		attempts     int
		maxAttempts  int
		priority     int
		runAtRaw     sql.NullString
		lastError    sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&kind,
		&payload,
		&statusStr,
		&attempts,
		&maxAttempts,
		&priority,
		&runAtRaw,
		&lastError,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          id,
		Kind:        kind,
		PayloadJSON: payload,
		Status:      JobStatus(statusStr),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Priority:    priority,
		LastError:   lastError.String,
	}
	if runAt, err := parseTimeString(runAtRaw.String); err == nil {
		job.RunAt = runAt
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.HeartbeatAt = &heartbeat
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (*DeadLetter, error) {
	var (
		id         int64
		kind       string
		payload    string
		reason     string
		attempts   int
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &kind, &payload, &reason, &attempts, &createdRaw); err != nil {
		return nil, err
	}
	letter := &DeadLetter{
		ID:          id,
		Kind:        kind,
		PayloadJSON: payload,
		Reason:      reason,
		Attempts:    attempts,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		letter.CreatedAt = created
	}
	return letter, nil
}
