package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const batchColumns = "id, user_ref, status, total_files, processed_files, success_files, failed_files, error_summary, created_at, updated_at, completed_at"

// CreateBatch inserts a new batch in the created state.
func (s *Store) CreateBatch(ctx context.Context, userRef string) (*Batch, error) {
	ctx = ensureContext(ctx)
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO batches (user_ref, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		nullableString(userRef),
		BatchCreated,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBatch(ctx, id)
}

// GetBatch fetches a batch by identifier, nil when absent.
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches filtered by status set (or all batches when no
// status is provided), newest first.
func (s *Store) ListBatches(ctx context.Context, statuses ...BatchStatus) ([]*Batch, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + batchColumns + ` FROM batches`
	orderClause := ` ORDER BY id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// UpdateBatch persists changes to an existing batch.
func (s *Store) UpdateBatch(ctx context.Context, batch *Batch) error {
	if batch == nil {
		return errors.New("batch is nil")
	}
	batch.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE batches
         SET user_ref = ?, status = ?, total_files = ?, processed_files = ?,
             success_files = ?, failed_files = ?, error_summary = ?,
             updated_at = ?, completed_at = ?
         WHERE id = ?`,
		nullableString(batch.UserRef),
		batch.Status,
		batch.TotalFiles,
		batch.ProcessedFiles,
		batch.SuccessFiles,
		batch.FailedFiles,
		nullableString(batch.ErrorSummary),
		timestamp(batch.UpdatedAt),
		nullableTime(batch.CompletedAt),
		batch.ID,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// RecomputeBatch refreshes the batch counters from child item rows in a
// single statement. Counters are a cache over items and must never be
// incremented from concurrent handlers.
func (s *Store) RecomputeBatch(ctx context.Context, batchID int64) (*Batch, error) {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE batches SET
            total_files = (SELECT COUNT(1) FROM items WHERE items.batch_id = batches.id),
            processed_files = (SELECT COUNT(1) FROM items WHERE items.batch_id = batches.id
                AND items.status IN ('complete', 'failed', 'cancelled')),
            success_files = (SELECT COUNT(1) FROM items WHERE items.batch_id = batches.id
                AND items.status = 'complete'),
            failed_files = (SELECT COUNT(1) FROM items WHERE items.batch_id = batches.id
                AND items.status = 'failed'),
            updated_at = ?
         WHERE id = ?`,
		timestamp(time.Now()),
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("recompute batch: %w", err)
	}
	return s.GetBatch(ctx, batchID)
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id           int64
		userRef      sql.NullString
		statusStr    string
		totalFiles   int
		processed    int
		success      int
		failed       int
		errorSummary sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&userRef,
		&statusStr,
		&totalFiles,
		&processed,
		&success,
		&failed,
		&errorSummary,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:             id,
		UserRef:        userRef.String,
		Status:         BatchStatus(statusStr),
		TotalFiles:     totalFiles,
		ProcessedFiles: processed,
		SuccessFiles:   success,
		FailedFiles:    failed,
		ErrorSummary:   errorSummary.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		batch.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			batch.CompletedAt = &completed
		}
	}
	return batch, nil
}
