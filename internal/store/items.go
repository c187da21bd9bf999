package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const itemColumns = "id, batch_id, file_name, file_size, mime_type, storage_key, digest, status, current_step, extracted_json, ocr_text, split_json, error_message, created_at, updated_at"

// AddItem inserts a new item for an accepted upload.
func (s *Store) AddItem(ctx context.Context, item *Item) (*Item, error) {
	if item == nil {
		return nil, errors.New("item is nil")
	}
	ctx = ensureContext(ctx)
	now := timestamp(time.Now())
	if item.Status == "" {
		item.Status = ItemCreated
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO items (
            batch_id, file_name, file_size, mime_type, storage_key, digest,
            status, current_step, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.BatchID,
		item.FileName,
		item.FileSize,
		nullableString(item.MimeType),
		item.StorageKey,
		nullableString(item.Digest),
		item.Status,
		nullableString(item.CurrentStep),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem fetches an item by identifier, nil when absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanStoredItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns a batch's items ordered by creation.
func (s *Store) ListItems(ctx context.Context, batchID int64) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM items WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanStoredItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem persists changes to an existing item.
func (s *Store) UpdateItem(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE items
         SET file_name = ?, file_size = ?, mime_type = ?, storage_key = ?,
             digest = ?, status = ?, current_step = ?, extracted_json = ?,
             ocr_text = ?, split_json = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		item.FileName,
		item.FileSize,
		nullableString(item.MimeType),
		item.StorageKey,
		nullableString(item.Digest),
		item.Status,
		nullableString(item.CurrentStep),
		nullableString(item.ExtractedJSON),
		nullableString(item.OCRText),
		nullableString(item.SplitJSON),
		nullableString(item.ErrorMessage),
		timestamp(item.UpdatedAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// FindItemByDigest returns the first item in a batch sharing the content
// digest, nil when the digest is unseen.
func (s *Store) FindItemByDigest(ctx context.Context, batchID int64, digest string) (*Item, error) {
	if digest == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM items WHERE batch_id = ? AND digest = ? ORDER BY id LIMIT 1`,
		batchID,
		digest,
	)
	item, err := scanStoredItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item by digest: %w", err)
	}
	return item, nil
}

// CancelOpenItems force-transitions every non-terminal item of a batch to
// cancelled and returns the number of items affected.
func (s *Store) CancelOpenItems(ctx context.Context, batchID int64) (int64, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE items SET status = ?, updated_at = ?
         WHERE batch_id = ? AND status NOT IN ('complete', 'failed', 'cancelled')`,
		ItemCancelled,
		timestamp(time.Now()),
		batchID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel open items: %w", err)
	}
	return res.RowsAffected()
}

// CountItemsWithoutProposal returns how many of a batch's non-terminal items
// still lack a proposal.
func (s *Store) CountItemsWithoutProposal(ctx context.Context, batchID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM items
         WHERE batch_id = ? AND status NOT IN ('complete', 'failed', 'cancelled')
           AND id NOT IN (SELECT item_id FROM proposals WHERE batch_id = ?)`,
		batchID,
		batchID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count items without proposal: %w", err)
	}
	return count, nil
}

func scanStoredItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		batchID      int64
		fileName     string
		fileSize     int64
		mimeType     sql.NullString
		storageKey   string
		digest       sql.NullString
		statusStr    string
		currentStep  sql.NullString
		extracted    sql.NullString
		ocrText      sql.NullString
		splitJSON    sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&fileName,
		&fileSize,
		&mimeType,
		&storageKey,
		&digest,
		&statusStr,
		&currentStep,
		&extracted,
		&ocrText,
		&splitJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:            id,
		BatchID:       batchID,
		FileName:      fileName,
		FileSize:      fileSize,
		MimeType:      mimeType.String,
		StorageKey:    storageKey,
		Digest:        digest.String,
		Status:        ItemStatus(statusStr),
		CurrentStep:   currentStep.String,
		ExtractedJSON: extracted.String,
		OCRText:       ocrText.String,
		SplitJSON:     splitJSON.String,
		ErrorMessage:  errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}
