package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"partbank/internal/services"
)

// SeedInstruments inserts catalog instruments, ignoring names already
// present. The catalog is read-only input for the pipeline afterwards.
func (s *Store) SeedInstruments(ctx context.Context, instruments []Instrument) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, inst := range instruments {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT OR IGNORE INTO instruments (name, family, sort_order) VALUES (?, ?, ?)`,
				inst.Name,
				inst.Family,
				inst.SortOrder,
			); err != nil {
				return fmt.Errorf("seed instrument %q: %w", inst.Name, err)
			}
		}
		return nil
	})
}

// ListInstruments returns the catalog ordered for display.
func (s *Store) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, name, family, sort_order FROM instruments ORDER BY sort_order, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		var inst Instrument
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Family, &inst.SortOrder); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// GetPiece fetches a committed piece by identifier, nil when absent.
func (s *Store) GetPiece(ctx context.Context, id int64) (*Piece, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, title, composer, arranger, publisher, difficulty, genre, style,
                duration_seconds, notes, created_at
         FROM pieces WHERE id = ?`,
		id,
	)
	piece, err := scanPiece(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get piece: %w", err)
	}
	return piece, nil
}

// ListPieces returns all committed pieces ordered by identifier.
func (s *Store) ListPieces(ctx context.Context) ([]*Piece, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, title, composer, arranger, publisher, difficulty, genre, style,
                duration_seconds, notes, created_at
         FROM pieces ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pieces: %w", err)
	}
	defer rows.Close()

	var pieces []*Piece
	for rows.Next() {
		piece, err := scanPiece(rows)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, piece)
	}
	return pieces, rows.Err()
}

// ListPieceFiles returns a piece's committed file records.
func (s *Store) ListPieceFiles(ctx context.Context, pieceID int64) ([]PieceFile, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, piece_id, file_name, storage_key, mime_type, file_size, created_at
         FROM piece_files WHERE piece_id = ? ORDER BY id`,
		pieceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list piece files: %w", err)
	}
	defer rows.Close()

	var files []PieceFile
	for rows.Next() {
		var (
			file       PieceFile
			mimeType   sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&file.ID, &file.PieceID, &file.FileName, &file.StorageKey, &mimeType, &file.FileSize, &createdRaw); err != nil {
			return nil, err
		}
		file.MimeType = mimeType.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			file.CreatedAt = created
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ListPieceParts returns a piece's resolved instrument parts.
func (s *Store) ListPieceParts(ctx context.Context, pieceID int64) ([]PiecePart, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, piece_id, file_id, instrument_id, part_name, confidence, created_at
         FROM piece_parts WHERE piece_id = ? ORDER BY id`,
		pieceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list piece parts: %w", err)
	}
	defer rows.Close()

	var parts []PiecePart
	for rows.Next() {
		var (
			part         PiecePart
			fileID       sql.NullInt64
			instrumentID sql.NullInt64
			createdRaw   sql.NullString
		)
		if err := rows.Scan(&part.ID, &part.PieceID, &fileID, &instrumentID, &part.PartName, &part.Confidence, &createdRaw); err != nil {
			return nil, err
		}
		part.FileID = fileID.Int64
		part.InstrumentID = instrumentID.Int64
		if created, err := parseTimeString(createdRaw.String); err == nil {
			part.CreatedAt = created
		}
		parts = append(parts, part)
	}
	return parts, rows.Err()
}

// CommittedStorageKeys returns every storage key owned by the permanent
// catalog. The cleanup pass consults this before deleting anything.
func (s *Store) CommittedStorageKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT storage_key FROM piece_files`)
	if err != nil {
		return nil, fmt.Errorf("query committed storage keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate committed storage keys: %w", err)
	}
	return keys, nil
}

// IngestResult reports what one proposal's ingestion created.
type IngestResult struct {
	PieceID      int64
	NewPiece     bool
	FilesCreated int
	PartsCreated int
}

// IngestProposal commits one approved proposal into the permanent catalog in
// a single transaction: create (or reuse) the Piece, create File records for
// the item's storage keys, create Part records for resolved instruments, link
// the proposal, and complete the item.
func (s *Store) IngestProposal(ctx context.Context, proposalID int64) (*IngestResult, error) {
	ctx = ensureContext(ctx)

	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, fmt.Errorf("%w: proposal %d", services.ErrNotFound, proposalID)
	}
	if !proposal.IsApproved {
		return nil, fmt.Errorf("%w: proposal %d is not approved", services.ErrInvalidState, proposalID)
	}

	item, err := s.GetItem(ctx, proposal.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %d", services.ErrNotFound, proposal.ItemID)
	}

	fields, err := proposal.MergedFields()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrIngestion, err)
	}
	splitFiles, err := item.SplitFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrIngestion, err)
	}

	result := &IngestResult{}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := timestamp(time.Now())

		pieceID := proposal.MatchedPieceID
		if pieceID != 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM pieces WHERE id = ?`, pieceID).Scan(&exists); err != nil {
				return fmt.Errorf("check matched piece: %w", err)
			}
			if exists == 0 {
				pieceID = 0
			}
		}
		if pieceID == 0 {
			title := fields.Title
			if title == "" {
				title = item.FileName
			}
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO pieces (
                    title, composer, arranger, publisher, difficulty, genre,
                    style, duration_seconds, notes, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				title,
				nullableString(fields.Composer),
				nullableString(fields.Arranger),
				nullableString(fields.Publisher),
				nullableString(fields.Difficulty),
				nullableString(fields.Genre),
				nullableString(fields.Style),
				nullableInt64(int64(fields.DurationSeconds)),
				nullableString(fields.Notes),
				now,
			)
			if err != nil {
				return fmt.Errorf("insert piece: %w", err)
			}
			pieceID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("piece insert id: %w", err)
			}
			result.NewPiece = true
		}
		result.PieceID = pieceID

		insertFile := func(fileName, storageKey, mimeType string, fileSize int64) (int64, error) {
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO piece_files (piece_id, file_name, storage_key, mime_type, file_size, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				pieceID,
				fileName,
				storageKey,
				nullableString(mimeType),
				fileSize,
				now,
			)
			if err != nil {
				return 0, fmt.Errorf("insert piece file %q: %w", fileName, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("piece file insert id: %w", err)
			}
			result.FilesCreated++
			return id, nil
		}

		originalFileID, err := insertFile(item.FileName, item.StorageKey, item.MimeType, item.FileSize)
		if err != nil {
			return err
		}
		fileIDsByPart := make(map[string]int64, len(splitFiles))
		for _, split := range splitFiles {
			fileID, err := insertFile(split.FileName, split.StorageKey, "application/pdf", split.FileSize)
			if err != nil {
				return err
			}
			fileIDsByPart[split.PartName] = fileID
		}

		for _, part := range fields.Instrumentation {
			if part.InstrumentID == 0 {
				continue
			}
			fileID := originalFileID
			if id, ok := fileIDsByPart[part.PartName]; ok {
				fileID = id
			}
			partName := part.PartName
			if partName == "" {
				partName = part.Label
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO piece_parts (piece_id, file_id, instrument_id, part_name, confidence, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				pieceID,
				fileID,
				part.InstrumentID,
				partName,
				part.Confidence,
				now,
			); err != nil {
				return fmt.Errorf("insert piece part %q: %w", partName, err)
			}
			result.PartsCreated++
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE proposals SET matched_piece_id = ?, is_new_piece = ?, updated_at = ? WHERE id = ?`,
			pieceID,
			boolToInt(result.NewPiece),
			now,
			proposalID,
		); err != nil {
			return fmt.Errorf("link proposal: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE items SET status = ?, updated_at = ? WHERE id = ?`,
			ItemComplete,
			now,
			item.ID,
		); err != nil {
			return fmt.Errorf("complete item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanPiece(scanner interface{ Scan(dest ...any) error }) (*Piece, error) {
	var (
		id         int64
		title      string
		composer   sql.NullString
		arranger   sql.NullString
		publisher  sql.NullString
		difficulty sql.NullString
		genre      sql.NullString
		style      sql.NullString
		duration   sql.NullInt64
		notes      sql.NullString
		createdRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&composer,
		&arranger,
		&publisher,
		&difficulty,
		&genre,
		&style,
		&duration,
		&notes,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	piece := &Piece{
		ID:              id,
		Title:           title,
		Composer:        composer.String,
		Arranger:        arranger.String,
		Publisher:       publisher.String,
		Difficulty:      difficulty.String,
		Genre:           genre.String,
		Style:           style.String,
		DurationSeconds: int(duration.Int64),
		Notes:           notes.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		piece.CreatedAt = created
	}
	return piece, nil
}
