package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partbank/internal/services"
)

const proposalColumns = "id, item_id, batch_id, fields_json, corrections_json, is_approved, approved_at, approved_by, matched_piece_id, is_new_piece, created_at, updated_at"

// CreateProposal inserts the reviewable draft for an item.
func (s *Store) CreateProposal(ctx context.Context, itemID, batchID int64, fields ProposalFields, matchedPieceID int64) (*Proposal, error) {
	ctx = ensureContext(ctx)
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal proposal fields: %w", err)
	}
	now := timestamp(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO proposals (
            item_id, batch_id, fields_json, matched_piece_id, is_new_piece,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		itemID,
		batchID,
		string(fieldsJSON),
		nullableInt64(matchedPieceID),
		boolToInt(matchedPieceID == 0),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetProposal(ctx, id)
}

// GetProposal fetches a proposal by identifier, nil when absent.
func (s *Store) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return proposal, nil
}

// GetProposalByItem fetches the proposal derived from an item, nil when the
// item has none yet.
func (s *Store) GetProposalByItem(ctx context.Context, itemID int64) (*Proposal, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+proposalColumns+` FROM proposals WHERE item_id = ?`, itemID)
	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal by item: %w", err)
	}
	return proposal, nil
}

// ListProposals returns a batch's proposals ordered by creation.
func (s *Store) ListProposals(ctx context.Context, batchID int64) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+proposalColumns+` FROM proposals WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	return proposals, rows.Err()
}

// ApprovalResult reports the outcome of an approval transaction.
type ApprovalResult struct {
	Proposal *Proposal
	// AllApproved is true when every item in the batch now carries an
	// approved proposal, which makes the batch eligible for ingestion.
	AllApproved bool
}

// ApproveProposal atomically merges reviewer corrections, marks the proposal
// approved, transitions the owning item, and re-checks whether the whole
// batch is now approved. Approving twice, or approving inside a batch that is
// already ingesting or terminal, fails with an invalid-state conflict.
func (s *Store) ApproveProposal(ctx context.Context, proposalID int64, approvedBy string, corrections *ProposalCorrections) (*ApprovalResult, error) {
	ctx = ensureContext(ctx)
	result := &ApprovalResult{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, proposalID)
		proposal, err := scanProposal(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: proposal %d", services.ErrNotFound, proposalID)
		}
		if err != nil {
			return fmt.Errorf("load proposal: %w", err)
		}
		if proposal.IsApproved {
			return fmt.Errorf("%w: proposal %d already approved", services.ErrInvalidState, proposalID)
		}

		var batchStatus string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = ?`, proposal.BatchID).Scan(&batchStatus); err != nil {
			return fmt.Errorf("load batch status: %w", err)
		}
		if status := BatchStatus(batchStatus); status.Terminal() || status == BatchIngesting {
			return fmt.Errorf("%w: batch %d is %s", services.ErrInvalidState, proposal.BatchID, status)
		}

		merged, err := proposal.Corrections()
		if err != nil {
			return err
		}
		if !corrections.Empty() {
			if merged == nil {
				merged = &ProposalCorrections{}
			}
			merged.MergeFrom(corrections)
		}
		var correctionsJSON any
		if merged != nil {
			encoded, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("marshal corrections: %w", err)
			}
			correctionsJSON = string(encoded)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE proposals
             SET corrections_json = ?, is_approved = 1, approved_at = ?,
                 approved_by = ?, updated_at = ?
             WHERE id = ?`,
			correctionsJSON,
			timestamp(now),
			nullableString(approvedBy),
			timestamp(now),
			proposalID,
		); err != nil {
			return fmt.Errorf("approve proposal: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE items SET status = ?, updated_at = ? WHERE id = ?`,
			ItemApproved,
			timestamp(now),
			proposal.ItemID,
		); err != nil {
			return fmt.Errorf("transition item: %w", err)
		}

		var remaining int
		if err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM items
             WHERE batch_id = ? AND status NOT IN ('approved', 'complete', 'failed', 'cancelled')`,
			proposal.BatchID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("count unapproved items: %w", err)
		}
		result.AllApproved = remaining == 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	result.Proposal = proposal
	return result, nil
}

func scanProposal(scanner interface{ Scan(dest ...any) error }) (*Proposal, error) {
	var (
		id           int64
		itemID       int64
		batchID      int64
		fieldsJSON   string
		corrections  sql.NullString
		isApproved   sql.NullInt64
		approvedRaw  sql.NullString
		approvedBy   sql.NullString
		matchedPiece sql.NullInt64
		isNewPiece   sql.NullInt64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&itemID,
		&batchID,
		&fieldsJSON,
		&corrections,
		&isApproved,
		&approvedRaw,
		&approvedBy,
		&matchedPiece,
		&isNewPiece,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	proposal := &Proposal{
		ID:              id,
		ItemID:          itemID,
		BatchID:         batchID,
		FieldsJSON:      fieldsJSON,
		CorrectionsJSON: corrections.String,
		IsApproved:      isApproved.Valid && isApproved.Int64 != 0,
		ApprovedBy:      approvedBy.String,
		MatchedPieceID:  matchedPiece.Int64,
		IsNewPiece:      isNewPiece.Valid && isNewPiece.Int64 != 0,
	}
	if approvedRaw.Valid {
		if approved, err := parseTimeString(approvedRaw.String); err == nil {
			proposal.ApprovedAt = &approved
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		proposal.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		proposal.UpdatedAt = updated
	}
	return proposal, nil
}
