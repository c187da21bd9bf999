package api

import (
	"encoding/json"
	"time"

	"partbank/internal/store"
)

// FromBatch converts a store batch into its transport form.
func FromBatch(b *store.Batch) Batch {
	if b == nil {
		return Batch{}
	}
	return Batch{
		ID:             b.ID,
		UserRef:        b.UserRef,
		Status:         string(b.Status),
		TotalFiles:     b.TotalFiles,
		ProcessedFiles: b.ProcessedFiles,
		SuccessFiles:   b.SuccessFiles,
		FailedFiles:    b.FailedFiles,
		ErrorSummary:   b.ErrorSummary,
		CreatedAt:      formatTime(b.CreatedAt),
		UpdatedAt:      formatTime(b.UpdatedAt),
		CompletedAt:    formatTimePtr(b.CompletedAt),
	}
}

// FromItem converts a store item, decoding its extraction and split records.
// Undecodable records are omitted rather than failing the whole view.
func FromItem(i *store.Item) Item {
	if i == nil {
		return Item{}
	}
	item := Item{
		ID:           i.ID,
		BatchID:      i.BatchID,
		FileName:     i.FileName,
		FileSize:     i.FileSize,
		Status:       string(i.Status),
		CurrentStep:  i.CurrentStep,
		ErrorMessage: i.ErrorMessage,
		CreatedAt:    formatTime(i.CreatedAt),
		UpdatedAt:    formatTime(i.UpdatedAt),
	}
	if record, err := i.Extraction(); err == nil && record.Method != "" {
		item.Extraction = &Extraction{
			PageCount:  record.PageCount,
			Method:     record.Method,
			Confidence: record.Confidence,
			OCRReason:  record.OCRReason,
			TextChars:  record.TextChars,
		}
	}
	if files, err := i.SplitFiles(); err == nil && len(files) > 0 {
		item.SplitFiles = make([]SplitFile, 0, len(files))
		for _, file := range files {
			item.SplitFiles = append(item.SplitFiles, SplitFile{
				PartName:  file.PartName,
				FileName:  file.FileName,
				PageCount: file.PageCount,
				FileSize:  file.FileSize,
			})
		}
	}
	return item
}

// FromProposal converts a store proposal with reviewer corrections merged in.
func FromProposal(p *store.Proposal) Proposal {
	if p == nil {
		return Proposal{}
	}
	out := Proposal{
		ID:             p.ID,
		ItemID:         p.ItemID,
		BatchID:        p.BatchID,
		IsApproved:     p.IsApproved,
		ApprovedBy:     p.ApprovedBy,
		ApprovedAt:     formatTimePtr(p.ApprovedAt),
		MatchedPieceID: p.MatchedPieceID,
		IsNewPiece:     p.IsNewPiece,
	}
	fields, err := p.MergedFields()
	if err != nil {
		return out
	}
	out.Title = fields.Title
	out.Composer = fields.Composer
	out.Arranger = fields.Arranger
	out.Publisher = fields.Publisher
	out.Difficulty = fields.Difficulty
	out.Genre = fields.Genre
	out.Style = fields.Style
	out.DurationSeconds = fields.DurationSeconds
	out.Notes = fields.Notes
	out.Confidence = fields.Confidence
	if len(fields.Instrumentation) > 0 {
		out.Instrumentation = make([]PartAssignment, 0, len(fields.Instrumentation))
		for _, part := range fields.Instrumentation {
			out.Instrumentation = append(out.Instrumentation, PartAssignment{
				Label:        part.Label,
				PartName:     part.PartName,
				InstrumentID: part.InstrumentID,
				StartPage:    part.StartPage,
				EndPage:      part.EndPage,
				Confidence:   part.Confidence,
			})
		}
	}
	return out
}

// FromDeadLetter converts a dead-letter entry, carrying the raw payload for
// inspection.
func FromDeadLetter(d *store.DeadLetter) DeadLetter {
	if d == nil {
		return DeadLetter{}
	}
	letter := DeadLetter{
		ID:        d.ID,
		Kind:      d.Kind,
		Reason:    d.Reason,
		Attempts:  d.Attempts,
		CreatedAt: formatTime(d.CreatedAt),
	}
	if json.Valid([]byte(d.PayloadJSON)) {
		letter.Payload = json.RawMessage(d.PayloadJSON)
	}
	return letter
}

// ToStore converts the correction overlay into its store form.
func (c *Corrections) ToStore() *store.ProposalCorrections {
	if c == nil {
		return nil
	}
	return &store.ProposalCorrections{
		Title:           c.Title,
		Composer:        c.Composer,
		Arranger:        c.Arranger,
		Publisher:       c.Publisher,
		Difficulty:      c.Difficulty,
		Genre:           c.Genre,
		Style:           c.Style,
		DurationSeconds: c.DurationSeconds,
		Notes:           c.Notes,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
