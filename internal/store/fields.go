package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProposalFields is the structured extraction record behind a proposal's
// fields_json column. Scalar fields carry per-field confidence scores in
// Confidence keyed by the JSON field name.
type ProposalFields struct {
	Title           string             `json:"title,omitempty"`
	Composer        string             `json:"composer,omitempty"`
	Arranger        string             `json:"arranger,omitempty"`
	Publisher       string             `json:"publisher,omitempty"`
	Difficulty      string             `json:"difficulty,omitempty"`
	Genre           string             `json:"genre,omitempty"`
	Style           string             `json:"style,omitempty"`
	DurationSeconds int                `json:"duration_seconds,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Instrumentation []PartAssignment   `json:"instrumentation,omitempty"`
	Confidence      map[string]float64 `json:"confidence,omitempty"`
}

// PartAssignment describes one instrument part detected inside an uploaded
// packet: the raw label, its resolved catalog instrument (zero when
// unresolved), and the page range the part occupies. Page indices are
// 0-indexed and inclusive.
type PartAssignment struct {
	Label        string  `json:"label"`
	PartName     string  `json:"part_name,omitempty"`
	InstrumentID int64   `json:"instrument_id,omitempty"`
	StartPage    int     `json:"start_page"`
	EndPage      int     `json:"end_page"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// ProposalCorrections is the reviewer-supplied overlay. Nil pointers leave
// the extracted value untouched; set pointers override it on read.
type ProposalCorrections struct {
	Title           *string `json:"title,omitempty"`
	Composer        *string `json:"composer,omitempty"`
	Arranger        *string `json:"arranger,omitempty"`
	Publisher       *string `json:"publisher,omitempty"`
	Difficulty      *string `json:"difficulty,omitempty"`
	Genre           *string `json:"genre,omitempty"`
	Style           *string `json:"style,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// Empty reports whether the overlay carries no overrides.
func (c *ProposalCorrections) Empty() bool {
	if c == nil {
		return true
	}
	return c.Title == nil && c.Composer == nil && c.Arranger == nil &&
		c.Publisher == nil && c.Difficulty == nil && c.Genre == nil &&
		c.Style == nil && c.DurationSeconds == nil && c.Notes == nil
}

// MergeFrom copies set overrides from other into c, leaving existing
// overrides in place unless other replaces them.
func (c *ProposalCorrections) MergeFrom(other *ProposalCorrections) {
	if other == nil {
		return
	}
	if other.Title != nil {
		c.Title = other.Title
	}
	if other.Composer != nil {
		c.Composer = other.Composer
	}
	if other.Arranger != nil {
		c.Arranger = other.Arranger
	}
	if other.Publisher != nil {
		c.Publisher = other.Publisher
	}
	if other.Difficulty != nil {
		c.Difficulty = other.Difficulty
	}
	if other.Genre != nil {
		c.Genre = other.Genre
	}
	if other.Style != nil {
		c.Style = other.Style
	}
	if other.DurationSeconds != nil {
		c.DurationSeconds = other.DurationSeconds
	}
	if other.Notes != nil {
		c.Notes = other.Notes
	}
}

// Merged returns the effective field values: corrections override extracted
// values. The receiver is not modified.
func (f ProposalFields) Merged(c *ProposalCorrections) ProposalFields {
	out := f
	if c == nil {
		return out
	}
	if c.Title != nil {
		out.Title = *c.Title
	}
	if c.Composer != nil {
		out.Composer = *c.Composer
	}
	if c.Arranger != nil {
		out.Arranger = *c.Arranger
	}
	if c.Publisher != nil {
		out.Publisher = *c.Publisher
	}
	if c.Difficulty != nil {
		out.Difficulty = *c.Difficulty
	}
	if c.Genre != nil {
		out.Genre = *c.Genre
	}
	if c.Style != nil {
		out.Style = *c.Style
	}
	if c.DurationSeconds != nil {
		out.DurationSeconds = *c.DurationSeconds
	}
	if c.Notes != nil {
		out.Notes = *c.Notes
	}
	return out
}

// ExtractionRecord summarizes how an item's text was obtained. Stored in the
// item's extracted_json column; the raw text lives in ocr_text.
type ExtractionRecord struct {
	PageCount  int     `json:"page_count"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	OCRReason  string  `json:"ocr_reason,omitempty"`
	TextChars  int     `json:"text_chars"`
}

// SplitFile records one per-part PDF produced by the splitter and uploaded
// to storage. Stored in the item's split_json column as an array.
type SplitFile struct {
	PartName   string `json:"part_name"`
	FileName   string `json:"file_name"`
	StorageKey string `json:"storage_key"`
	PageCount  int    `json:"page_count"`
	FileSize   int64  `json:"file_size"`
}

// Fields decodes the proposal's extracted fields.
func (p *Proposal) Fields() (ProposalFields, error) {
	var fields ProposalFields
	if strings.TrimSpace(p.FieldsJSON) == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(p.FieldsJSON), &fields); err != nil {
		return fields, fmt.Errorf("decode proposal fields: %w", err)
	}
	return fields, nil
}

// Corrections decodes the proposal's correction overlay, nil when none exist.
func (p *Proposal) Corrections() (*ProposalCorrections, error) {
	if strings.TrimSpace(p.CorrectionsJSON) == "" {
		return nil, nil
	}
	var corrections ProposalCorrections
	if err := json.Unmarshal([]byte(p.CorrectionsJSON), &corrections); err != nil {
		return nil, fmt.Errorf("decode proposal corrections: %w", err)
	}
	return &corrections, nil
}

// MergedFields returns the effective field values with corrections applied.
func (p *Proposal) MergedFields() (ProposalFields, error) {
	fields, err := p.Fields()
	if err != nil {
		return fields, err
	}
	corrections, err := p.Corrections()
	if err != nil {
		return fields, err
	}
	return fields.Merged(corrections), nil
}

// Extraction decodes the item's extraction record, zero when absent.
func (i *Item) Extraction() (ExtractionRecord, error) {
	var record ExtractionRecord
	if strings.TrimSpace(i.ExtractedJSON) == "" {
		return record, nil
	}
	if err := json.Unmarshal([]byte(i.ExtractedJSON), &record); err != nil {
		return record, fmt.Errorf("decode extraction record: %w", err)
	}
	return record, nil
}

// SplitFiles decodes the item's split results, nil when the item was never
// split.
func (i *Item) SplitFiles() ([]SplitFile, error) {
	if strings.TrimSpace(i.SplitJSON) == "" {
		return nil, nil
	}
	var files []SplitFile
	if err := json.Unmarshal([]byte(i.SplitJSON), &files); err != nil {
		return nil, fmt.Errorf("decode split files: %w", err)
	}
	return files, nil
}
