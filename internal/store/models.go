package store

import "time"

// BatchStatus tracks a batch through the upload pipeline.
type BatchStatus string

const (
	BatchCreated     BatchStatus = "created"
	BatchUploading   BatchStatus = "uploading"
	BatchProcessing  BatchStatus = "processing"
	BatchNeedsReview BatchStatus = "needs_review"
	BatchIngesting   BatchStatus = "ingesting"
	BatchComplete    BatchStatus = "complete"
	BatchFailed      BatchStatus = "failed"
	BatchCancelled   BatchStatus = "cancelled"
)

// Terminal reports whether no further mutation of the batch is allowed.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchComplete, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// ItemStatus tracks one file through its pipeline stages.
type ItemStatus string

const (
	ItemCreated       ItemStatus = "created"
	ItemValidated     ItemStatus = "validated"
	ItemTextExtracted ItemStatus = "text_extracted"
	ItemClassified    ItemStatus = "classified"
	ItemSplit         ItemStatus = "split"
	ItemApproved      ItemStatus = "approved"
	ItemComplete      ItemStatus = "complete"
	ItemFailed        ItemStatus = "failed"
	ItemCancelled     ItemStatus = "cancelled"
)

// Terminal reports whether the item has finished its lifecycle.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemComplete, ItemFailed, ItemCancelled:
		return true
	}
	return false
}

// Batch groups uploaded files processed together. Counters are a cache over
// child items and are recomputed, never incremented.
type Batch struct {
	ID             int64
	UserRef        string
	Status         BatchStatus
	TotalFiles     int
	ProcessedFiles int
	SuccessFiles   int
	FailedFiles    int
	ErrorSummary   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Item is one uploaded file tracked through the pipeline.
type Item struct {
	ID            int64
	BatchID       int64
	FileName      string
	FileSize      int64
	MimeType      string
	StorageKey    string
	Digest        string
	Status        ItemStatus
	CurrentStep   string
	ExtractedJSON string
	OCRText       string
	SplitJSON     string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Proposal is a reviewable draft of catalog metadata derived from one item.
// Corrections are merged over the extracted fields on read so the extraction
// provenance is preserved.
type Proposal struct {
	ID              int64
	ItemID          int64
	BatchID         int64
	FieldsJSON      string
	CorrectionsJSON string
	IsApproved      bool
	ApprovedAt      *time.Time
	ApprovedBy      string
	MatchedPieceID  int64
	IsNewPiece      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Instrument is one canonical catalog entry, read-only for the pipeline.
type Instrument struct {
	ID        int64
	Name      string
	Family    string
	SortOrder int
}

// Piece is a committed music library entry, created only by ingestion.
type Piece struct {
	ID              int64
	Title           string
	Composer        string
	Arranger        string
	Publisher       string
	Difficulty      string
	Genre           string
	Style           string
	DurationSeconds int
	Notes           string
	CreatedAt       time.Time
}

// PieceFile references an uploaded storage object owned by a piece. Ownership
// of the storage key transfers here from the upload pipeline at ingestion.
type PieceFile struct {
	ID         int64
	PieceID    int64
	FileName   string
	StorageKey string
	MimeType   string
	FileSize   int64
	CreatedAt  time.Time
}

// PiecePart links a piece (and optionally one of its files) to a resolved
// catalog instrument.
type PiecePart struct {
	ID           int64
	PieceID      int64
	FileID       int64
	InstrumentID int64
	PartName     string
	Confidence   float64
	CreatedAt    time.Time
}

// JobStatus tracks a queued job. Successful jobs are deleted rather than kept
// in a terminal state.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
)

// Job is one durable queue entry.
type Job struct {
	ID          int64
	Kind        string
	PayloadJSON string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	Priority    int
	RunAt       time.Time
	LastError   string
	HeartbeatAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetter preserves a job that exhausted its retry budget for inspection
// and replay.
type DeadLetter struct {
	ID          int64
	Kind        string
	PayloadJSON string
	Reason      string
	Attempts    int
	CreatedAt   time.Time
}
