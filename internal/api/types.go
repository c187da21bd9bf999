package api

import "encoding/json"

// Batch describes an upload batch in a transport-friendly format. Counters
// mirror the store's cached aggregates.
type Batch struct {
	ID             int64  `json:"id"`
	UserRef        string `json:"userRef"`
	Status         string `json:"status"`
	TotalFiles     int    `json:"totalFiles"`
	ProcessedFiles int    `json:"processedFiles"`
	SuccessFiles   int    `json:"successFiles"`
	FailedFiles    int    `json:"failedFiles"`
	ErrorSummary   string `json:"errorSummary,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

// Item describes one uploaded file and its pipeline progress.
type Item struct {
	ID           int64       `json:"id"`
	BatchID      int64       `json:"batchId"`
	FileName     string      `json:"fileName"`
	FileSize     int64       `json:"fileSize"`
	Status       string      `json:"status"`
	CurrentStep  string      `json:"currentStep,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Extraction   *Extraction `json:"extraction,omitempty"`
	SplitFiles   []SplitFile `json:"splitFiles,omitempty"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
}

// Extraction summarizes how an item's text was obtained.
type Extraction struct {
	PageCount  int     `json:"pageCount"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	OCRReason  string  `json:"ocrReason,omitempty"`
	TextChars  int     `json:"textChars"`
}

// SplitFile describes one per-part PDF produced by the splitter.
type SplitFile struct {
	PartName  string `json:"partName"`
	FileName  string `json:"fileName"`
	PageCount int    `json:"pageCount"`
	FileSize  int64  `json:"fileSize"`
}

// Proposal describes the reviewable metadata draft for one item. Field values
// have reviewer corrections already merged in.
type Proposal struct {
	ID              int64              `json:"id"`
	ItemID          int64              `json:"itemId"`
	BatchID         int64              `json:"batchId"`
	Title           string             `json:"title,omitempty"`
	Composer        string             `json:"composer,omitempty"`
	Arranger        string             `json:"arranger,omitempty"`
	Publisher       string             `json:"publisher,omitempty"`
	Difficulty      string             `json:"difficulty,omitempty"`
	Genre           string             `json:"genre,omitempty"`
	Style           string             `json:"style,omitempty"`
	DurationSeconds int                `json:"durationSeconds,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Instrumentation []PartAssignment   `json:"instrumentation,omitempty"`
	Confidence      map[string]float64 `json:"confidence,omitempty"`
	IsApproved      bool               `json:"isApproved"`
	ApprovedBy      string             `json:"approvedBy,omitempty"`
	ApprovedAt      string             `json:"approvedAt,omitempty"`
	MatchedPieceID  int64              `json:"matchedPieceId,omitempty"`
	IsNewPiece      bool               `json:"isNewPiece"`
}

// PartAssignment is one detected instrument part. Page indices are 0-indexed
// and inclusive; InstrumentID is zero when the label did not resolve.
type PartAssignment struct {
	Label        string  `json:"label"`
	PartName     string  `json:"partName,omitempty"`
	InstrumentID int64   `json:"instrumentId,omitempty"`
	StartPage    int     `json:"startPage"`
	EndPage      int     `json:"endPage"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Corrections is the reviewer override overlay sent with an approval. Nil
// fields leave the extracted value untouched.
type Corrections struct {
	Title           *string `json:"title,omitempty"`
	Composer        *string `json:"composer,omitempty"`
	Arranger        *string `json:"arranger,omitempty"`
	Publisher       *string `json:"publisher,omitempty"`
	Difficulty      *string `json:"difficulty,omitempty"`
	Genre           *string `json:"genre,omitempty"`
	Style           *string `json:"style,omitempty"`
	DurationSeconds *int    `json:"durationSeconds,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// ItemDetail pairs an item with its proposal, when one exists.
type ItemDetail struct {
	Item     Item      `json:"item"`
	Proposal *Proposal `json:"proposal,omitempty"`
}

// BatchDetail is the full review surface for a batch.
type BatchDetail struct {
	Batch Batch        `json:"batch"`
	Items []ItemDetail `json:"items"`
}

// DeadLetter describes a job that exhausted its retry budget.
type DeadLetter struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	Jobs         map[string]int     `json:"jobs"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus captures availability of an external tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// HealthResponse reports daemon liveness and backend reachability.
type HealthResponse struct {
	Status string `json:"status"`
	Vision string `json:"vision,omitempty"`
}

// CreateBatchRequest opens a new upload batch.
type CreateBatchRequest struct {
	UserRef string `json:"userRef"`
}

// ApproveProposalRequest records one reviewer approval.
type ApproveProposalRequest struct {
	ApprovedBy  string       `json:"approvedBy"`
	Corrections *Corrections `json:"corrections,omitempty"`
}

// ApprovalResponse reports the approval outcome. AllApproved means the batch
// has moved on to ingestion.
type ApprovalResponse struct {
	Proposal    Proposal `json:"proposal"`
	AllApproved bool     `json:"allApproved"`
}

// ReplayResponse reports the job created by a dead-letter replay.
type ReplayResponse struct {
	JobID int64  `json:"jobId"`
	Kind  string `json:"kind"`
}

// BatchResponse wraps a single batch.
type BatchResponse struct {
	Batch Batch `json:"batch"`
}

// BatchListResponse wraps a collection of batches.
type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

// BatchDetailResponse wraps a batch with its items and proposals.
type BatchDetailResponse struct {
	Batch BatchDetail `json:"batch"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item Item `json:"item"`
}

// DeadLetterListResponse wraps the dead-letter backlog.
type DeadLetterListResponse struct {
	DeadLetters []DeadLetter `json:"deadLetters"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
