package queue

import (
	"encoding/json"
	"fmt"

	"partbank/internal/services"
)

// Kind identifies a job type. The set is closed: payload encoding, decoding,
// and policy lookup all switch exhaustively over these values, so adding a
// kind forces every site to handle it. Payload shapes are stable and
// versionless; a changed shape requires a new kind name so in-flight
// dead-letter entries are never misinterpreted.
type Kind string

const (
	KindExtract  Kind = "extract"
	KindClassify Kind = "classify"
	KindSplit    Kind = "split"
	KindIngest   Kind = "ingest"
	KindCleanup  Kind = "cleanup"
)

// Kinds lists every job kind in dispatch order.
func Kinds() []Kind {
	return []Kind{KindExtract, KindClassify, KindSplit, KindIngest, KindCleanup}
}

// Valid reports whether the kind is part of the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindExtract, KindClassify, KindSplit, KindIngest, KindCleanup:
		return true
	}
	return false
}

// Payload is the typed job payload union. Exactly one struct implements it
// per kind.
type Payload interface {
	Kind() Kind
}

// ExtractPayload drives the text extraction stage for one item.
type ExtractPayload struct {
	BatchID    int64  `json:"batch_id"`
	ItemID     int64  `json:"item_id"`
	StorageKey string `json:"storage_key"`
}

func (ExtractPayload) Kind() Kind { return KindExtract }

// ClassifyPayload drives score analysis and proposal creation for one item.
type ClassifyPayload struct {
	BatchID int64 `json:"batch_id"`
	ItemID  int64 `json:"item_id"`
}

func (ClassifyPayload) Kind() Kind { return KindClassify }

// SplitPayload drives per-part PDF splitting for one item.
type SplitPayload struct {
	BatchID    int64  `json:"batch_id"`
	ItemID     int64  `json:"item_id"`
	StorageKey string `json:"storage_key"`
}

func (SplitPayload) Kind() Kind { return KindSplit }

// IngestPayload drives catalog ingestion for a fully approved batch.
type IngestPayload struct {
	BatchID int64 `json:"batch_id"`
}

func (IngestPayload) Kind() Kind { return KindIngest }

// CleanupPayload drives best-effort temp file deletion for a cancelled batch.
type CleanupPayload struct {
	BatchID int64 `json:"batch_id"`
}

func (CleanupPayload) Kind() Kind { return KindCleanup }

// EncodePayload serializes a payload for storage.
func EncodePayload(payload Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: nil payload", services.ErrValidation)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", payload.Kind(), err)
	}
	return string(data), nil
}

// DecodePayload deserializes a stored payload into its typed struct.
func DecodePayload(kind Kind, data string) (Payload, error) {
	decode := func(target Payload) (Payload, error) {
		if err := json.Unmarshal([]byte(data), target); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return target, nil
	}

	switch kind {
	case KindExtract:
		return decode(&ExtractPayload{})
	case KindClassify:
		return decode(&ClassifyPayload{})
	case KindSplit:
		return decode(&SplitPayload{})
	case KindIngest:
		return decode(&IngestPayload{})
	case KindCleanup:
		return decode(&CleanupPayload{})
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", services.ErrValidation, kind)
	}
}
