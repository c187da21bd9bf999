// Package pipeline coordinates the smart upload workflow: batches of PDF
// uploads move through extraction, classification, splitting, review, and
// ingestion into the music library.
//
// The service owns batch lifecycle decisions and the queue stage handlers.
// Multi-row transactions (approval, ingestion, counter recomputation) live in
// the store; everything here composes those primitives and keeps item and
// batch statuses moving.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"partbank/internal/config"
	"partbank/internal/extraction"
	"partbank/internal/instruments"
	"partbank/internal/logging"
	"partbank/internal/notifications"
	"partbank/internal/queue"
	"partbank/internal/services"
	"partbank/internal/splitter"
	"partbank/internal/storage"
	"partbank/internal/store"
	"partbank/internal/textutil"
	"partbank/internal/vision"
)

// Deps bundles the collaborators the pipeline service needs. All fields are
// required except Notifier, which defaults to the noop service.
type Deps struct {
	Store     *store.Store
	Queue     *queue.Client
	Objects   storage.Service
	Extractor *extraction.Extractor
	Splitter  *splitter.Splitter
	Vision    vision.Service
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Service drives the upload pipeline.
type Service struct {
	cfg       *config.Config
	st        *store.Store
	jobs      *queue.Client
	objects   storage.Service
	extractor *extraction.Extractor
	split     *splitter.Splitter
	matcher   *instruments.Matcher
	vision    vision.Service
	notify    notifications.Service
	logger    *slog.Logger
	pieces    *pieceCache
}

// New builds the pipeline service. The instrument matcher is indexed from the
// catalog once here; the catalog is seeded at daemon startup and read-only
// afterwards.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if deps.Store == nil || deps.Queue == nil || deps.Objects == nil {
		return nil, errors.New("pipeline: store, queue, and object storage are required")
	}
	if deps.Extractor == nil || deps.Splitter == nil || deps.Vision == nil {
		return nil, errors.New("pipeline: extractor, splitter, and vision backend are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	catalog, err := deps.Store.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load instrument catalog: %w", err)
	}

	return &Service{
		cfg:       cfg,
		st:        deps.Store,
		jobs:      deps.Queue,
		objects:   deps.Objects,
		extractor: deps.Extractor,
		split:     deps.Splitter,
		matcher:   instruments.NewMatcher(catalog, cfg.Matching),
		vision:    deps.Vision,
		notify:    deps.Notifier,
		logger:    logging.NewComponentLogger(deps.Logger, "pipeline"),
		pieces:    newPieceCache(deps.Store),
	}, nil
}

// Store exposes the backing store for read-only views.
func (s *Service) Store() *store.Store { return s.st }

// Queue exposes the job client for dead-letter replay.
func (s *Service) Queue() *queue.Client { return s.jobs }

// CreateBatch opens a new upload batch for the given user reference.
func (s *Service) CreateBatch(ctx context.Context, userRef string) (*store.Batch, error) {
	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return nil, services.Wrap(services.ErrValidation, "batch", "create", "user reference is required", nil)
	}
	batch, err := s.st.CreateBatch(ctx, userRef)
	if err != nil {
		return nil, err
	}
	s.logger.Info("batch created",
		logging.Int64(logging.FieldBatchID, batch.ID),
		logging.String("user_ref", userRef),
	)
	return batch, nil
}

// AddItem stores one uploaded PDF in the batch, rejects duplicates by content
// digest, and enqueues its extraction job. Only batches still accepting
// uploads may receive items.
func (s *Service) AddItem(ctx context.Context, batchID int64, fileName string, content io.Reader) (*store.Item, error) {
	ctx = services.WithBatchID(ctx, batchID)

	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "add item", fmt.Sprintf("batch %d", batchID), nil)
	}
	if batch.Status != store.BatchCreated && batch.Status != store.BatchUploading {
		return nil, services.Wrap(services.ErrInvalidState, "batch", "add item",
			fmt.Sprintf("batch %d is %s and no longer accepts uploads", batchID, batch.Status), nil)
	}

	fileName = textutil.SanitizeFileName(fileName)
	if fileName == "" {
		return nil, services.Wrap(services.ErrValidation, "batch", "add item", "file name is required", nil)
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return nil, services.Wrap(services.ErrValidation, "batch", "add item",
			fmt.Sprintf("%s: only PDF uploads are accepted", fileName), nil)
	}

	staged, size, digest, err := s.stageUpload(content)
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)

	existing, err := s.st.FindItemByDigest(ctx, batchID, digest)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrValidation, "batch", "add item",
			fmt.Sprintf("%s duplicates %s already in this batch", fileName, existing.FileName), nil)
	}

	storageKey := "uploads/" + uuid.NewString() + ".pdf"
	f, err := os.Open(staged)
	if err != nil {
		return nil, fmt.Errorf("reopen staged upload: %w", err)
	}
	if _, err := s.objects.Upload(ctx, storageKey, f); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	item, err := s.st.AddItem(ctx, &store.Item{
		BatchID:    batchID,
		FileName:   fileName,
		FileSize:   size,
		MimeType:   "application/pdf",
		StorageKey: storageKey,
		Digest:     digest,
		Status:     store.ItemValidated,
	})
	if err != nil {
		return nil, err
	}

	if batch.Status == store.BatchCreated {
		batch.Status = store.BatchUploading
		if err := s.st.UpdateBatch(ctx, batch); err != nil {
			return nil, err
		}
	}

	if _, err := s.jobs.Enqueue(ctx, &queue.ExtractPayload{
		BatchID:    batchID,
		ItemID:     item.ID,
		StorageKey: storageKey,
	}); err != nil {
		return nil, err
	}
	if _, err := s.st.RecomputeBatch(ctx, batchID); err != nil {
		return nil, err
	}

	s.logger.Info("item added",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("file_name", fileName),
		logging.Int64("file_size", size),
	)
	return item, nil
}

// FinalizeBatch closes the batch for uploads and moves it into processing.
func (s *Service) FinalizeBatch(ctx context.Context, batchID int64) (*store.Batch, error) {
	ctx = services.WithBatchID(ctx, batchID)

	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "finalize", fmt.Sprintf("batch %d", batchID), nil)
	}
	if batch.Status != store.BatchCreated && batch.Status != store.BatchUploading {
		return nil, services.Wrap(services.ErrInvalidState, "batch", "finalize",
			fmt.Sprintf("batch %d is %s", batchID, batch.Status), nil)
	}

	items, err := s.st.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrValidation, "batch", "finalize", "batch has no uploads", nil)
	}

	batch.Status = store.BatchProcessing
	if err := s.st.UpdateBatch(ctx, batch); err != nil {
		return nil, err
	}
	s.logger.Info("batch finalized",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("items", len(items)),
	)

	// Fast uploads may already have every item split by the time the batch is
	// finalized.
	if err := s.maybeAdvanceBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.st.GetBatch(ctx, batchID)
}

// ApproveProposal records a reviewer approval with optional corrections. When
// the approval is the batch's last, the batch moves to ingesting and a single
// ingest job is enqueued.
func (s *Service) ApproveProposal(ctx context.Context, proposalID int64, approvedBy string, corrections *store.ProposalCorrections) (*store.ApprovalResult, error) {
	result, err := s.st.ApproveProposal(ctx, proposalID, approvedBy, corrections)
	if err != nil {
		return nil, err
	}

	batchID := result.Proposal.BatchID
	ctx = services.WithBatchID(ctx, batchID)
	s.logger.Info("proposal approved",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int64("proposal_id", proposalID),
		logging.String("approved_by", approvedBy),
		logging.Bool("all_approved", result.AllApproved),
	)

	if result.AllApproved {
		batch, err := s.st.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if batch != nil && batch.Status == store.BatchNeedsReview {
			batch.Status = store.BatchIngesting
			if err := s.st.UpdateBatch(ctx, batch); err != nil {
				return nil, err
			}
			if _, err := s.jobs.Enqueue(ctx, &queue.IngestPayload{BatchID: batchID}); err != nil {
				return nil, err
			}
			s.logger.Info("batch fully approved, ingestion queued",
				logging.Int64(logging.FieldBatchID, batchID))
		}
	}
	return result, nil
}

// CancelBatch cancels a batch and everything still open inside it, then
// schedules storage cleanup. Batches that are already terminal or mid-ingest
// cannot be cancelled.
func (s *Service) CancelBatch(ctx context.Context, batchID int64) (*store.Batch, error) {
	ctx = services.WithBatchID(ctx, batchID)

	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "cancel", fmt.Sprintf("batch %d", batchID), nil)
	}
	if batch.Status.Terminal() {
		return nil, services.Wrap(services.ErrInvalidState, "batch", "cancel",
			fmt.Sprintf("batch %d is already %s", batchID, batch.Status), nil)
	}
	if batch.Status == store.BatchIngesting {
		return nil, services.Wrap(services.ErrInvalidState, "batch", "cancel",
			"ingestion has started and cannot be cancelled", nil)
	}

	cancelled, err := s.st.CancelOpenItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	batch.Status = store.BatchCancelled
	if err := s.st.UpdateBatch(ctx, batch); err != nil {
		return nil, err
	}
	if _, err := s.jobs.Enqueue(ctx, &queue.CleanupPayload{BatchID: batchID}); err != nil {
		return nil, err
	}
	updated, err := s.st.RecomputeBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch cancelled",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int64("items_cancelled", cancelled),
	)
	return updated, nil
}

// stageUpload copies the upload into the staging directory while computing
// its digest, so dedup runs before any object is stored.
func (s *Service) stageUpload(content io.Reader) (path string, size int64, digest string, err error) {
	if err := os.MkdirAll(s.cfg.Paths.StagingDir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.Paths.StagingDir, "upload-*.pdf")
	if err != nil {
		return "", 0, "", fmt.Errorf("create staging file: %w", err)
	}
	defer tmp.Close()

	tee := io.TeeReader(content, tmp)
	digest, err = storage.Digest(tee)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, "", err
	}
	info, err := os.Stat(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, "", fmt.Errorf("stat staging file: %w", err)
	}
	return tmp.Name(), info.Size(), digest, nil
}

// stageObject materializes a stored object as a temp file for tools that need
// filesystem access. The caller removes the returned path.
func (s *Service) stageObject(ctx context.Context, key string) (string, error) {
	rc, err := s.objects.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if err := os.MkdirAll(s.cfg.Paths.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.Paths.StagingDir, "stage-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close staged object: %w", err)
	}
	return tmp.Name(), nil
}
