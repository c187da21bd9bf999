package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"partbank/internal/logging"
	"partbank/internal/queue"
	"partbank/internal/services"
	"partbank/internal/splitter"
	"partbank/internal/store"
	"partbank/internal/vision"
)

// RegisterHandlers installs the stage handlers and the dead-letter observer
// on the worker set.
func (s *Service) RegisterHandlers(w *queue.Workers) {
	w.Register(queue.KindExtract, queue.HandlerFunc(s.handleExtract))
	w.Register(queue.KindClassify, queue.HandlerFunc(s.handleClassify))
	w.Register(queue.KindSplit, queue.HandlerFunc(s.handleSplit))
	w.Register(queue.KindIngest, queue.HandlerFunc(s.handleIngest))
	w.Register(queue.KindCleanup, queue.HandlerFunc(s.handleCleanup))
	w.OnDeadLetter(s.handleDeadLetter)
}

func (s *Service) handleExtract(ctx context.Context, payload queue.Payload) error {
	p, ok := payload.(*queue.ExtractPayload)
	if !ok {
		return services.Wrap(services.ErrValidation, "extract", "payload", fmt.Sprintf("unexpected payload %T", payload), nil)
	}
	ctx = services.WithBatchID(services.WithItemID(ctx, p.ItemID), p.BatchID)

	item, skip, err := s.loadStageItem(ctx, p.ItemID, store.ItemValidated)
	if err != nil || skip {
		return err
	}

	staged, err := s.stageObject(ctx, p.StorageKey)
	if err != nil {
		return services.Wrap(services.ErrTransient, "extract", "stage", p.StorageKey, err)
	}
	defer os.Remove(staged)

	result, err := s.extractor.Extract(ctx, staged)
	if err != nil {
		return err
	}

	record := store.ExtractionRecord{
		PageCount:  result.PageCount,
		Method:     result.Method,
		Confidence: result.Confidence,
		OCRReason:  result.OCRReason,
		TextChars:  len(result.Text),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode extraction record: %w", err)
	}

	item.ExtractedJSON = string(encoded)
	item.OCRText = result.Text
	item.Status = store.ItemTextExtracted
	item.CurrentStep = "extract"
	item.ErrorMessage = ""
	if err := s.st.UpdateItem(ctx, item); err != nil {
		return err
	}

	if _, err := s.jobs.Enqueue(ctx, &queue.ClassifyPayload{BatchID: p.BatchID, ItemID: p.ItemID}); err != nil {
		return err
	}
	if _, err := s.st.RecomputeBatch(ctx, p.BatchID); err != nil {
		return err
	}

	s.logger.Info("text extracted",
		logging.Int64(logging.FieldBatchID, p.BatchID),
		logging.Int64(logging.FieldItemID, p.ItemID),
		logging.String("method", result.Method),
		logging.Int("pages", result.PageCount),
		logging.Int("text_chars", record.TextChars),
	)
	return nil
}

func (s *Service) handleClassify(ctx context.Context, payload queue.Payload) error {
	p, ok := payload.(*queue.ClassifyPayload)
	if !ok {
		return services.Wrap(services.ErrValidation, "classify", "payload", fmt.Sprintf("unexpected payload %T", payload), nil)
	}
	ctx = services.WithBatchID(services.WithItemID(ctx, p.ItemID), p.BatchID)

	item, skip, err := s.loadStageItem(ctx, p.ItemID, store.ItemTextExtracted)
	if err != nil || skip {
		return err
	}

	analysis, err := s.vision.AnalyzeScore(ctx, item.OCRText)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, "classify", "analyze", "", err)
	}

	fields := s.buildProposalFields(ctx, item, analysis)

	matchedPieceID, score, err := s.pieces.BestMatch(ctx, fields.Title)
	if err != nil {
		return err
	}
	if score < pieceMatchThreshold {
		matchedPieceID = 0
	}

	if _, err := s.st.CreateProposal(ctx, item.ID, p.BatchID, fields, matchedPieceID); err != nil {
		return err
	}

	item.Status = store.ItemClassified
	item.CurrentStep = "classify"
	if err := s.st.UpdateItem(ctx, item); err != nil {
		return err
	}

	if len(fields.Instrumentation) > 0 {
		if _, err := s.jobs.Enqueue(ctx, &queue.SplitPayload{
			BatchID:    p.BatchID,
			ItemID:     p.ItemID,
			StorageKey: item.StorageKey,
		}); err != nil {
			return err
		}
	} else {
		// Nothing to split; the packet is reviewed and ingested as one file.
		item.Status = store.ItemSplit
		item.CurrentStep = "split"
		if err := s.st.UpdateItem(ctx, item); err != nil {
			return err
		}
	}

	if _, err := s.st.RecomputeBatch(ctx, p.BatchID); err != nil {
		return err
	}
	if err := s.maybeAdvanceBatch(ctx, p.BatchID); err != nil {
		return err
	}

	s.logger.Info("item classified",
		logging.Int64(logging.FieldBatchID, p.BatchID),
		logging.Int64(logging.FieldItemID, p.ItemID),
		logging.String("title", fields.Title),
		logging.Int("parts", len(fields.Instrumentation)),
		logging.Int64("matched_piece_id", matchedPieceID),
	)
	return nil
}

// buildProposalFields maps the vision analysis into a structured proposal,
// resolving each detected part label against the instrument catalog.
func (s *Service) buildProposalFields(ctx context.Context, item *store.Item, analysis vision.ScoreAnalysis) store.ProposalFields {
	fields := store.ProposalFields{
		Title:           strings.TrimSpace(analysis.Title),
		Composer:        strings.TrimSpace(analysis.Composer),
		Arranger:        strings.TrimSpace(analysis.Arranger),
		Publisher:       strings.TrimSpace(analysis.Publisher),
		Difficulty:      strings.TrimSpace(analysis.Difficulty),
		Genre:           strings.TrimSpace(analysis.Genre),
		Style:           strings.TrimSpace(analysis.Style),
		DurationSeconds: analysis.DurationSeconds,
		Notes:           strings.TrimSpace(analysis.Notes),
		Confidence:      analysis.Confidence,
	}
	if fields.Title == "" {
		fields.Title = strings.TrimSuffix(item.FileName, filepath.Ext(item.FileName))
	}

	labels := make([]string, 0, len(analysis.Parts))
	for _, part := range analysis.Parts {
		labels = append(labels, part.Label)
	}
	byInstrument, unresolved := s.matcher.MapLabels(labels)
	for _, unres := range unresolved {
		s.logger.Warn("part label unresolved",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String("label", unres.Label),
			logging.String("best_guess", unres.BestGuess),
			logging.Float64("confidence", unres.Confidence),
		)
	}

	for _, part := range analysis.Parts {
		assignment := store.PartAssignment{
			Label:      part.Label,
			StartPage:  part.StartPage,
			EndPage:    part.EndPage,
			Confidence: part.Confidence,
		}
		if match, err := s.matcher.Match(part.Label); err == nil {
			assignment.PartName = match.Instrument.Name
			assignment.InstrumentID = match.Instrument.ID
			// Several labels may resolve to the same instrument; the batch
			// mapping keeps the best confidence seen across all of them.
			assignment.Confidence = byInstrument[match.Instrument.ID].Confidence
		}
		fields.Instrumentation = append(fields.Instrumentation, assignment)
	}
	return fields
}

func (s *Service) handleSplit(ctx context.Context, payload queue.Payload) error {
	p, ok := payload.(*queue.SplitPayload)
	if !ok {
		return services.Wrap(services.ErrValidation, "split", "payload", fmt.Sprintf("unexpected payload %T", payload), nil)
	}
	ctx = services.WithBatchID(services.WithItemID(ctx, p.ItemID), p.BatchID)

	item, skip, err := s.loadStageItem(ctx, p.ItemID, store.ItemClassified)
	if err != nil || skip {
		return err
	}

	proposal, err := s.st.GetProposalByItem(ctx, item.ID)
	if err != nil {
		return err
	}
	if proposal == nil {
		return services.Wrap(services.ErrNotFound, "split", "proposal", fmt.Sprintf("item %d has no proposal", item.ID), nil)
	}
	fields, err := proposal.MergedFields()
	if err != nil {
		return services.Wrap(services.ErrValidation, "split", "proposal", "", err)
	}
	record, err := item.Extraction()
	if err != nil {
		return services.Wrap(services.ErrValidation, "split", "extraction record", "", err)
	}

	instructions := make([]splitter.Instruction, 0, len(fields.Instrumentation))
	for _, part := range fields.Instrumentation {
		name := part.PartName
		if name == "" {
			name = part.Label
		}
		instructions = append(instructions, splitter.Instruction{
			PartName:  name,
			StartPage: part.StartPage,
			EndPage:   part.EndPage,
		})
	}

	staged, err := s.stageObject(ctx, p.StorageKey)
	if err != nil {
		return services.Wrap(services.ErrTransient, "split", "stage", p.StorageKey, err)
	}
	defer os.Remove(staged)

	destDir, err := os.MkdirTemp(s.cfg.Paths.StagingDir, "split-*")
	if err != nil {
		return fmt.Errorf("create split directory: %w", err)
	}
	defer os.RemoveAll(destDir)

	files, err := s.split.Split(ctx, staged, destDir, record.PageCount, instructions)
	if err != nil {
		return err
	}

	splitFiles := make([]store.SplitFile, 0, len(files))
	for _, f := range files {
		key := fmt.Sprintf("parts/%d/%d/%s", p.BatchID, p.ItemID, f.FileName)
		src, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("open part file: %w", err)
		}
		_, uploadErr := s.objects.Upload(ctx, key, src)
		src.Close()
		if uploadErr != nil {
			return services.Wrap(services.ErrTransient, "split", "upload part", key, uploadErr)
		}
		splitFiles = append(splitFiles, store.SplitFile{
			PartName:   f.PartName,
			FileName:   f.FileName,
			StorageKey: key,
			PageCount:  f.PageCount,
			FileSize:   f.FileSize,
		})
	}

	encoded, err := json.Marshal(splitFiles)
	if err != nil {
		return fmt.Errorf("encode split files: %w", err)
	}
	item.SplitJSON = string(encoded)
	item.Status = store.ItemSplit
	item.CurrentStep = "split"
	if err := s.st.UpdateItem(ctx, item); err != nil {
		return err
	}

	if _, err := s.st.RecomputeBatch(ctx, p.BatchID); err != nil {
		return err
	}
	if err := s.maybeAdvanceBatch(ctx, p.BatchID); err != nil {
		return err
	}

	s.logger.Info("item split",
		logging.Int64(logging.FieldBatchID, p.BatchID),
		logging.Int64(logging.FieldItemID, p.ItemID),
		logging.Int("parts", len(splitFiles)),
	)
	return nil
}

func (s *Service) handleIngest(ctx context.Context, payload queue.Payload) error {
	p, ok := payload.(*queue.IngestPayload)
	if !ok {
		return services.Wrap(services.ErrValidation, "ingest", "payload", fmt.Sprintf("unexpected payload %T", payload), nil)
	}
	ctx = services.WithBatchID(ctx, p.BatchID)

	batch, err := s.st.GetBatch(ctx, p.BatchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return services.Wrap(services.ErrNotFound, "ingest", "batch", fmt.Sprintf("batch %d", p.BatchID), nil)
	}
	if batch.Status != store.BatchIngesting {
		s.logger.Info("skipping ingest for batch no longer ingesting",
			logging.Int64(logging.FieldBatchID, p.BatchID),
			logging.String("status", string(batch.Status)),
		)
		return nil
	}

	items, err := s.st.ListItems(ctx, p.BatchID)
	if err != nil {
		return err
	}

	var ingested int
	var failures []string
	for _, item := range items {
		if item.Status != store.ItemApproved {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		proposal, err := s.st.GetProposalByItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if proposal == nil {
			failures = append(failures, fmt.Sprintf("%s: approved item has no proposal", item.FileName))
			s.failItem(ctx, item, "approved item has no proposal")
			continue
		}

		result, err := s.st.IngestProposal(ctx, proposal.ID)
		if err != nil {
			// One bad proposal must not sink the rest of the batch.
			failures = append(failures, fmt.Sprintf("%s: %v", item.FileName, err))
			s.failItem(ctx, item, err.Error())
			s.logger.Error("proposal ingestion failed",
				logging.Int64(logging.FieldBatchID, p.BatchID),
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
			)
			continue
		}
		ingested++
		s.logger.Info("proposal ingested",
			logging.Int64(logging.FieldBatchID, p.BatchID),
			logging.Int64(logging.FieldItemID, item.ID),
			logging.Int64("piece_id", result.PieceID),
			logging.Bool("new_piece", result.NewPiece),
			logging.Int("files", result.FilesCreated),
			logging.Int("parts", result.PartsCreated),
		)
	}

	// The catalog changed; piece matching must see the new titles.
	s.pieces.Invalidate()

	updated, err := s.st.RecomputeBatch(ctx, p.BatchID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	updated.CompletedAt = &now
	updated.ErrorSummary = strings.Join(failures, "; ")
	if len(failures) == 0 {
		updated.Status = store.BatchComplete
	} else {
		updated.Status = store.BatchFailed
	}
	if err := s.st.UpdateBatch(ctx, updated); err != nil {
		return err
	}

	if updated.Status == store.BatchComplete {
		if err := s.notify.NotifyBatchCompleted(ctx, p.BatchID, ingested, len(failures)); err != nil {
			s.logger.Warn("completion notification failed", logging.Error(err))
		}
	} else {
		if err := s.notify.NotifyBatchFailed(ctx, p.BatchID, updated.ErrorSummary); err != nil {
			s.logger.Warn("failure notification failed", logging.Error(err))
		}
	}

	s.logger.Info("batch ingestion finished",
		logging.Int64(logging.FieldBatchID, p.BatchID),
		logging.String("status", string(updated.Status)),
		logging.Int("ingested", ingested),
		logging.Int("failed", len(failures)),
	)
	return nil
}

func (s *Service) handleCleanup(ctx context.Context, payload queue.Payload) error {
	p, ok := payload.(*queue.CleanupPayload)
	if !ok {
		return services.Wrap(services.ErrValidation, "cleanup", "payload", fmt.Sprintf("unexpected payload %T", payload), nil)
	}
	ctx = services.WithBatchID(ctx, p.BatchID)

	// Without the committed set we cannot tell which keys the catalog owns,
	// so the whole pass aborts rather than risking catalog files.
	committed, err := s.st.CommittedStorageKeys(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "cleanup", "committed keys", "aborting cleanup pass", err)
	}

	items, err := s.st.ListItems(ctx, p.BatchID)
	if err != nil {
		return err
	}

	var removed int
	for _, item := range items {
		keys := []string{item.StorageKey}
		splitFiles, err := item.SplitFiles()
		if err != nil {
			s.logger.Warn("unreadable split record during cleanup",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
			)
		}
		for _, f := range splitFiles {
			keys = append(keys, f.StorageKey)
		}

		for _, key := range keys {
			if key == "" {
				continue
			}
			if _, owned := committed[key]; owned {
				continue
			}
			if err := s.objects.Delete(ctx, key); err != nil {
				s.logger.Warn("cleanup delete failed",
					logging.Int64(logging.FieldItemID, item.ID),
					logging.String("storage_key", key),
					logging.Error(err),
				)
				continue
			}
			removed++
		}
	}

	s.logger.Info("batch cleanup finished",
		logging.Int64(logging.FieldBatchID, p.BatchID),
		logging.Int("objects_removed", removed),
	)
	return nil
}

// loadStageItem fetches the item for a stage handler. A missing item is a
// non-retryable failure; items past the wanted status or in a cancelled batch
// are skipped so replays and races stay harmless.
func (s *Service) loadStageItem(ctx context.Context, itemID int64, wanted store.ItemStatus) (*store.Item, bool, error) {
	item, err := s.st.GetItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, services.Wrap(services.ErrNotFound, "stage", "load item", fmt.Sprintf("item %d", itemID), nil)
	}

	batch, err := s.st.GetBatch(ctx, item.BatchID)
	if err != nil {
		return nil, false, err
	}
	if batch == nil || batch.Status == store.BatchCancelled || batch.Status == store.BatchFailed {
		s.logger.Info("skipping stage for closed batch",
			logging.Int64(logging.FieldBatchID, item.BatchID),
			logging.Int64(logging.FieldItemID, itemID),
		)
		return nil, true, nil
	}
	if item.Status != wanted {
		s.logger.Info("skipping stage for item not in expected status",
			logging.Int64(logging.FieldItemID, itemID),
			logging.String("status", string(item.Status)),
			logging.String("expected", string(wanted)),
		)
		return nil, true, nil
	}
	return item, false, nil
}

// failItem marks an item failed and records why. Errors here are logged, not
// propagated; the caller is usually already on a failure path.
func (s *Service) failItem(ctx context.Context, item *store.Item, reason string) {
	item.Status = store.ItemFailed
	item.ErrorMessage = reason
	if err := s.st.UpdateItem(ctx, item); err != nil {
		s.logger.Error("failed to mark item failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.Error(err),
		)
	}
}

// maybeAdvanceBatch moves a processing batch to needs_review once every item
// has either produced its split output or finished, and to failed when
// nothing survived processing.
func (s *Service) maybeAdvanceBatch(ctx context.Context, batchID int64) error {
	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil || batch.Status != store.BatchProcessing {
		return nil
	}

	items, err := s.st.ListItems(ctx, batchID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	var reviewable int
	for _, item := range items {
		switch item.Status {
		case store.ItemSplit, store.ItemApproved:
			reviewable++
		case store.ItemComplete, store.ItemFailed, store.ItemCancelled:
			// Finished either way.
		default:
			return nil // still processing
		}
	}

	if reviewable == 0 {
		batch.Status = store.BatchFailed
		now := time.Now().UTC()
		batch.CompletedAt = &now
		batch.ErrorSummary = aggregateItemErrors(items)
		if err := s.st.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		if err := s.notify.NotifyBatchFailed(ctx, batchID, batch.ErrorSummary); err != nil {
			s.logger.Warn("failure notification failed", logging.Error(err))
		}
		s.logger.Warn("batch failed before review",
			logging.Int64(logging.FieldBatchID, batchID),
			logging.String("error_summary", batch.ErrorSummary),
		)
		return nil
	}

	batch.Status = store.BatchNeedsReview
	if err := s.st.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	if err := s.notify.NotifyReviewReady(ctx, batchID, batch.UserRef, len(items)); err != nil {
		s.logger.Warn("review notification failed", logging.Error(err))
	}
	s.logger.Info("batch ready for review",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("reviewable_items", reviewable),
	)
	return nil
}

func aggregateItemErrors(items []*store.Item) string {
	var parts []string
	for _, item := range items {
		if item.Status == store.ItemFailed && item.ErrorMessage != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", item.FileName, item.ErrorMessage))
		}
	}
	if len(parts) == 0 {
		return "no items survived processing"
	}
	return strings.Join(parts, "; ")
}

// handleDeadLetter marks the affected item failed when a per-item stage gives
// up, and fails the batch outright when ingestion itself dead-letters.
func (s *Service) handleDeadLetter(ctx context.Context, letter *store.DeadLetter, payload queue.Payload) {
	if err := s.notify.NotifyJobDeadLettered(ctx, letter.Kind, letter.ID, letter.Reason); err != nil {
		s.logger.Warn("dead-letter notification failed", logging.Error(err))
	}

	var batchID, itemID int64
	switch p := payload.(type) {
	case *queue.ExtractPayload:
		batchID, itemID = p.BatchID, p.ItemID
	case *queue.ClassifyPayload:
		batchID, itemID = p.BatchID, p.ItemID
	case *queue.SplitPayload:
		batchID, itemID = p.BatchID, p.ItemID
	case *queue.IngestPayload:
		s.failBatchAfterDeadLetter(ctx, p.BatchID, letter.Reason)
		return
	default:
		return
	}

	item, err := s.st.GetItem(ctx, itemID)
	if err != nil || item == nil {
		if err != nil {
			s.logger.Error("failed to load item after dead-letter", logging.Error(err))
		}
		return
	}
	if !item.Status.Terminal() {
		s.failItem(ctx, item, letter.Reason)
	}
	if _, err := s.st.RecomputeBatch(ctx, batchID); err != nil {
		s.logger.Error("failed to recompute batch after dead-letter", logging.Error(err))
		return
	}
	if err := s.maybeAdvanceBatch(ctx, batchID); err != nil {
		s.logger.Error("failed to advance batch after dead-letter", logging.Error(err))
	}
}

func (s *Service) failBatchAfterDeadLetter(ctx context.Context, batchID int64, reason string) {
	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil || batch == nil || batch.Status.Terminal() {
		if err != nil {
			s.logger.Error("failed to load batch after dead-letter", logging.Error(err))
		}
		return
	}
	batch.Status = store.BatchFailed
	now := time.Now().UTC()
	batch.CompletedAt = &now
	batch.ErrorSummary = reason
	if err := s.st.UpdateBatch(ctx, batch); err != nil {
		s.logger.Error("failed to fail batch after dead-letter", logging.Error(err))
		return
	}
	if err := s.notify.NotifyBatchFailed(ctx, batchID, reason); err != nil {
		s.logger.Warn("failure notification failed", logging.Error(err))
	}
}
