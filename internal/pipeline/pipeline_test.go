package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"partbank/internal/config"
	"partbank/internal/extraction"
	"partbank/internal/notifications"
	"partbank/internal/pipeline"
	"partbank/internal/queue"
	"partbank/internal/services"
	"partbank/internal/splitter"
	"partbank/internal/storage"
	"partbank/internal/store"
	"partbank/internal/testsupport"
	"partbank/internal/vision"
)

// fakeRunner stands in for the poppler tools during pipeline tests.
type fakeRunner struct {
	text        string
	renderPages int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch {
	case strings.Contains(name, "pdftotext"):
		return []byte(f.text), nil
	case strings.Contains(name, "pdftoppm"):
		prefix := args[len(args)-1]
		for i := 1; i <= f.renderPages; i++ {
			page := fmt.Sprintf("%s-%02d.png", prefix, i)
			if err := os.WriteFile(page, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected command %s", name)
	}
}

type stubVision struct {
	analysis vision.ScoreAnalysis
	scoreErr error
	pageErr  error
}

func (s *stubVision) AnalyzePage(ctx context.Context, image []byte, mimeType string) (vision.PageResult, error) {
	if s.pageErr != nil {
		return vision.PageResult{}, s.pageErr
	}
	return vision.PageResult{Text: "OCR TEXT"}, nil
}

func (s *stubVision) AnalyzeScore(ctx context.Context, text string) (vision.ScoreAnalysis, error) {
	if s.scoreErr != nil {
		return vision.ScoreAnalysis{}, s.scoreErr
	}
	return s.analysis, nil
}

func (s *stubVision) HealthCheck(ctx context.Context) error { return nil }

type fixture struct {
	cfg     *config.Config
	st      *store.Store
	objects *storage.Local
	svc     *pipeline.Service
	workers *queue.Workers
}

func newFixture(t *testing.T, runner *fakeRunner, backend *stubVision, policies map[queue.Kind]queue.Policy) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedInstruments(t, st)

	if policies == nil {
		policies = queue.Policies(cfg)
	}
	client := queue.NewClient(st, policies, nil)

	objects, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}

	svc, err := pipeline.New(context.Background(), cfg, pipeline.Deps{
		Store:     st,
		Queue:     client,
		Objects:   objects,
		Extractor: extraction.NewExtractor(cfg.Extraction, runner, backend, nil),
		Splitter:  splitter.New(nil),
		Vision:    backend,
		Notifier:  notifications.NewService(cfg),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	workers := queue.NewWorkers(st, policies, queue.Timing{
		PollInterval:       10 * time.Millisecond,
		ErrorRetryInterval: 10 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		HeartbeatTimeout:   5 * time.Second,
	}, nil)
	svc.RegisterHandlers(workers)

	return &fixture{cfg: cfg, st: st, objects: objects, svc: svc, workers: workers}
}

func (f *fixture) startWorkers(t *testing.T) {
	t.Helper()
	if err := f.workers.Start(context.Background()); err != nil {
		t.Fatalf("workers.Start: %v", err)
	}
	t.Cleanup(f.workers.Stop)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func batchStatus(t *testing.T, st *store.Store, batchID int64) store.BatchStatus {
	t.Helper()
	batch, err := st.GetBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch == nil {
		t.Fatalf("batch %d vanished", batchID)
	}
	return batch.Status
}

func TestPipelineUploadThroughIngestion(t *testing.T) {
	scoreText := strings.Repeat("FIRST SUITE IN E FLAT Gustav Holst Chaconne Intermezzo March ", 10)
	backend := &stubVision{
		analysis: vision.ScoreAnalysis{
			Title:    "First Suite in Eb",
			Composer: "Gustav Holst",
			Parts: []vision.DetectedPart{
				{Label: "Flute", StartPage: 0, EndPage: 0, Confidence: 0.9},
				{Label: "Trumpet in Bb 1", StartPage: 1, EndPage: 2, Confidence: 0.85},
			},
			Confidence: map[string]float64{"title": 0.92, "composer": 0.95},
		},
	}
	f := newFixture(t, &fakeRunner{text: scoreText}, backend, nil)
	ctx := context.Background()

	batch, err := f.svc.CreateBatch(ctx, "director@example.org")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	item, err := f.svc.AddItem(ctx, batch.ID, "first_suite.pdf", bytes.NewReader(testsupport.PDFBytes(3)))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := f.svc.FinalizeBatch(ctx, batch.ID); err != nil {
		t.Fatalf("FinalizeBatch: %v", err)
	}

	f.startWorkers(t)
	waitFor(t, "batch to reach needs_review", func() bool {
		return batchStatus(t, f.st, batch.ID) == store.BatchNeedsReview
	})

	current, err := f.st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if current.Status != store.ItemSplit {
		t.Fatalf("item status = %s, want split", current.Status)
	}
	splitFiles, err := current.SplitFiles()
	if err != nil {
		t.Fatalf("SplitFiles: %v", err)
	}
	if len(splitFiles) != 2 {
		t.Fatalf("split files = %d, want 2", len(splitFiles))
	}

	proposal, err := f.st.GetProposalByItem(ctx, item.ID)
	if err != nil || proposal == nil {
		t.Fatalf("GetProposalByItem: %v, %v", proposal, err)
	}
	fields, err := proposal.Fields()
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields.Instrumentation) != 2 {
		t.Fatalf("instrumentation = %+v", fields.Instrumentation)
	}
	for _, part := range fields.Instrumentation {
		if part.InstrumentID == 0 {
			t.Fatalf("part %q not resolved to a catalog instrument", part.Label)
		}
	}
	if !proposal.IsNewPiece {
		t.Fatal("first upload should propose a new piece")
	}

	correctedTitle := "First Suite in E-flat"
	result, err := f.svc.ApproveProposal(ctx, proposal.ID, "librarian", &store.ProposalCorrections{Title: &correctedTitle})
	if err != nil {
		t.Fatalf("ApproveProposal: %v", err)
	}
	if !result.AllApproved {
		t.Fatal("single-item batch should be fully approved")
	}

	waitFor(t, "batch to complete", func() bool {
		return batchStatus(t, f.st, batch.ID) == store.BatchComplete
	})

	final, err := f.st.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if final.SuccessFiles != 1 || final.FailedFiles != 0 || final.ProcessedFiles != 1 {
		t.Fatalf("counters = %+v", final)
	}
	if final.CompletedAt == nil {
		t.Fatal("completed batch has no completion time")
	}

	pieces, err := f.st.ListPieces(ctx)
	if err != nil {
		t.Fatalf("ListPieces: %v", err)
	}
	if len(pieces) != 1 {
		t.Fatalf("pieces = %d, want 1", len(pieces))
	}
	if pieces[0].Title != correctedTitle {
		t.Fatalf("piece title = %q, want corrected %q", pieces[0].Title, correctedTitle)
	}
	files, err := f.st.ListPieceFiles(ctx, pieces[0].ID)
	if err != nil {
		t.Fatalf("ListPieceFiles: %v", err)
	}
	if len(files) != 3 { // original upload plus two part files
		t.Fatalf("piece files = %d, want 3", len(files))
	}
	parts, err := f.st.ListPieceParts(ctx, pieces[0].ID)
	if err != nil {
		t.Fatalf("ListPieceParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("piece parts = %d, want 2", len(parts))
	}
}

func TestPipelineDeadLettersExhaustedExtraction(t *testing.T) {
	// No direct text and a failing OCR backend: extraction can never succeed.
	backend := &stubVision{pageErr: errors.New("vision backend down")}
	cfg := config.Default()
	policies := queue.Policies(&cfg)
	extract := policies[queue.KindExtract]
	extract.BaseDelay = time.Millisecond
	policies[queue.KindExtract] = extract

	f := newFixture(t, &fakeRunner{text: "", renderPages: 3}, backend, policies)
	ctx := context.Background()

	batch, err := f.svc.CreateBatch(ctx, "director@example.org")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	item, err := f.svc.AddItem(ctx, batch.ID, "unreadable_scan.pdf", bytes.NewReader(testsupport.PDFBytes(3)))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := f.svc.FinalizeBatch(ctx, batch.ID); err != nil {
		t.Fatalf("FinalizeBatch: %v", err)
	}

	f.startWorkers(t)
	waitFor(t, "batch to fail", func() bool {
		return batchStatus(t, f.st, batch.ID) == store.BatchFailed
	})

	letters, err := f.st.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Kind != string(queue.KindExtract) {
		t.Fatalf("dead letters = %+v", letters)
	}

	failed, err := f.st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if failed.Status != store.ItemFailed {
		t.Fatalf("item status = %s, want failed", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failed item carries no error message")
	}

	final, err := f.st.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if final.FailedFiles != 1 || final.SuccessFiles != 0 {
		t.Fatalf("counters = total %d processed %d success %d failed %d",
			final.TotalFiles, final.ProcessedFiles, final.SuccessFiles, final.FailedFiles)
	}
	if !strings.Contains(final.ErrorSummary, "unreadable_scan.pdf") {
		t.Fatalf("error summary = %q", final.ErrorSummary)
	}
}

func TestIngestionFailureFailsBatch(t *testing.T) {
	f := newFixture(t, &fakeRunner{text: "x"}, &stubVision{}, nil)
	ctx := context.Background()

	batch := testsupport.NewBatch(t, f.st, "director@example.org")
	good := testsupport.NewItem(t, f.st, batch.ID, "good.pdf", "staging/good.pdf")
	bad := testsupport.NewItem(t, f.st, batch.ID, "bad.pdf", "staging/bad.pdf")

	proposal, err := f.st.CreateProposal(ctx, good.ID, batch.ID, store.ProposalFields{Title: "Village Festival March"}, 0)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if _, err := f.st.ApproveProposal(ctx, proposal.ID, "librarian", nil); err != nil {
		t.Fatalf("ApproveProposal: %v", err)
	}
	// An approved item with no proposal behind it cannot be ingested.
	bad.Status = store.ItemApproved
	if err := f.st.UpdateItem(ctx, bad); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	batch.Status = store.BatchIngesting
	if err := f.st.UpdateBatch(ctx, batch); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if _, err := f.svc.Queue().Enqueue(ctx, &queue.IngestPayload{BatchID: batch.ID}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.startWorkers(t)
	waitFor(t, "batch to reach a terminal state", func() bool {
		return batchStatus(t, f.st, batch.ID).Terminal()
	})

	final, err := f.st.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if final.Status != store.BatchFailed {
		t.Fatalf("batch status = %s, want failed (summary %q)", final.Status, final.ErrorSummary)
	}
	if !strings.Contains(final.ErrorSummary, "bad.pdf") {
		t.Fatalf("error summary = %q", final.ErrorSummary)
	}

	// The healthy proposal was still committed to the catalog.
	pieces, err := f.st.ListPieces(ctx)
	if err != nil {
		t.Fatalf("ListPieces: %v", err)
	}
	if len(pieces) != 1 || pieces[0].Title != "Village Festival March" {
		t.Fatalf("pieces = %+v", pieces)
	}
	failed, err := f.st.GetItem(ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if failed.Status != store.ItemFailed {
		t.Fatalf("bad item status = %s, want failed", failed.Status)
	}
}

func TestAddItemRejectsDuplicateContent(t *testing.T) {
	f := newFixture(t, &fakeRunner{text: "x"}, &stubVision{}, nil)
	ctx := context.Background()

	batch, err := f.svc.CreateBatch(ctx, "director@example.org")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	content := testsupport.PDFBytes(2)
	if _, err := f.svc.AddItem(ctx, batch.ID, "march.pdf", bytes.NewReader(content)); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	_, err = f.svc.AddItem(ctx, batch.ID, "march_copy.pdf", bytes.NewReader(content))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("duplicate AddItem err = %v, want validation error", err)
	}
}

func TestAddItemRejectsNonPDFName(t *testing.T) {
	f := newFixture(t, &fakeRunner{text: "x"}, &stubVision{}, nil)
	ctx := context.Background()

	batch, err := f.svc.CreateBatch(ctx, "director@example.org")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := f.svc.AddItem(ctx, batch.ID, "notes.txt", strings.NewReader("hello")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCancelBatchCascadesAndCleansStorage(t *testing.T) {
	f := newFixture(t, &fakeRunner{text: "x"}, &stubVision{}, nil)
	ctx := context.Background()

	batch, err := f.svc.CreateBatch(ctx, "director@example.org")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	item, err := f.svc.AddItem(ctx, batch.ID, "overture.pdf", bytes.NewReader(testsupport.PDFBytes(2)))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cancelled, err := f.svc.CancelBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if cancelled.Status != store.BatchCancelled {
		t.Fatalf("batch status = %s", cancelled.Status)
	}

	open, err := f.st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if open.Status != store.ItemCancelled {
		t.Fatalf("item status = %s, want cancelled", open.Status)
	}

	// Cancelling twice is rejected.
	if _, err := f.svc.CancelBatch(ctx, batch.ID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("second cancel err = %v, want invalid state", err)
	}

	f.startWorkers(t)
	waitFor(t, "uploaded object to be cleaned up", func() bool {
		_, err := f.objects.Open(ctx, open.StorageKey)
		return errors.Is(err, services.ErrNotFound)
	})
}

func TestApprovalRejectedBeforeReview(t *testing.T) {
	f := newFixture(t, &fakeRunner{text: "x"}, &stubVision{}, nil)
	ctx := context.Background()

	if _, err := f.svc.ApproveProposal(ctx, 999, "librarian", nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
