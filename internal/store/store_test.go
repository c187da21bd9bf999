package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"partbank/internal/services"
	"partbank/internal/store"
	"partbank/internal/testsupport"
)

func TestBatchCountersRecomputedFromItems(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := testsupport.NewBatch(t, st, "user-1")
	if batch.Status != store.BatchCreated {
		t.Fatalf("new batch status = %s", batch.Status)
	}

	first := testsupport.NewItem(t, st, batch.ID, "march.pdf", "uploads/a.pdf")
	second := testsupport.NewItem(t, st, batch.ID, "suite.pdf", "uploads/b.pdf")

	first.Status = store.ItemComplete
	if err := st.UpdateItem(ctx, first); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	second.Status = store.ItemFailed
	second.ErrorMessage = "extraction failed"
	if err := st.UpdateItem(ctx, second); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	refreshed, err := st.RecomputeBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RecomputeBatch: %v", err)
	}
	if refreshed.TotalFiles != 2 || refreshed.ProcessedFiles != 2 {
		t.Fatalf("totals = %d/%d, want 2/2", refreshed.TotalFiles, refreshed.ProcessedFiles)
	}
	if refreshed.SuccessFiles != 1 || refreshed.FailedFiles != 1 {
		t.Fatalf("success/failed = %d/%d, want 1/1", refreshed.SuccessFiles, refreshed.FailedFiles)
	}
}

func TestFindItemByDigestScopedToBatch(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := testsupport.NewBatch(t, st, "")
	other := testsupport.NewBatch(t, st, "")

	item, err := st.AddItem(ctx, &store.Item{
		BatchID:    batch.ID,
		FileName:   "overture.pdf",
		StorageKey: "uploads/overture.pdf",
		Digest:     "abc123",
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	found, err := st.FindItemByDigest(ctx, batch.ID, "abc123")
	if err != nil {
		t.Fatalf("FindItemByDigest: %v", err)
	}
	if found == nil || found.ID != item.ID {
		t.Fatalf("expected item %d, got %+v", item.ID, found)
	}

	miss, err := st.FindItemByDigest(ctx, other.ID, "abc123")
	if err != nil {
		t.Fatalf("FindItemByDigest other batch: %v", err)
	}
	if miss != nil {
		t.Fatalf("digest should not match across batches, got item %d", miss.ID)
	}
}

func TestApproveProposalProtocol(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := testsupport.NewBatch(t, st, "reviewer")
	first := testsupport.NewItem(t, st, batch.ID, "a.pdf", "uploads/a.pdf")
	second := testsupport.NewItem(t, st, batch.ID, "b.pdf", "uploads/b.pdf")

	fields := store.ProposalFields{Title: "Original Title", Composer: "Holst"}
	propA, err := st.CreateProposal(ctx, first.ID, batch.ID, fields, 0)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	propB, err := st.CreateProposal(ctx, second.ID, batch.ID, fields, 0)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if !propA.IsNewPiece {
		t.Fatal("unmatched proposal should be flagged as a new piece")
	}

	title := "Corrected Title"
	result, err := st.ApproveProposal(ctx, propA.ID, "alex", &store.ProposalCorrections{Title: &title})
	if err != nil {
		t.Fatalf("ApproveProposal: %v", err)
	}
	if result.AllApproved {
		t.Fatal("batch should not be fully approved with one proposal pending")
	}
	merged, err := result.Proposal.MergedFields()
	if err != nil {
		t.Fatalf("MergedFields: %v", err)
	}
	if merged.Title != "Corrected Title" || merged.Composer != "Holst" {
		t.Fatalf("merged fields = %+v", merged)
	}
	raw, err := result.Proposal.Fields()
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if raw.Title != "Original Title" {
		t.Fatalf("corrections must not overwrite extraction, got title %q", raw.Title)
	}

	if _, err := st.ApproveProposal(ctx, propA.ID, "alex", nil); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("double approval should conflict, got %v", err)
	}

	result, err = st.ApproveProposal(ctx, propB.ID, "alex", nil)
	if err != nil {
		t.Fatalf("ApproveProposal second: %v", err)
	}
	if !result.AllApproved {
		t.Fatal("batch should be fully approved after last proposal")
	}
}

func TestApproveProposalRejectedForTerminalBatch(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := testsupport.NewBatch(t, st, "")
	item := testsupport.NewItem(t, st, batch.ID, "a.pdf", "uploads/a.pdf")
	proposal, err := st.CreateProposal(ctx, item.ID, batch.ID, store.ProposalFields{Title: "T"}, 0)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	batch.Status = store.BatchCancelled
	if err := st.UpdateBatch(ctx, batch); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}

	if _, err := st.ApproveProposal(ctx, proposal.ID, "", nil); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("approval in cancelled batch should conflict, got %v", err)
	}
}

func TestCancelOpenItemsLeavesTerminalAlone(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	batch := testsupport.NewBatch(t, st, "")
	open := testsupport.NewItem(t, st, batch.ID, "a.pdf", "uploads/a.pdf")
	done := testsupport.NewItem(t, st, batch.ID, "b.pdf", "uploads/b.pdf")
	done.Status = store.ItemComplete
	if err := st.UpdateItem(ctx, done); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	affected, err := st.CancelOpenItems(ctx, batch.ID)
	if err != nil {
		t.Fatalf("CancelOpenItems: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}

	items, err := st.ListItems(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, item := range items {
		switch item.ID {
		case open.ID:
			if item.Status != store.ItemCancelled {
				t.Fatalf("open item status = %s", item.Status)
			}
		case done.ID:
			if item.Status != store.ItemComplete {
				t.Fatalf("terminal item mutated to %s", item.Status)
			}
		}
	}
}

func TestIngestProposalCreatesCatalogRecords(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	instruments := testsupport.SeedInstruments(t, st)

	var trumpet, trombone int64
	for _, inst := range instruments {
		switch inst.Name {
		case "Trumpet":
			trumpet = inst.ID
		case "Trombone":
			trombone = inst.ID
		}
	}

	batch := testsupport.NewBatch(t, st, "")
	item := testsupport.NewItem(t, st, batch.ID, "packet.pdf", "uploads/packet.pdf")

	splits := `[{"part_name":"Trumpet 1","file_name":"packet_trumpet_1.pdf","storage_key":"uploads/parts/t1.pdf","page_count":2,"file_size":100},
	            {"part_name":"Trombone","file_name":"packet_trombone.pdf","storage_key":"uploads/parts/tb.pdf","page_count":1,"file_size":80}]`
	item.SplitJSON = splits
	item.Status = store.ItemApproved
	if err := st.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	fields := store.ProposalFields{
		Title:    "Festive Overture",
		Composer: "Shostakovich",
		Instrumentation: []store.PartAssignment{
			{Label: "Trumpet in Bb 1", PartName: "Trumpet 1", InstrumentID: trumpet, StartPage: 0, EndPage: 1, Confidence: 1.0},
			{Label: "Tbn.", PartName: "Trombone", InstrumentID: trombone, StartPage: 2, EndPage: 2, Confidence: 0.95},
		},
	}
	proposal, err := st.CreateProposal(ctx, item.ID, batch.ID, fields, 0)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if _, err := st.ApproveProposal(ctx, proposal.ID, "alex", nil); err != nil {
		t.Fatalf("ApproveProposal: %v", err)
	}

	result, err := st.IngestProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("IngestProposal: %v", err)
	}
	if !result.NewPiece {
		t.Fatal("expected a new piece")
	}
	if result.FilesCreated != 3 {
		t.Fatalf("files created = %d, want 3 (original + 2 parts)", result.FilesCreated)
	}
	if result.PartsCreated != 2 {
		t.Fatalf("parts created = %d, want 2", result.PartsCreated)
	}

	piece, err := st.GetPiece(ctx, result.PieceID)
	if err != nil {
		t.Fatalf("GetPiece: %v", err)
	}
	if piece == nil || piece.Title != "Festive Overture" {
		t.Fatalf("piece = %+v", piece)
	}

	parts, err := st.ListPieceParts(ctx, result.PieceID)
	if err != nil {
		t.Fatalf("ListPieceParts: %v", err)
	}
	for _, part := range parts {
		if part.FileID == 0 {
			t.Fatalf("part %q not linked to a file", part.PartName)
		}
	}

	keys, err := st.CommittedStorageKeys(ctx)
	if err != nil {
		t.Fatalf("CommittedStorageKeys: %v", err)
	}
	for _, key := range []string{"uploads/packet.pdf", "uploads/parts/t1.pdf", "uploads/parts/tb.pdf"} {
		if _, ok := keys[key]; !ok {
			t.Fatalf("committed keys missing %q", key)
		}
	}

	got, err := st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Status != store.ItemComplete {
		t.Fatalf("item status = %s, want complete", got.Status)
	}
}

func TestJobClaimIsExclusive(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.EnqueueJob(ctx, "extract", `{"item_id":1}`, store.JobOptions{MaxAttempts: 3, RunAt: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := st.ClaimJob(ctx, "extract", now)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed == nil || claimed.Status != store.JobRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed = %+v", claimed)
	}

	again, err := st.ClaimJob(ctx, "extract", now)
	if err != nil {
		t.Fatalf("ClaimJob second: %v", err)
	}
	if again != nil {
		t.Fatalf("running job claimed twice: %+v", again)
	}
}

func TestJobRetrySchedulesFutureRun(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := st.EnqueueJob(ctx, "classify", `{}`, store.JobOptions{MaxAttempts: 3, RunAt: now})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := st.ClaimJob(ctx, "classify", now); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := st.RetryJob(ctx, job.ID, now.Add(time.Minute), "backend timeout"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}

	early, err := st.ClaimJob(ctx, "classify", now)
	if err != nil {
		t.Fatalf("ClaimJob early: %v", err)
	}
	if early != nil {
		t.Fatal("job claimable before its run_at")
	}

	late, err := st.ClaimJob(ctx, "classify", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimJob late: %v", err)
	}
	if late == nil || late.LastError != "backend timeout" || late.Attempts != 2 {
		t.Fatalf("late claim = %+v", late)
	}
}

func TestDeadLetterAndReplay(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.EnqueueJob(ctx, "ingest", `{"batch_id":9}`, store.JobOptions{MaxAttempts: 1, RunAt: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := st.ClaimJob(ctx, "ingest", now)
	if err != nil || job == nil {
		t.Fatalf("ClaimJob: job=%v err=%v", job, err)
	}

	letter, err := st.DeadLetterJob(ctx, job, "ingestion error: boom")
	if err != nil {
		t.Fatalf("DeadLetterJob: %v", err)
	}
	if letter.Kind != "ingest" || letter.Attempts != 1 || letter.PayloadJSON != `{"batch_id":9}` {
		t.Fatalf("letter = %+v", letter)
	}
	if gone, err := st.GetJob(ctx, job.ID); err != nil || gone != nil {
		t.Fatalf("exhausted job should be removed: job=%v err=%v", gone, err)
	}

	replayed, err := st.ReplayDeadLetter(ctx, letter.ID, store.JobOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("ReplayDeadLetter: %v", err)
	}
	if replayed.Kind != "ingest" || replayed.Attempts != 0 || replayed.MaxAttempts != 2 {
		t.Fatalf("replayed = %+v", replayed)
	}
	letters, err := st.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 0 {
		t.Fatalf("replayed letter should be removed, have %d", len(letters))
	}

	if _, err := st.ReplayDeadLetter(ctx, letter.ID, store.JobOptions{}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("replaying a missing letter should be not-found, got %v", err)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.EnqueueJob(ctx, "split", `{}`, store.JobOptions{MaxAttempts: 3, RunAt: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := st.ClaimJob(ctx, "split", now)
	if err != nil || job == nil {
		t.Fatalf("ClaimJob: job=%v err=%v", job, err)
	}

	reclaimed, err := st.ReclaimStaleJobs(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	back, err := st.ClaimJob(ctx, "split", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimJob after reclaim: %v", err)
	}
	if back == nil || back.ID != job.ID {
		t.Fatalf("reclaimed job not claimable: %+v", back)
	}
}

func TestJobClaimHonorsSubSecondRunAt(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// run_at's fraction is a prefix of the claim time's fraction. With
	// trimmed trailing zeros the stored string would compare lexically
	// greater than the later claim time and hide the job.
	runAt := time.Date(2026, 3, 14, 9, 26, 53, 500000000, time.UTC)
	if _, err := st.EnqueueJob(ctx, "classify", `{}`, store.JobOptions{MaxAttempts: 1, RunAt: runAt}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := st.ClaimJob(ctx, "classify", runAt.Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("job with an earlier run_at was not claimable")
	}
}
