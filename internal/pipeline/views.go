package pipeline

import (
	"context"
	"fmt"

	"partbank/internal/services"
	"partbank/internal/store"
)

// ItemView pairs an item with its proposal, when one exists.
type ItemView struct {
	Item     *store.Item
	Proposal *store.Proposal
}

// BatchView is the full review surface for a batch.
type BatchView struct {
	Batch *store.Batch
	Items []ItemView
}

// GetBatchView loads a batch with its items and proposals.
func (s *Service) GetBatchView(ctx context.Context, batchID int64) (*BatchView, error) {
	batch, err := s.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "view", fmt.Sprintf("batch %d", batchID), nil)
	}

	items, err := s.st.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	proposals, err := s.st.ListProposals(ctx, batchID)
	if err != nil {
		return nil, err
	}
	byItem := make(map[int64]*store.Proposal, len(proposals))
	for _, proposal := range proposals {
		byItem[proposal.ItemID] = proposal
	}

	view := &BatchView{Batch: batch, Items: make([]ItemView, 0, len(items))}
	for _, item := range items {
		view.Items = append(view.Items, ItemView{Item: item, Proposal: byItem[item.ID]})
	}
	return view, nil
}

// ListBatches returns batches newest first, optionally filtered by status.
func (s *Service) ListBatches(ctx context.Context, statuses ...store.BatchStatus) ([]*store.Batch, error) {
	return s.st.ListBatches(ctx, statuses...)
}

// ListDeadLetters returns dead-lettered jobs newest first.
func (s *Service) ListDeadLetters(ctx context.Context) ([]*store.DeadLetter, error) {
	return s.st.ListDeadLetters(ctx)
}

// ReplayDeadLetter requeues a dead-lettered job with a fresh attempt budget.
func (s *Service) ReplayDeadLetter(ctx context.Context, id int64) (*store.Job, error) {
	return s.jobs.Replay(ctx, id)
}

// JobCounts returns pending/running job totals keyed by kind, for status
// output.
func (s *Service) JobCounts(ctx context.Context) (map[string]int, error) {
	return s.st.JobCounts(ctx)
}
