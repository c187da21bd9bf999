package pipeline

import (
	"context"
	"sync"

	"partbank/internal/store"
	"partbank/internal/textutil"
)

// pieceMatchThreshold is the minimum IDF-weighted cosine similarity between
// an analyzed title and a catalog piece title before the proposal is linked
// to the existing piece instead of creating a new one.
const pieceMatchThreshold = 0.6

type pieceEntry struct {
	id     int64
	title  string
	vector *textutil.TitleVector
}

// pieceCache keeps an in-process snapshot of catalog piece titles with their
// weighted title vectors. Ingestion invalidates it after committing pieces.
type pieceCache struct {
	st *store.Store

	mu      sync.Mutex
	loaded  bool
	entries []pieceEntry
	index   *textutil.TitleIndex
}

func newPieceCache(st *store.Store) *pieceCache {
	return &pieceCache{st: st}
}

// Invalidate drops the snapshot so the next match reloads the catalog.
func (c *pieceCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.entries = nil
	c.index = nil
	c.mu.Unlock()
}

// BestMatch returns the catalog piece whose title best matches the given
// title, with its similarity score. A zero ID means no piece scored at all.
func (c *pieceCache) BestMatch(ctx context.Context, title string) (int64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		if err := c.loadLocked(ctx); err != nil {
			return 0, 0, err
		}
	}

	candidate := c.index.Vector(title)
	if candidate == nil {
		return 0, 0, nil
	}

	var bestID int64
	var bestScore float64
	for _, entry := range c.entries {
		score := textutil.TitleSimilarity(candidate, entry.vector)
		if score > bestScore {
			bestID = entry.id
			bestScore = score
		}
	}
	return bestID, bestScore, nil
}

func (c *pieceCache) loadLocked(ctx context.Context) error {
	pieces, err := c.st.ListPieces(ctx)
	if err != nil {
		return err
	}

	index := textutil.NewTitleIndex()
	for _, piece := range pieces {
		index.Add(piece.Title)
	}

	entries := make([]pieceEntry, 0, len(pieces))
	for _, piece := range pieces {
		if vector := index.Vector(piece.Title); vector != nil {
			entries = append(entries, pieceEntry{id: piece.ID, title: piece.Title, vector: vector})
		}
	}

	c.entries = entries
	c.index = index
	c.loaded = true
	return nil
}
