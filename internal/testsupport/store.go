package testsupport

import (
	"context"
	"testing"

	"partbank/internal/config"
	"partbank/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewBatch creates a batch for tests using the provided store.
func NewBatch(t testing.TB, st *store.Store, userRef string) *store.Batch {
	t.Helper()

	batch, err := st.CreateBatch(context.Background(), userRef)
	if err != nil {
		t.Fatalf("store.CreateBatch: %v", err)
	}
	return batch
}

// NewItem adds an item with sensible upload defaults to the given batch.
func NewItem(t testing.TB, st *store.Store, batchID int64, fileName, storageKey string) *store.Item {
	t.Helper()

	item, err := st.AddItem(context.Background(), &store.Item{
		BatchID:    batchID,
		FileName:   fileName,
		FileSize:   1024,
		MimeType:   "application/pdf",
		StorageKey: storageKey,
		Status:     store.ItemValidated,
	})
	if err != nil {
		t.Fatalf("store.AddItem: %v", err)
	}
	return item
}

// SeedInstruments loads a small canonical catalog used across tests.
func SeedInstruments(t testing.TB, st *store.Store) []store.Instrument {
	t.Helper()

	seed := []store.Instrument{
		{Name: "Flute", Family: "woodwind", SortOrder: 10},
		{Name: "Piccolo", Family: "woodwind", SortOrder: 11},
		{Name: "Clarinet", Family: "woodwind", SortOrder: 20},
		{Name: "Alto Saxophone", Family: "woodwind", SortOrder: 30},
		{Name: "Trumpet", Family: "brass", SortOrder: 40},
		{Name: "Trombone", Family: "brass", SortOrder: 50},
		{Name: "Tuba", Family: "brass", SortOrder: 60},
		{Name: "Percussion", Family: "percussion", SortOrder: 70},
	}
	if err := st.SeedInstruments(context.Background(), seed); err != nil {
		t.Fatalf("store.SeedInstruments: %v", err)
	}
	instruments, err := st.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("store.ListInstruments: %v", err)
	}
	return instruments
}
