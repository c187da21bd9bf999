package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"partbank/internal/services"
	"partbank/internal/storage"
	"partbank/internal/testsupport"
)

func newLocal(t *testing.T) *storage.Local {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	local, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return local
}

func TestLocalUploadOpenDelete(t *testing.T) {
	local := newLocal(t)
	ctx := context.Background()

	written, err := local.Upload(ctx, "uploads/test.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if written != int64(len("pdf bytes")) {
		t.Fatalf("written = %d", written)
	}

	rc, err := local.Open(ctx, "uploads/test.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(content) != "pdf bytes" {
		t.Fatalf("content = %q, err = %v", content, err)
	}

	if err := local.Delete(ctx, "uploads/test.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := local.Open(ctx, "uploads/test.pdf"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Open after delete = %v, want not found", err)
	}

	// Deleting again stays a no-op.
	if err := local.Delete(ctx, "uploads/test.pdf"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	local := newLocal(t)
	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b", "a//b"} {
		if _, err := local.Upload(context.Background(), key, strings.NewReader("x")); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Upload(%q) err = %v, want validation error", key, err)
		}
	}
}

func TestLocalPathPointsAtStoredObject(t *testing.T) {
	local := newLocal(t)
	if _, err := local.Upload(context.Background(), "uploads/score.pdf", strings.NewReader("content")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	path, err := local.Path("uploads/score.pdf")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
}

func TestDigestIsStable(t *testing.T) {
	first, err := storage.Digest(strings.NewReader("same content"))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	second, _ := storage.Digest(strings.NewReader("same content"))
	other, _ := storage.Digest(strings.NewReader("different content"))
	if first != second {
		t.Fatalf("digest not stable: %s vs %s", first, second)
	}
	if first == other {
		t.Fatal("distinct content produced identical digests")
	}
	if len(first) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(first))
	}
}

func TestLocalURLJoinsBaseURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.BaseURL = "https://files.example.org/partbank/"
	local, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	got := local.URL("uploads/test.pdf")
	if got != "https://files.example.org/partbank/uploads/test.pdf" {
		t.Fatalf("URL = %q", got)
	}
}
