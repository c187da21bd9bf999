package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"partbank/internal/config"
	"partbank/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyBatchCompleted(context.Background(), 1, 3, 0); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyReviewReady(context.Background(), 42, "director@example.org", 5); err != nil {
		t.Fatalf("NotifyReviewReady: %v", err)
	}
	if captured.title != "Partbank - Review Ready" {
		t.Fatalf("title = %q", captured.title)
	}
	if captured.body != "Batch 42 from director@example.org is ready for review (5 files)" {
		t.Fatalf("body = %q", captured.body)
	}
	if captured.tags != "partbank,review,ready" {
		t.Fatalf("tags = %q", captured.tags)
	}

	if err := svc.NotifyBatchCompleted(context.Background(), 42, 4, 1); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if captured.body != "Batch 42 ingested: 4 pieces added, 1 files failed" {
		t.Fatalf("body = %q", captured.body)
	}

	if err := svc.NotifyBatchFailed(context.Background(), 42, "ingestion error: catalog commit"); err != nil {
		t.Fatalf("NotifyBatchFailed: %v", err)
	}
	if captured.priority != "high" {
		t.Fatalf("priority = %q, want high", captured.priority)
	}
	if !strings.Contains(captured.body, "ingestion error") {
		t.Fatalf("body = %q", captured.body)
	}

	if err := svc.NotifyJobDeadLettered(context.Background(), "extract", 7, "non-retryable: validation error"); err != nil {
		t.Fatalf("NotifyJobDeadLettered: %v", err)
	}
	if !strings.Contains(captured.body, "deadletter replay 7") {
		t.Fatalf("body = %q, want replay hint", captured.body)
	}
}

func TestNtfyServiceHonorsCategoryToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed notification: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Review = false
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := svc.NotifyReviewReady(ctx, 1, "someone", 1); err != nil {
		t.Fatalf("suppressed review notification errored: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, 1, 1, 0); err != nil {
		t.Fatalf("suppressed completion notification errored: %v", err)
	}
	if err := svc.NotifyBatchFailed(ctx, 1, "boom"); err != nil {
		t.Fatalf("suppressed failure notification errored: %v", err)
	}
	if err := svc.NotifyJobDeadLettered(ctx, "extract", 1, errors.New("boom").Error()); err != nil {
		t.Fatalf("suppressed dead-letter notification errored: %v", err)
	}
}
