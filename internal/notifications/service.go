package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"partbank/internal/config"
)

const userAgent = "Partbank-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyReviewReady(ctx context.Context, batchID int64, userRef string, itemCount int) error
	NotifyBatchCompleted(ctx context.Context, batchID int64, pieces, failed int) error
	NotifyBatchFailed(ctx context.Context, batchID int64, reason string) error
	NotifyJobDeadLettered(ctx context.Context, kind string, jobID int64, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		review:   cfg.Notifications.Review,
		complete: cfg.Notifications.Completion,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	review   bool
	complete bool
	errors   bool
}

func (n *ntfyService) NotifyReviewReady(ctx context.Context, batchID int64, userRef string, itemCount int) error {
	if !n.review {
		return nil
	}
	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		userRef = "unknown uploader"
	}
	data := payload{
		title:   "Partbank - Review Ready",
		message: fmt.Sprintf("Batch %d from %s is ready for review (%d files)", batchID, userRef, itemCount),
		tags:    []string{"partbank", "review", "ready"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, batchID int64, pieces, failed int) error {
	if !n.complete {
		return nil
	}
	var data payload
	if failed == 0 {
		data = payload{
			title:   "Partbank - Batch Complete",
			message: fmt.Sprintf("Batch %d ingested: %d pieces added to the library", batchID, pieces),
			tags:    []string{"partbank", "batch", "completed"},
		}
	} else {
		data = payload{
			title:   "Partbank - Batch Complete (with errors)",
			message: fmt.Sprintf("Batch %d ingested: %d pieces added, %d files failed", batchID, pieces, failed),
			tags:    []string{"partbank", "batch", "completed"},
		}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchFailed(ctx context.Context, batchID int64, reason string) error {
	if !n.errors {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Partbank - Batch Failed",
		message:  fmt.Sprintf("Batch %d failed: %s", batchID, reason),
		tags:     []string{"partbank", "batch", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobDeadLettered(ctx context.Context, kind string, jobID int64, reason string) error {
	if !n.errors {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Partbank - Job Dead-Lettered",
		message:  fmt.Sprintf("%s job %d gave up: %s\nReplay it with: partbank deadletter replay %d", kind, jobID, reason, jobID),
		tags:     []string{"partbank", "queue", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Partbank - Test",
		message:  "Notification system test",
		tags:     []string{"partbank", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyReviewReady(context.Context, int64, string, int) error       { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int64, int, int) error       { return nil }
func (noopService) NotifyBatchFailed(context.Context, int64, string) error            { return nil }
func (noopService) NotifyJobDeadLettered(context.Context, string, int64, string) error { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
