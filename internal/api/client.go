package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultClientTimeout = 60 * time.Second

// Client talks to a running partbank daemon over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a client for the daemon at baseURL. The token may be empty
// when the daemon runs without authentication.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	client := &Client{
		baseURL:    trimmed,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// StatusError is returned for non-2xx daemon responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned http %d", e.Code)
	}
	return fmt.Sprintf("daemon returned http %d: %s", e.Code, e.Message)
}

// CreateBatch opens a new upload batch.
func (c *Client) CreateBatch(ctx context.Context, userRef string) (Batch, error) {
	var resp BatchResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/batches", CreateBatchRequest{UserRef: userRef}, &resp)
	return resp.Batch, err
}

// UploadItem streams one PDF into the batch as a multipart upload.
func (c *Client) UploadItem(ctx context.Context, batchID int64, fileName string, content io.Reader) (Item, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return Item{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Item{}, fmt.Errorf("copy upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Item{}, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/items", batchID), &body)
	if err != nil {
		return Item{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp ItemResponse
	if err := c.send(req, &resp); err != nil {
		return Item{}, err
	}
	return resp.Item, nil
}

// FinalizeBatch closes the batch for uploads and starts processing.
func (c *Client) FinalizeBatch(ctx context.Context, batchID int64) (Batch, error) {
	var resp BatchResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/finalize", batchID), nil, &resp)
	return resp.Batch, err
}

// GetBatch fetches one batch with its items and proposals.
func (c *Client) GetBatch(ctx context.Context, batchID int64) (BatchDetail, error) {
	var resp BatchDetailResponse
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/batches/%d", batchID), nil, &resp)
	return resp.Batch, err
}

// ListBatches fetches batches newest first, optionally filtered by status.
func (c *Client) ListBatches(ctx context.Context, statuses ...string) ([]Batch, error) {
	path := "/api/batches"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var resp BatchListResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp.Batches, err
}

// ApproveProposal records a reviewer approval with optional corrections.
func (c *Client) ApproveProposal(ctx context.Context, proposalID int64, approvedBy string, corrections *Corrections) (ApprovalResponse, error) {
	var resp ApprovalResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", proposalID),
		ApproveProposalRequest{ApprovedBy: approvedBy, Corrections: corrections}, &resp)
	return resp, err
}

// CancelBatch cancels a batch and everything still open inside it.
func (c *Client) CancelBatch(ctx context.Context, batchID int64) (Batch, error) {
	var resp BatchResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/cancel", batchID), nil, &resp)
	return resp.Batch, err
}

// ListDeadLetters fetches the dead-letter backlog newest first.
func (c *Client) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	var resp DeadLetterListResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/deadletters", nil, &resp)
	return resp.DeadLetters, err
}

// ReplayDeadLetter requeues a dead-lettered job.
func (c *Client) ReplayDeadLetter(ctx context.Context, id int64) (ReplayResponse, error) {
	var resp ReplayResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/deadletters/%d/replay", id), nil, &resp)
	return resp, err
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Health probes daemon liveness and backend reachability.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp)
	return resp, err
}

// TestNotification asks the daemon to send a test push notification.
func (c *Client) TestNotification(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/notifications/test", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("daemon address is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload ErrorResponse
		message := ""
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
				message = payload.Error
			} else {
				message = strings.TrimSpace(string(data))
			}
		}
		return &StatusError{Code: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
