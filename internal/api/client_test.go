package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"partbank/internal/api"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(api.BatchResponse{Batch: api.Batch{ID: 1, UserRef: "director"}})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "secret")
	batch, err := client.CreateBatch(context.Background(), "director")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.ID != 1 {
		t.Fatalf("batch ID = %d", batch.ID)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestClientUploadsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batches/9/items" {
			t.Errorf("path = %q", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "march.pdf" || string(content) != "%PDF-stub" {
			t.Errorf("got %q with %q", header.Filename, content)
		}
		json.NewEncoder(w).Encode(api.ItemResponse{Item: api.Item{ID: 4, FileName: header.Filename}})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "")
	item, err := client.UploadItem(context.Background(), 9, "march.pdf", strings.NewReader("%PDF-stub"))
	if err != nil {
		t.Fatalf("UploadItem: %v", err)
	}
	if item.ID != 4 {
		t.Fatalf("item ID = %d", item.ID)
	}
}

func TestClientDecodesErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "batch 3 is complete"})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "")
	_, err := client.CancelBatch(context.Background(), 3)
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusConflict {
		t.Fatalf("Code = %d", statusErr.Code)
	}
	if !strings.Contains(statusErr.Message, "batch 3 is complete") {
		t.Fatalf("Message = %q", statusErr.Message)
	}
}

func TestClientListBatchesFiltersByStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statuses := r.URL.Query()["status"]
		if len(statuses) != 2 || statuses[0] != "needs_review" || statuses[1] != "processing" {
			t.Errorf("status query = %v", statuses)
		}
		json.NewEncoder(w).Encode(api.BatchListResponse{Batches: []api.Batch{{ID: 1}, {ID: 2}}})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "")
	batches, err := client.ListBatches(context.Background(), "needs_review", "processing")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches", len(batches))
	}
}

func TestNewClientNormalizesAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.DaemonStatus{Running: true})
	}))
	defer server.Close()

	// Bare host:port addresses get an http scheme.
	bare := strings.TrimPrefix(server.URL, "http://")
	client := api.NewClient(bare+"/", "")
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status")
	}
}
