package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"partbank/internal/api"
)

func executeCommand(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	full := append([]string{"--server", server.URL}, args...)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return out.String(), err
}

func TestBatchListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batches" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.BatchListResponse{Batches: []api.Batch{
			{ID: 12, UserRef: "director@example.org", Status: "needs_review", TotalFiles: 3, ProcessedFiles: 3},
			{ID: 11, UserRef: "brass@example.org", Status: "complete", TotalFiles: 1, ProcessedFiles: 1},
		}})
	}))
	defer server.Close()

	out, err := executeCommand(t, server, "batch", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"12", "needs_review", "director@example.org", "complete"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBatchListEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.BatchListResponse{})
	}))
	defer server.Close()

	out, err := executeCommand(t, server, "batch", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "No batches") {
		t.Fatalf("output = %q", out)
	}
}

func TestApproveSendsOnlyChangedCorrections(t *testing.T) {
	var got api.ApproveProposalRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/proposals/7/approve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(api.ApprovalResponse{
			Proposal:    api.Proposal{ID: 7, Title: "Lincolnshire Posy"},
			AllApproved: true,
		})
	}))
	defer server.Close()

	out, err := executeCommand(t, server, "approve", "7", "--by", "librarian", "--title", "Lincolnshire Posy")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.ApprovedBy != "librarian" {
		t.Fatalf("ApprovedBy = %q", got.ApprovedBy)
	}
	if got.Corrections == nil || got.Corrections.Title == nil || *got.Corrections.Title != "Lincolnshire Posy" {
		t.Fatalf("corrections = %+v", got.Corrections)
	}
	if got.Corrections.Composer != nil {
		t.Fatal("unset flag must not become a correction")
	}
	if !strings.Contains(out, "ingestion queued") {
		t.Fatalf("output = %q", out)
	}
}

func TestApproveWithoutCorrectionsSendsNil(t *testing.T) {
	var body map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(api.ApprovalResponse{Proposal: api.Proposal{ID: 3}})
	}))
	defer server.Close()

	if _, err := executeCommand(t, server, "approve", "3", "--by", "librarian"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := body["corrections"]; ok {
		t.Fatalf("corrections should be omitted, got %s", body["corrections"])
	}
}

func TestDeadLetterReplayPrintsNewJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/deadletters/5/replay" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.ReplayResponse{JobID: 42, Kind: "extract"})
	}))
	defer server.Close()

	out, err := executeCommand(t, server, "deadletter", "replay", "5")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "extract job 42") {
		t.Fatalf("output = %q", out)
	}
}

func TestStatusCommandRendersSections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			json.NewEncoder(w).Encode(api.DaemonStatus{
				Running:      true,
				PID:          4321,
				DatabasePath: "/var/lib/partbank/partbank.db",
				Jobs:         map[string]int{"extract": 2},
			})
		case "/api/health":
			json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", Vision: "ok"})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	out, err := executeCommand(t, server, "status")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"Daemon", "pid 4321", "Vision backend", "extract", "2 queued"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBatchUploadReportsBadPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upload request expected for a missing file")
	}))
	defer server.Close()

	_, err := executeCommand(t, server, "batch", "upload", "1", "/nonexistent/march.pdf")
	if err == nil || !strings.Contains(err.Error(), "1 of 1 uploads failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	for _, arg := range []string{"", "abc", "-3", "0"} {
		if _, err := parseID(arg, "batch id"); err == nil {
			t.Fatalf("parseID(%q) should fail", arg)
		}
	}
	id, err := parseID(" 17 ", "batch id")
	if err != nil || id != 17 {
		t.Fatalf("parseID(17) = %d, %v", id, err)
	}
}
