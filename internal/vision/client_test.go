package vision_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"partbank/internal/vision"
)

func completionBody(content string) string {
	encoded, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(encoded)
}

func newClient(t *testing.T, handler http.HandlerFunc) *vision.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return vision.NewClient(vision.Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	}, vision.WithSleeper(func(time.Duration) {}), vision.WithRetryBackoff(time.Millisecond, time.Millisecond))
}

func TestAnalyzeScoreParsesFencedPayload(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		payload := "```json\n" + `{"title":"First Suite","composer":"Holst",` +
			`"parts":[{"label":"Clarinet in Bb 1","start_page":0,"end_page":1,"confidence":0.9}],` +
			`"confidence":{"title":0.95}}` + "\n```"
		fmt.Fprint(w, completionBody(payload))
	})

	analysis, err := client.AnalyzeScore(context.Background(), "FIRST SUITE IN E FLAT\nGustav Holst")
	if err != nil {
		t.Fatalf("AnalyzeScore: %v", err)
	}
	if analysis.Title != "First Suite" || analysis.Composer != "Holst" {
		t.Fatalf("analysis = %+v", analysis)
	}
	if len(analysis.Parts) != 1 || analysis.Parts[0].Label != "Clarinet in Bb 1" {
		t.Fatalf("parts = %+v", analysis.Parts)
	}
	if analysis.Confidence["title"] != 0.95 {
		t.Fatalf("confidence = %+v", analysis.Confidence)
	}
}

func TestAnalyzePageSendsDataURL(t *testing.T) {
	var sawImage atomic.Bool
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "data:image/png;base64,") {
			sawImage.Store(true)
		}
		fmt.Fprint(w, completionBody(`{"text":"TRUMPET 1"}`))
	})

	result, err := client.AnalyzePage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	if err != nil {
		t.Fatalf("AnalyzePage: %v", err)
	}
	if result.Text != "TRUMPET 1" {
		t.Fatalf("text = %q", result.Text)
	}
	if !sawImage.Load() {
		t.Fatal("request did not carry an image data URL")
	}
}

func TestRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionBody(`{"text":"ok"}`))
	})

	if _, err := client.AnalyzePage(context.Background(), []byte{1}, ""); err != nil {
		t.Fatalf("AnalyzePage: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := client.AnalyzePage(context.Background(), []byte{1}, ""); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDecodeModelJSONHandlesSurroundingProse(t *testing.T) {
	var target struct {
		Text string `json:"text"`
	}
	input := `Here is the transcription you asked for: {"text":"FLUTE"} hope that helps`
	if err := vision.DecodeModelJSON(input, &target); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if target.Text != "FLUTE" {
		t.Fatalf("text = %q", target.Text)
	}
}
