package daemon_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"partbank/internal/api"
	"partbank/internal/config"
	"partbank/internal/daemon"
	"partbank/internal/logging"
	"partbank/internal/testsupport"
	"partbank/internal/vision"
)

// fakeRunner stands in for the poppler tools. pdftotext returns canned text,
// pdftoppm writes a single page image next to the requested prefix.
type fakeRunner struct {
	text string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch {
	case strings.Contains(filepath.Base(name), "pdftotext"):
		return []byte(f.text), nil
	case strings.Contains(filepath.Base(name), "pdftoppm"):
		prefix := args[len(args)-1]
		if err := os.WriteFile(prefix+"-01.png", []byte("not-a-real-png"), 0o644); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected command %s", name)
	}
}

type stubVision struct {
	analysis  vision.ScoreAnalysis
	healthErr error
}

func (s *stubVision) AnalyzePage(ctx context.Context, imageBytes []byte, mimeType string) (vision.PageResult, error) {
	return vision.PageResult{Text: "OCR TEXT"}, nil
}

func (s *stubVision) AnalyzeScore(ctx context.Context, text string) (vision.ScoreAnalysis, error) {
	return s.analysis, nil
}

func (s *stubVision) HealthCheck(ctx context.Context) error {
	return s.healthErr
}

// directText is long enough to satisfy the OCR-escalation heuristics for a
// three page document.
var directText = strings.Repeat("FIRST SUITE IN EB GUSTAV HOLST FLUTE TRUMPET\n", 12)

func defaultAnalysis() vision.ScoreAnalysis {
	return vision.ScoreAnalysis{
		Title:    "First Suite in Eb",
		Composer: "Gustav Holst",
		Parts: []vision.DetectedPart{
			{Label: "Flute", StartPage: 0, EndPage: 1, Confidence: 0.95},
			{Label: "Trumpet in Bb", StartPage: 1, EndPage: 2, Confidence: 0.9},
		},
		Confidence: map[string]float64{"title": 0.9, "composer": 0.9},
	}
}

func newTestDaemon(t *testing.T, stub *stubVision, opts ...testsupport.ConfigOption) (*daemon.Daemon, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	cfg.Queue.PollInterval = 1
	cfg.Queue.ErrorRetryInterval = 1

	d, err := daemon.New(cfg, logging.NewNop(),
		daemon.WithVision(stub),
		daemon.WithRunner(&fakeRunner{text: directText}),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, cfg
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	stub := &stubVision{analysis: defaultAnalysis()}
	d, cfg := newTestDaemon(t, stub)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg2 := *cfg
	cfg2.Paths.APIBind = "127.0.0.1:0"
	second, err := daemon.New(&cfg2, logging.NewNop(),
		daemon.WithVision(stub),
		daemon.WithRunner(&fakeRunner{text: directText}),
	)
	if err != nil {
		t.Fatalf("second daemon.New: %v", err)
	}
	defer second.Close()

	if err := second.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail while the lock is held")
	}

	d.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonStatusReportsJobs(t *testing.T) {
	d, cfg := newTestDaemon(t, &stubVision{analysis: defaultAnalysis()})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	status := d.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("DatabasePath = %q", status.DatabasePath)
	}
	if status.Jobs == nil {
		t.Fatal("expected job counts map")
	}
	if status.PID <= 0 {
		t.Fatalf("PID = %d", status.PID)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d, _ := newTestDaemon(t, &stubVision{analysis: defaultAnalysis()})

	sent, detail, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent {
		t.Fatal("notification should not send without a topic")
	}
	if !strings.Contains(detail, "topic") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestDaemonAPIAddrEmptyBeforeStart(t *testing.T) {
	d, _ := newTestDaemon(t, &stubVision{analysis: defaultAnalysis()})
	if addr := d.APIAddr(); addr != "" {
		t.Fatalf("APIAddr before Start = %q", addr)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	if addr := d.APIAddr(); addr == "" {
		t.Fatal("APIAddr after Start should be bound")
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustClient(t *testing.T, d *daemon.Daemon, token string) *api.Client {
	t.Helper()
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("daemon API is not listening")
	}
	return api.NewClient("http://"+addr, token)
}
