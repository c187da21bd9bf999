package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"partbank/internal/config"
	"partbank/internal/logging"
	"partbank/internal/services"
	"partbank/internal/vision"
)

// Extraction methods recorded on the item.
const (
	MethodDirect = "direct"
	MethodOCR    = "ocr"
)

// Typed causes for PDF inspection failures. Callers can distinguish them with
// errors.Is after unwrapping the service marker.
var (
	ErrNotPDF    = errors.New("file is not a PDF")
	ErrEncrypted = errors.New("PDF is encrypted")
	ErrParse     = errors.New("PDF could not be parsed")
)

// Result is the outcome of text extraction for a single item.
type Result struct {
	Text       string
	PageCount  int
	Method     string
	Confidence float64
	OCRReason  string
}

// Extractor pulls text out of uploaded PDFs, escalating to OCR when the
// directly extracted text fails the quality heuristics.
type Extractor struct {
	cfg    config.Extraction
	runner Runner
	ocr    vision.Service
	logger *slog.Logger
}

// NewExtractor builds an Extractor. A nil runner falls back to ExecRunner and
// a nil logger discards output; ocr may be nil only when OCRMode is "skip".
func NewExtractor(cfg config.Extraction, runner Runner, ocr vision.Service, logger *slog.Logger) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{cfg: cfg, runner: runner, ocr: ocr, logger: logger.With(logging.String(logging.FieldComponent, "extraction"))}
}

// Extract validates the PDF at path, extracts its text, and decides whether
// the result is usable or needs OCR. OCR failures fall back to the direct
// text when any exists; a PDF that yields neither fails the stage.
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := probeSignature(path); err != nil {
		return nil, err
	}

	pageCount, err := pageCount(path)
	if err != nil {
		return nil, err
	}

	text, err := e.directText(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Direct extraction failing is not fatal; OCR may still recover.
		e.logger.Warn("direct text extraction failed", logging.Error(err))
		text = ""
	}

	decision := ShouldUseOCR(text, pageCount, e.cfg)
	wantOCR := decision.ShouldOCR
	reason := decision.Reason
	switch e.cfg.OCRMode {
	case "skip":
		wantOCR = false
	case "force":
		wantOCR = true
		if reason == "" {
			reason = "ocr_forced"
		}
	}

	if !wantOCR {
		confidence := decision.Confidence
		if !decision.ShouldOCR {
			confidence = 1.0
		}
		return &Result{
			Text:       text,
			PageCount:  pageCount,
			Method:     MethodDirect,
			Confidence: confidence,
			OCRReason:  decision.Reason,
		}, nil
	}

	e.logger.Info("escalating to OCR", logging.String("reason", reason), logging.Int("pages", pageCount))
	ocrText, err := e.ocrText(ctx, path, pageCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.TrimSpace(text) == "" {
			return nil, services.Wrap(services.ErrExtraction, "extract", "ocr", "no usable text", err)
		}
		e.logger.Warn("OCR failed, keeping direct text", logging.Error(err))
		return &Result{
			Text:       text,
			PageCount:  pageCount,
			Method:     MethodDirect,
			Confidence: decision.Confidence,
			OCRReason:  reason,
		}, nil
	}

	return &Result{
		Text:       ocrText,
		PageCount:  pageCount,
		Method:     MethodOCR,
		Confidence: e.cfg.OCRConfidence,
		OCRReason:  reason,
	}, nil
}

func (e *Extractor) directText(ctx context.Context, path string) (string, error) {
	out, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func (e *Extractor) ocrText(ctx context.Context, path string, pageCount int) (string, error) {
	if e.ocr == nil {
		return "", errors.New("no OCR backend configured")
	}

	tempDir, err := os.MkdirTemp("", "partbank-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	prefix := filepath.Join(tempDir, "page")
	dpi := e.cfg.DPI
	if dpi <= 0 {
		dpi = 200
	}
	if _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", dpi), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", fmt.Errorf("list rendered pages: %w", err)
	}
	if len(pages) == 0 {
		return "", errors.New("pdftoppm produced no pages")
	}
	sort.Strings(pages)

	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img, err := os.ReadFile(page)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i+1, err)
		}
		result, err := e.ocr.AnalyzePage(ctx, img, "image/png")
		if err != nil {
			return "", fmt.Errorf("OCR page %d of %d: %w", i+1, pageCount, err)
		}
		texts = append(texts, result.Text)
	}
	return strings.Join(texts, "\n\f\n"), nil
}

// probeSignature checks for the %PDF- marker within the first kilobyte, which
// is where the format requires the header to appear.
func probeSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extract", "open", "", err)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := f.Read(head)
	if n == 0 && err != nil {
		return services.Wrap(services.ErrValidation, "extract", "probe", "", ErrNotPDF)
	}
	if !bytes.Contains(head[:n], []byte("%PDF-")) {
		return services.Wrap(services.ErrValidation, "extract", "probe", "", ErrNotPDF)
	}
	return nil
}

func pageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return 0, services.Wrap(services.ErrValidation, "extract", "inspect", "", ErrEncrypted)
		}
		return 0, services.Wrap(services.ErrExtraction, "extract", "inspect", "", fmt.Errorf("%w: %w", ErrParse, err))
	}
	if count <= 0 {
		return 0, services.Wrap(services.ErrExtraction, "extract", "inspect", "PDF has no pages", ErrParse)
	}
	return count, nil
}
