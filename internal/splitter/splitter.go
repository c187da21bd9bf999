// Package splitter cuts a source PDF into per-part documents.
//
// Page ranges come from the review proposal and are 0-indexed inclusive.
// Ranges are clamped to the document bounds, ranges that clamp to nothing are
// skipped, and one bad instruction never discards the parts that did extract.
package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"partbank/internal/logging"
	"partbank/internal/services"
	"partbank/internal/textutil"
)

// Instruction selects the pages belonging to one part. StartPage and EndPage
// are 0-indexed and inclusive.
type Instruction struct {
	PartName  string
	StartPage int
	EndPage   int
}

// File describes one extracted part document on disk.
type File struct {
	PartName  string
	FileName  string
	Path      string
	PageCount int
	FileSize  int64
}

// Splitter extracts page ranges from PDFs with pdfcpu.
type Splitter struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Splitter{logger: logger.With(logging.String(logging.FieldComponent, "splitter"))}
}

// Split extracts each instruction's pages from srcPath into destDir. Failed
// instructions are logged and skipped; the split as a whole fails only when
// nothing survives.
func (s *Splitter) Split(ctx context.Context, srcPath, destDir string, totalPages int, instructions []Instruction) ([]File, error) {
	if totalPages <= 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "plan", fmt.Sprintf("document reports %d pages", totalPages), nil)
	}
	if len(instructions) == 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "plan", "no part instructions", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create split directory: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	files := make([]File, 0, len(instructions))
	used := make(map[string]int, len(instructions))
	var lastErr error

	for _, inst := range instructions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start, end, empty := clampRange(inst.StartPage, inst.EndPage, totalPages)
		if empty {
			s.logger.Warn("skipping empty page range",
				logging.String("part", inst.PartName),
				logging.Int("start_page", inst.StartPage),
				logging.Int("end_page", inst.EndPage),
				logging.Int("total_pages", totalPages))
			continue
		}

		fileName := partFileName(inst.PartName, used)
		outPath := filepath.Join(destDir, fileName)
		selection := []string{fmt.Sprintf("%d-%d", start+1, end+1)}
		if err := api.TrimFile(srcPath, outPath, selection, conf); err != nil {
			lastErr = err
			s.logger.Warn("part extraction failed",
				logging.String("part", inst.PartName),
				logging.Error(err))
			continue
		}

		info, err := os.Stat(outPath)
		if err != nil {
			lastErr = err
			s.logger.Warn("part file missing after extraction",
				logging.String("part", inst.PartName),
				logging.Error(err))
			continue
		}

		files = append(files, File{
			PartName:  inst.PartName,
			FileName:  fileName,
			Path:      outPath,
			PageCount: end - start + 1,
			FileSize:  info.Size(),
		})
	}

	if len(files) == 0 {
		return nil, services.Wrap(services.ErrExtraction, "split", "extract", "no parts could be extracted", lastErr)
	}
	return files, nil
}

// clampRange confines a 0-indexed inclusive range to the document and reports
// whether anything remains.
func clampRange(start, end, totalPages int) (int, int, bool) {
	if start < 0 {
		start = 0
	}
	if end > totalPages-1 {
		end = totalPages - 1
	}
	if start > end {
		return 0, 0, true
	}
	return start, end, false
}

// partFileName derives a stable, filesystem-safe name from the part label and
// disambiguates repeats.
func partFileName(partName string, used map[string]int) string {
	base := textutil.SanitizeToken(partName)
	used[base]++
	if n := used[base]; n > 1 {
		return fmt.Sprintf("%s_%d.pdf", base, n)
	}
	return base + ".pdf"
}
