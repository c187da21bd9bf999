package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the given content, creating parent
// directories as needed.
func WriteFile(t testing.TB, path string, content []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WritePDF writes a minimal but structurally valid PDF with the requested
// number of empty pages and returns its path.
func WritePDF(t testing.TB, path string, pages int) string {
	t.Helper()

	if pages < 1 {
		pages = 1
	}
	WriteFile(t, path, PDFBytes(pages))
	return path
}

// PDFBytes builds a minimal valid PDF document with the requested number of
// empty pages, including a correct xref table.
func PDFBytes(pages int) []byte {
	if pages < 1 {
		pages = 1
	}

	var body bytes.Buffer
	offsets := make([]int, 0, pages+3)

	write := func(obj string) {
		offsets = append(offsets, body.Len())
		body.WriteString(obj)
	}

	body.WriteString("%PDF-1.4\n")

	kids := make([]byte, 0, pages*8)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R ", 3+i)...)
	}

	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	write(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", bytes.TrimSpace(kids), pages))
	for i := 0; i < pages; i++ {
		write(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n", 3+i))
	}

	xrefOffset := body.Len()
	fmt.Fprintf(&body, "xref\n0 %d\n", len(offsets)+1)
	body.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&body, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&body, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)

	return body.Bytes()
}
