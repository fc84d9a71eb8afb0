package ingest

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// extractPDFText pulls the plain text out of a PDF file.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return buf.String(), nil
}
