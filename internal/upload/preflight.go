package upload

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFInfo is the result of a local PDF preflight check.
type PDFInfo struct {
	Pages int
}

// PreflightPDF parses a PDF candidate locally and reports its page count.
// A parse failure here is a strong signal the upload would come back as
// FILE_CORRUPTED, so callers can warn the user before paying for a submit.
// Non-PDF candidates are not preflighted; callers should check the declared
// type first.
func PreflightPDF(data []byte) (PDFInfo, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFInfo{}, fmt.Errorf("parsing pdf: %w", err)
	}
	return PDFInfo{Pages: r.NumPage()}, nil
}
