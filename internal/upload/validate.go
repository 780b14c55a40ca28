// Package upload validates transcript files before any network call is made.
package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openscribe/console/internal/analysis"
)

// MaxSizeBytes is the upload size limit enforced before submission.
const MaxSizeBytes = 10 * 1024 * 1024

// acceptedMIMETypes is the single source of truth for which declared types
// the service accepts. The set narrowed over time; add or remove entries here
// only.
var acceptedMIMETypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
}

// AcceptedMIMETypes returns the accepted declared types in no particular order.
func AcceptedMIMETypes() []string {
	out := make([]string, 0, len(acceptedMIMETypes))
	for t := range acceptedMIMETypes {
		out = append(out, t)
	}
	return out
}

// Candidate is a file selected for upload. It is ephemeral: built when the
// user picks a file, discarded on submit or clear.
type Candidate struct {
	FileName string
	MIMEType string
	Size     int64
	Data     []byte
}

// ValidationError is a policy rejection produced before any I/O. Code is one
// of the analysis error codes so the same classifier covers both local and
// server-side rejections.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upload rejected (%s): %s", e.Code, e.Reason)
}

// Validate checks a candidate against the type and size policy. Pure and
// synchronous; it never touches the file contents.
func Validate(c Candidate) error {
	mime := strings.ToLower(strings.TrimSpace(c.MIMEType))
	if _, ok := acceptedMIMETypes[mime]; !ok {
		return &ValidationError{
			Code:   analysis.CodeInvalidFileType,
			Reason: fmt.Sprintf("declared type %q is not accepted", c.MIMEType),
		}
	}
	if c.Size > MaxSizeBytes {
		return &ValidationError{
			Code:   analysis.CodeFileTooLarge,
			Reason: fmt.Sprintf("%d bytes exceeds the %d byte limit", c.Size, MaxSizeBytes),
		}
	}
	return nil
}

// DetectMIMEType guesses a declared type from the file extension. Returns ""
// for extensions outside the accepted set; validation will reject those.
func DetectMIMEType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".jpeg", ".jpg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}
