package analysis

import "net/http"

// Error codes the analysis service (or this client, synthetically) reports.
const (
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeInvalidFileType     = "INVALID_FILE_TYPE"
	CodeProcessingTimeout   = "PROCESSING_TIMEOUT"
	CodeServerError         = "SERVER_ERROR"
	CodeInsufficientQuota   = "INSUFFICIENT_QUOTA"
	CodeFileCorrupted       = "FILE_CORRUPTED"
	CodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	CodePollExhausted       = "POLL_EXHAUSTED"
)

const genericErrorMessage = "Something went wrong while analyzing the document. Please try again."

var errorMessages = map[string]string{
	CodeFileTooLarge:        "The file exceeds the 10 MB upload limit. Please upload a smaller file.",
	CodeInvalidFileType:     "This file type is not supported. Please upload a PDF, JPEG, or PNG file.",
	CodeProcessingTimeout:   "The analysis took too long and timed out. Please try again.",
	CodeServerError:         "The analysis service hit an unexpected error. Please try again later.",
	CodeInsufficientQuota:   "Your organization has no analysis quota remaining. Contact your administrator.",
	CodeFileCorrupted:       "The uploaded file appears to be corrupted. Please try a different file.",
	CodeUnsupportedLanguage: "The document language is not supported yet.",
	CodePollExhausted:       "Lost contact with the analysis service while waiting for results. Check your connection and retry.",
}

// Classify maps a service error code to a stable, user-displayable sentence.
// Unknown or empty codes fall back to fallback, then to a generic default.
// Raw codes are never returned to the caller.
func Classify(code, fallback string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	if fallback != "" {
		return fallback
	}
	return genericErrorMessage
}

// ClassifyStatus maps an HTTP transport failure to a user-displayable
// sentence. status 0 means no response was received at all (network-layer
// failure). Fallback behaves as in Classify.
func ClassifyStatus(status int, fallback string) string {
	switch {
	case status == 0:
		return "Network error. Please check your connection and try again."
	case status == http.StatusRequestEntityTooLarge:
		return errorMessages[CodeFileTooLarge]
	case status == http.StatusUnsupportedMediaType:
		return errorMessages[CodeInvalidFileType]
	case status >= 500:
		return errorMessages[CodeServerError]
	}
	if fallback != "" {
		return fallback
	}
	return genericErrorMessage
}
