package analysis

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a job or document as reported by the
// analysis service.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the statuses the service is allowed to
// return.
func (s Status) Known() bool {
	return s == StatusProcessing || s == StatusCompleted || s == StatusFailed
}

// Job is a server-side unit of analysis work created by an upload. The client
// only ever reads it.
type Job struct {
	ID              string
	Status          Status
	CreatedAt       time.Time
	DurationSeconds *float64
	Documents       []Document
}

// Document is one file's analysis record within a Job.
type Document struct {
	ID           string
	DocumentType string
	Status       Status
	CompletedAt  *time.Time
	Result       *DocumentResult
	Error        *JobError
}

// DocumentResult carries the raw two-pass payloads as the service reports
// them, before normalization.
type DocumentResult struct {
	Pass1Extraction Payload
	Pass2Correction Payload
}

// Payload is an open-ended keyed analysis section map. Keys prefixed with
// "_" are metadata (e.g. "_confidence") and are excluded from generic
// rendering and serialization.
type Payload map[string]any

// Visible returns a copy of p without metadata keys. It never returns nil.
func (p Payload) Visible() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// SectionNames returns the non-metadata keys of p in sorted order.
func (p Payload) SectionNames() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		if !strings.HasPrefix(k, "_") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// AnalysisResult is the canonical two-pass analysis shape the rest of the
// system consumes. Both payloads are always non-nil.
type AnalysisResult struct {
	FirstPass Payload `json:"first_pass"`
	FinalPass Payload `json:"final_pass"`
}

// ProcessingMetadata carries best-effort, server-reported quality signals.
// Fields the server omits stay nil; the client never invents values for them.
type ProcessingMetadata struct {
	FirstPassConfidence    *float64 `json:"first_pass_confidence,omitempty"`
	FinalPassConfidence    *float64 `json:"final_pass_confidence,omitempty"`
	ImprovementScore       *float64 `json:"improvement_score,omitempty"`
	ExtractionQualityScore *float64 `json:"extraction_quality_score,omitempty"`
	Warnings               []string `json:"warnings,omitempty"`
}

// JobError is a structured failure reported by the analysis service.
type JobError struct {
	Code    string
	Message string
	Details map[string]any
}
