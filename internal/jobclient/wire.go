package jobclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openscribe/console/internal/analysis"
)

// flexID accepts either a JSON string or a JSON number and canonicalizes to
// a string. The job API has shipped both encodings for ids; the conversion
// happens here at the edge and nowhere else.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = flexID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("job id is neither string nor number: %w", err)
	}
	*f = flexID(num.String())
	return nil
}

type wireJob struct {
	ID              flexID         `json:"id"`
	Status          string         `json:"status"`
	CreatedAt       *time.Time     `json:"created_at"`
	DurationSeconds *float64       `json:"duration_seconds"`
	Documents       []wireDocument `json:"documents"`
}

type wireDocument struct {
	ID           flexID        `json:"id"`
	DocumentType string        `json:"document_type"`
	Status       string        `json:"status"`
	CompletedAt  *time.Time    `json:"completed_at"`
	Result       *wireResult   `json:"result"`
	Error        *wireJobError `json:"error"`
}

type wireResult struct {
	Pass1Extraction analysis.Payload `json:"pass_1_extraction"`
	Pass2Correction analysis.Payload `json:"pass_2_correction"`
}

type wireJobError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type wireDetails struct {
	Documents []wireDetailsDocument `json:"documents"`
}

type wireDetailsDocument struct {
	ID       flexID        `json:"id"`
	Result   *wireResult   `json:"result"`
	Metadata *wireMetadata `json:"processing_metadata"`
}

type wireMetadata struct {
	FirstPassConfidence    *float64 `json:"first_pass_confidence"`
	FinalPassConfidence    *float64 `json:"final_pass_confidence"`
	ImprovementScore       *float64 `json:"improvement_score"`
	ExtractionQualityScore *float64 `json:"extraction_quality_score"`
	Warnings               []string `json:"warnings"`
}

// toJob validates the wire payload and converts it to the canonical model.
// requestedID is the id the caller asked for; it backfills servers that omit
// the id field in the status body.
func (wj wireJob) toJob(requestedID string) (analysis.Job, error) {
	job := analysis.Job{
		ID:              string(wj.ID),
		Status:          analysis.Status(wj.Status),
		DurationSeconds: wj.DurationSeconds,
	}
	if job.ID == "" {
		job.ID = requestedID
	}
	if wj.Status != "" && !job.Status.Known() {
		return analysis.Job{}, &ContractError{
			Reason: fmt.Sprintf("unknown job status %q", wj.Status),
		}
	}
	if wj.CreatedAt != nil {
		job.CreatedAt = *wj.CreatedAt
	}

	job.Documents = make([]analysis.Document, 0, len(wj.Documents))
	for i, wd := range wj.Documents {
		status := analysis.Status(wd.Status)
		if !status.Known() {
			return analysis.Job{}, &ContractError{
				Reason: fmt.Sprintf("document %d has unknown status %q", i, wd.Status),
			}
		}
		doc := analysis.Document{
			ID:           string(wd.ID),
			DocumentType: wd.DocumentType,
			Status:       status,
			CompletedAt:  wd.CompletedAt,
		}
		if wd.Result != nil {
			doc.Result = &analysis.DocumentResult{
				Pass1Extraction: wd.Result.Pass1Extraction,
				Pass2Correction: wd.Result.Pass2Correction,
			}
		}
		if wd.Error != nil {
			doc.Error = &analysis.JobError{
				Code:    wd.Error.Code,
				Message: wd.Error.Message,
				Details: wd.Error.Details,
			}
		}
		job.Documents = append(job.Documents, doc)
	}

	// A job that claims to be done but carries no documents is a programming
	// error on one side or the other; surface it instead of rendering blank.
	if len(job.Documents) == 0 && job.Status.Terminal() {
		return analysis.Job{}, &ContractError{Reason: "terminal job has no documents"}
	}

	return job, nil
}

func (wm *wireMetadata) toMetadata() *analysis.ProcessingMetadata {
	if wm == nil {
		return nil
	}
	return &analysis.ProcessingMetadata{
		FirstPassConfidence:    wm.FirstPassConfidence,
		FinalPassConfidence:    wm.FinalPassConfidence,
		ImprovementScore:       wm.ImprovementScore,
		ExtractionQualityScore: wm.ExtractionQualityScore,
		Warnings:               wm.Warnings,
	}
}
