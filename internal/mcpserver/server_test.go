package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/history"
	"github.com/openscribe/console/internal/poll"
	"github.com/openscribe/console/internal/upload"
)

// --- mocks ---

type mockJobAPI struct {
	submitID  string
	submitErr error
	jobs      []analysis.Job
	statusErr error
	calls     int
}

func (m *mockJobAPI) Submit(_ context.Context, _ upload.Candidate, _ string) (string, error) {
	return m.submitID, m.submitErr
}

func (m *mockJobAPI) Status(_ context.Context, _ string) (analysis.Job, error) {
	if m.statusErr != nil {
		return analysis.Job{}, m.statusErr
	}
	job := m.jobs[m.calls]
	if m.calls < len(m.jobs)-1 {
		m.calls++
	}
	return job, nil
}

func (m *mockJobAPI) Details(_ context.Context, _ string) (*analysis.ProcessingMetadata, error) {
	return nil, nil
}

// --- helpers ---

func fastPollConfig() poll.Config {
	return poll.Config{Interval: 2 * time.Millisecond, RetryDelay: time.Millisecond, MaxRetries: 3}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func pdfArgs() map[string]interface{} {
	return map[string]interface{}{
		"filename": "visit.pdf",
		"content":  base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 body")),
	}
}

// --- tests ---

func TestMCPTool_SubmitTranscript(t *testing.T) {
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	deps := Deps{Client: &mockJobAPI{submitID: "77"}, Poll: fastPollConfig(), History: store}
	handler := mcpSubmitTranscript(deps)

	result, err := handler(context.Background(), makeCallToolRequest("submit_transcript", pdfArgs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out["job_id"] != "77" {
		t.Fatalf("job_id = %q", out["job_id"])
	}

	subs, err := store.RecentSubmissions(10)
	if err != nil {
		t.Fatalf("listing submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].JobID != "77" {
		t.Fatalf("recorded submissions = %+v", subs)
	}
}

func TestMCPTool_SubmitTranscript_RejectsInvalidType(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{submitID: "77"}, Poll: fastPollConfig()}
	handler := mcpSubmitTranscript(deps)

	args := map[string]interface{}{
		"filename": "notes.txt",
		"content":  base64.StdEncoding.EncodeToString([]byte("plain text")),
	}
	result, err := handler(context.Background(), makeCallToolRequest("submit_transcript", args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unsupported type")
	}
}

func TestMCPTool_SubmitTranscript_BadBase64(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{}, Poll: fastPollConfig()}
	handler := mcpSubmitTranscript(deps)

	args := map[string]interface{}{
		"filename": "visit.pdf",
		"content":  "not base64!!!",
	}
	result, err := handler(context.Background(), makeCallToolRequest("submit_transcript", args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for invalid base64")
	}
}

func TestMCPTool_JobStatus(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{jobs: []analysis.Job{
		{ID: "77", Status: analysis.StatusProcessing,
			Documents: []analysis.Document{{Status: analysis.StatusProcessing}}},
	}}, Poll: fastPollConfig()}
	handler := mcpJobStatus(deps)

	req := makeCallToolRequest("job_status", map[string]interface{}{"job_id": "77"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if out["status"] != "processing" {
		t.Fatalf("status = %v", out["status"])
	}
}

func TestMCPTool_JobStatus_FetchError(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{statusErr: errors.New("connection refused")}, Poll: fastPollConfig()}
	handler := mcpJobStatus(deps)

	req := makeCallToolRequest("job_status", map[string]interface{}{"job_id": "77"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_AnalyzeTranscript_Completes(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{
		submitID: "77",
		jobs: []analysis.Job{
			{ID: "77", Status: analysis.StatusProcessing,
				Documents: []analysis.Document{{Status: analysis.StatusProcessing}}},
			{ID: "77", Status: analysis.StatusCompleted,
				Documents: []analysis.Document{{
					Status: analysis.StatusCompleted,
					Result: &analysis.DocumentResult{
						Pass1Extraction: analysis.Payload{"summary": "v1", "_model": "m"},
						Pass2Correction: analysis.Payload{"summary": "v2", "_model": "m"},
					},
				}}},
		},
	}, Poll: fastPollConfig()}
	handler := mcpAnalyzeTranscript(deps)

	result, err := handler(context.Background(), makeCallToolRequest("analyze_transcript", pdfArgs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	var out struct {
		JobID     string         `json:"job_id"`
		FinalPass map[string]any `json:"final_pass"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if out.JobID != "77" {
		t.Errorf("job_id = %q", out.JobID)
	}
	if out.FinalPass["summary"] != "v2" {
		t.Errorf("final_pass = %v", out.FinalPass)
	}
	if strings.Contains(text, "_model") {
		t.Error("meta keys leaked into tool output")
	}
}

func TestMCPTool_AnalyzeTranscript_Failure(t *testing.T) {
	deps := Deps{Client: &mockJobAPI{
		submitID: "78",
		jobs: []analysis.Job{
			{ID: "78", Status: analysis.StatusFailed,
				Documents: []analysis.Document{{
					Status: analysis.StatusFailed,
					Error:  &analysis.JobError{Code: "FILE_CORRUPTED"},
				}}},
		},
	}, Poll: fastPollConfig()}
	handler := mcpAnalyzeTranscript(deps)

	result, err := handler(context.Background(), makeCallToolRequest("analyze_transcript", pdfArgs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "corrupted") {
		t.Errorf("message = %q", toolText(t, result))
	}
}

func TestMCPResource_RecentSubmissions(t *testing.T) {
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	err = store.SaveSubmission(history.Submission{
		ID: "sub-1", JobID: "77", FileName: "visit.pdf", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("saving submission: %v", err)
	}

	deps := Deps{Client: &mockJobAPI{}, Poll: fastPollConfig(), History: store}
	handler := mcpResourceRecent(deps)
	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "submissions://recent"}}

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []json.RawMessage
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(summaries))
	}
}
