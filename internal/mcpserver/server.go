// Package mcpserver exposes the analysis workflow as MCP tools so agent
// hosts can submit transcripts and read back structured results.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/history"
	"github.com/openscribe/console/internal/poll"
	"github.com/openscribe/console/internal/upload"
)

// JobAPI is the slice of the job client the MCP tools need.
type JobAPI interface {
	Submit(ctx context.Context, cand upload.Candidate, documentType string) (string, error)
	Status(ctx context.Context, jobID string) (analysis.Job, error)
	Details(ctx context.Context, jobID string) (*analysis.ProcessingMetadata, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Client  JobAPI
	Poll    poll.Config
	History *history.Store // optional; nil disables the submissions resource
}

// New creates an MCP server with the scribe tools registered.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"scribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scribe — submit transcript files for analysis and read back structured results."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_transcript",
			mcp.WithDescription("Submit a transcript file for asynchronous analysis. Returns the job id to poll with job_status."),
			mcp.WithString("filename", mcp.Description("Original file name, used to infer the type when mime_type is omitted"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Base64-encoded file content"), mcp.Required()),
			mcp.WithString("mime_type", mcp.Description("Declared MIME type (pdf, jpeg, or png)")),
			mcp.WithString("document_type", mcp.Description("Optional document type hint passed to the service")),
		),
		mcpSubmitTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Fetch the current state of an analysis job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_transcript"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_transcript",
			mcp.WithDescription("Submit a transcript and wait for the analysis to finish. Returns the corrected extraction as JSON."),
			mcp.WithString("filename", mcp.Description("Original file name"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Base64-encoded file content"), mcp.Required()),
			mcp.WithString("mime_type", mcp.Description("Declared MIME type (pdf, jpeg, or png)")),
			mcp.WithString("document_type", mcp.Description("Optional document type hint")),
		),
		mcpAnalyzeTranscript(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"submissions://recent",
				"Recent Submissions",
				mcp.WithResourceDescription("Last 10 recorded analysis submissions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func candidateFromRequest(req mcp.CallToolRequest) (upload.Candidate, *mcp.CallToolResult) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return upload.Candidate{}, mcpError("filename is required")
	}
	encoded, err := req.RequireString("content")
	if err != nil {
		return upload.Candidate{}, mcpError("content is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return upload.Candidate{}, mcpError(fmt.Sprintf("content is not valid base64: %v", err))
	}

	mime := req.GetString("mime_type", "")
	if mime == "" {
		mime = upload.DetectMIMEType(filename)
	}

	cand := upload.Candidate{
		FileName: filename,
		MIMEType: mime,
		Size:     int64(len(data)),
		Data:     data,
	}
	if err := upload.Validate(cand); err != nil {
		return upload.Candidate{}, mcpError(err.Error())
	}
	return cand, nil
}

func mcpSubmitTranscript(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cand, errResult := candidateFromRequest(req)
		if errResult != nil {
			return errResult, nil
		}
		documentType := req.GetString("document_type", "")

		jobID, err := deps.Client.Submit(ctx, cand, documentType)
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}

		if deps.History != nil {
			sub := history.Submission{
				ID:           uuid.New().String(),
				JobID:        jobID,
				FileName:     cand.FileName,
				DocumentType: documentType,
				CreatedAt:    time.Now().UTC(),
			}
			if err := deps.History.SaveSubmission(sub); err != nil {
				return mcpError(fmt.Sprintf("submitted job %s but failed to record it: %v", jobID, err)), nil
			}
		}

		b, _ := json.Marshal(map[string]string{"job_id": jobID})
		return mcpText(string(b)), nil
	}
}

func mcpJobStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Client.Status(ctx, jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("status fetch failed: %v", err)), nil
		}

		out := map[string]any{
			"job_id": job.ID,
			"status": string(job.Status),
		}
		if len(job.Documents) > 0 {
			doc := job.Documents[0]
			out["document_status"] = string(doc.Status)
			if doc.Error != nil {
				out["error"] = analysis.Classify(doc.Error.Code, doc.Error.Message)
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAnalyzeTranscript(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cand, errResult := candidateFromRequest(req)
		if errResult != nil {
			return errResult, nil
		}
		documentType := req.GetString("document_type", "")

		jobID, err := deps.Client.Submit(ctx, cand, documentType)
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}

		sched := poll.New(deps.Client, deps.Poll)
		var terminal analysis.Document
		handle := sched.Start(ctx, jobID, nil, func(doc analysis.Document) {
			terminal = doc
		})
		select {
		case <-handle.Done():
		case <-ctx.Done():
			handle.Cancel()
			return mcpError("analysis cancelled"), nil
		}

		if terminal.Status != analysis.StatusCompleted {
			msg := analysis.Classify("", "")
			if terminal.Error != nil {
				msg = analysis.Classify(terminal.Error.Code, terminal.Error.Message)
			}
			return mcpError(fmt.Sprintf("analysis failed: %s", msg)), nil
		}

		result := analysis.Normalize(terminal)
		b, err := json.Marshal(map[string]any{
			"job_id":     jobID,
			"first_pass": result.FirstPass.Visible(),
			"final_pass": result.FinalPass.Visible(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		subs, err := deps.History.RecentSubmissions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list submissions: %w", err)
		}

		type submissionSummary struct {
			JobID     string `json:"job_id"`
			FileName  string `json:"file_name"`
			Phase     string `json:"phase"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]submissionSummary, len(subs))
		for i, sub := range subs {
			summaries[i] = submissionSummary{
				JobID:     sub.JobID,
				FileName:  sub.FileName,
				Phase:     sub.Phase,
				CreatedAt: sub.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal submissions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
