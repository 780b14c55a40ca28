// Package jobclient is the request/response contract with the remote
// analysis job API: submit an upload, fetch job status, fetch detailed
// results. It owns the one canonical wire shape; inconsistent server
// payloads are normalized or rejected here, never upstream.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/upload"
)

const maxErrorBodyBytes = 64 << 10

// TokenSource supplies the opaque bearer credential attached to every
// request. Token acquisition and refresh live with an external auth
// collaborator; this client only consumes the result.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// TransportError is a non-2xx response from the job API. Code and Message
// are filled when the server sent a structured {"error": {...}} body.
type TransportError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("job api returned %d (%s: %s)", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("job api returned %d", e.StatusCode)
}

// ContractError means the server answered 2xx with a payload that violates
// the job API contract. These fail loudly instead of producing blank results.
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("job api contract violation: %s", e.Reason)
}

// Client talks to the analysis job API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given base URL. The default transport carries
// explicit dial and TLS timeouts and has HTTP/2 enabled so repeated status
// polls multiplex over one connection.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		tr := &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   4,
		}
		if err := http2.ConfigureTransport(tr); err != nil {
			c.logger.Warn("http2 not enabled for job api transport", "error", err)
		}
		c.httpClient = &http.Client{Transport: tr}
	}
	return c
}

// Submit uploads a candidate as multipart form data and returns the created
// job's id. The candidate must already have passed upload.Validate.
func (c *Client) Submit(ctx context.Context, cand upload.Candidate, documentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", cand.FileName)
	if err != nil {
		return "", fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(cand.Data); err != nil {
		return "", fmt.Errorf("writing file part: %w", err)
	}
	if documentType != "" {
		if err := mw.WriteField("document_type", documentType); err != nil {
			return "", fmt.Errorf("writing document_type field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", &buf)
	if err != nil {
		return "", fmt.Errorf("creating submit request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readTransportError(resp)
	}

	var ref struct {
		JobID flexID `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return "", &ContractError{Reason: fmt.Sprintf("undecodable submit response: %v", err)}
	}
	if ref.JobID == "" {
		return "", &ContractError{Reason: "submit response missing job_id"}
	}
	return string(ref.JobID), nil
}

// Status fetches the current job state and validates it against the
// canonical shape.
func (c *Client) Status(ctx context.Context, jobID string) (analysis.Job, error) {
	var wj wireJob
	if err := c.getJSON(ctx, "/jobs/"+jobID, &wj); err != nil {
		return analysis.Job{}, err
	}
	return wj.toJob(jobID)
}

// Details fetches the richer per-document results and returns the processing
// metadata for the first document, or nil when the server reports none.
// Callers treat failures here as non-fatal.
func (c *Client) Details(ctx context.Context, jobID string) (*analysis.ProcessingMetadata, error) {
	var wd wireDetails
	if err := c.getJSON(ctx, "/jobs/"+jobID+"/details", &wd); err != nil {
		return nil, err
	}
	if len(wd.Documents) == 0 {
		return nil, nil
	}
	return wd.Documents[0].Metadata.toMetadata(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readTransportError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &ContractError{Reason: fmt.Sprintf("undecodable response from %s: %v", path, err)}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("acquiring api token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// readTransportError drains a non-2xx response into a TransportError,
// extracting the structured error body when one is present. 413/415/5xx
// frequently arrive with no structured body at all.
func readTransportError(resp *http.Response) error {
	te := &TransportError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return te
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		te.Code = envelope.Error.Code
		te.Message = envelope.Error.Message
	}
	return te
}
