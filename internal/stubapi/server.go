// Package stubapi is an in-memory implementation of the analysis job API,
// used by the local development server and the end-to-end tests. Jobs advance
// one lifecycle step per status poll, so test pacing is driven entirely by
// the caller.
package stubapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/upload"
)

// multipart boundary and headers on top of the file payload itself.
const formOverheadBytes = 16 << 10

// Options configures the stub's behavior.
type Options struct {
	// Token, when non-empty, requires a matching bearer token on every
	// request.
	Token string

	// TicksToComplete is the number of status polls before a job turns
	// terminal. Zero means 2.
	TicksToComplete int

	// FailCode, when non-empty, makes every job finish failed with this
	// error code instead of completed.
	FailCode    string
	FailMessage string

	// NumericIDs makes the stub emit job ids as JSON numbers instead of
	// strings, like older deployments of the real service did.
	NumericIDs bool
}

func (o Options) ticksToComplete() int {
	if o.TicksToComplete <= 0 {
		return 2
	}
	return o.TicksToComplete
}

type job struct {
	id           string
	fileName     string
	documentType string
	createdAt    time.Time
	ticks        int
	terminal     bool
}

// Server holds the in-memory job table.
type Server struct {
	opts Options

	mu     sync.Mutex
	jobs   map[string]*job
	nextID int64
}

// NewServer creates an empty stub.
func NewServer(opts Options) *Server {
	return &Server{opts: opts, jobs: make(map[string]*job)}
}

// Handler returns the stub's HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.opts.Token != "" {
		r.Use(bearerAuth(s.opts.Token))
	}

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{jobID}", s.handleStatus)
	r.Get("/jobs/{jobID}/details", s.handleDetails)

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSizeBytes+formOverheadBytes)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(upload.MaxSizeBytes + formOverheadBytes); err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "request body too large or malformed: %v", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "INVALID_REQUEST", "file part is required")
		return
	}
	file.Close()

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = upload.DetectMIMEType(header.Filename)
	}
	if verr := upload.Validate(upload.Candidate{
		FileName: header.Filename,
		MIMEType: mime,
		Size:     header.Size,
	}); verr != nil {
		status := http.StatusUnsupportedMediaType
		if ve, ok := verr.(*upload.ValidationError); ok && ve.Code == analysis.CodeFileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		httpError(w, status, errorCode(verr), "%v", verr)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := uuid.NewString()
	if s.opts.NumericIDs {
		id = strconv.FormatInt(1000+s.nextID, 10)
	}
	s.jobs[id] = &job{
		id:           id,
		fileName:     header.Filename,
		documentType: r.FormValue("document_type"),
		createdAt:    time.Now().UTC(),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"job_id":` + s.encodeID(id) + `}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok && !j.terminal {
		j.ticks++
		if j.ticks >= s.opts.ticksToComplete() {
			j.terminal = true
		}
	}
	var snapshot job
	if ok {
		snapshot = *j
	}
	s.mu.Unlock()

	if !ok {
		httpError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no job with id %q", id)
		return
	}

	writeJSON(w, s.statusBody(snapshot))
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	s.mu.Lock()
	j, ok := s.jobs[id]
	var snapshot job
	if ok {
		snapshot = *j
	}
	s.mu.Unlock()

	if !ok {
		httpError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no job with id %q", id)
		return
	}
	if !snapshot.terminal || s.opts.FailCode != "" {
		writeJSON(w, map[string]any{"documents": []any{}})
		return
	}

	writeJSON(w, map[string]any{
		"documents": []any{map[string]any{
			"id":     json.RawMessage(s.encodeID(snapshot.id)),
			"result": sampleResult(),
			"processing_metadata": map[string]any{
				"first_pass_confidence":    0.81,
				"final_pass_confidence":    0.93,
				"improvement_score":        0.12,
				"extraction_quality_score": 0.88,
			},
		}},
	})
}

func (s *Server) statusBody(j job) map[string]any {
	doc := map[string]any{
		"id":            json.RawMessage(s.encodeID(j.id)),
		"document_type": j.documentType,
	}
	status := "processing"
	if j.terminal {
		completedAt := time.Now().UTC()
		doc["completed_at"] = completedAt
		if s.opts.FailCode != "" {
			status = "failed"
			doc["error"] = map[string]any{
				"code":    s.opts.FailCode,
				"message": s.opts.FailMessage,
			}
		} else {
			status = "completed"
			doc["result"] = sampleResult()
		}
	}
	doc["status"] = status

	return map[string]any{
		"id":         json.RawMessage(s.encodeID(j.id)),
		"status":     status,
		"created_at": j.createdAt,
		"documents":  []any{doc},
	}
}

func (s *Server) encodeID(id string) string {
	if s.opts.NumericIDs {
		return id
	}
	b, _ := json.Marshal(id)
	return string(b)
}

func sampleResult() map[string]any {
	return map[string]any{
		"pass_1_extraction": map[string]any{
			"summary":     "Routine follow-up visit.",
			"medications": []any{"lisinopril 10mg"},
			"_model":      "extract-v1",
		},
		"pass_2_correction": map[string]any{
			"summary":     "Routine follow-up visit, blood pressure controlled.",
			"medications": []any{"lisinopril 10mg daily"},
			"_model":      "correct-v1",
		},
	}
}

func errorCode(err error) string {
	if ve, ok := err.(*upload.ValidationError); ok {
		return ve.Code
	}
	return "INVALID_REQUEST"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errCode string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    errCode,
			"message": fmt.Sprintf(format, args...),
		},
	})
}
