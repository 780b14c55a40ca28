package stubapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
)

func multipartBody(t *testing.T, fileName, mime string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func submitFile(t *testing.T, ts *httptest.Server, fileName, mime string, data []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fileName, mime, data)
	resp, err := http.Post(ts.URL+"/jobs", contentType, body)
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return out
}

func TestSubmitAndPollToCompletion(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{TicksToComplete: 2}).Handler())
	defer ts.Close()

	resp := submitFile(t, ts, "note.pdf", "application/pdf", []byte("%PDF-1.7"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	id, ok := decodeBody(t, resp)["job_id"].(string)
	if !ok || id == "" {
		t.Fatal("submit response missing job_id")
	}

	first, err := http.Get(ts.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if got := decodeBody(t, first)["status"]; got != "processing" {
		t.Errorf("first poll status = %v, want processing", got)
	}

	second, err := http.Get(ts.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	body := decodeBody(t, second)
	if body["status"] != "completed" {
		t.Fatalf("second poll status = %v, want completed", body["status"])
	}
	docs := body["documents"].([]any)
	doc := docs[0].(map[string]any)
	result := doc["result"].(map[string]any)
	if result["pass_1_extraction"] == nil || result["pass_2_correction"] == nil {
		t.Errorf("completed document missing result passes: %v", result)
	}

	// Terminal state is sticky.
	third, err := http.Get(ts.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if got := decodeBody(t, third)["status"]; got != "completed" {
		t.Errorf("status after completion = %v", got)
	}
}

func TestFailCodeProducesFailedDocument(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{
		TicksToComplete: 1,
		FailCode:        "FILE_CORRUPTED",
		FailMessage:     "unreadable xref table",
	}).Handler())
	defer ts.Close()

	resp := submitFile(t, ts, "note.pdf", "application/pdf", []byte("%PDF-1.7"))
	id := decodeBody(t, resp)["job_id"].(string)

	statusResp, err := http.Get(ts.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	body := decodeBody(t, statusResp)
	if body["status"] != "failed" {
		t.Fatalf("status = %v, want failed", body["status"])
	}
	doc := body["documents"].([]any)[0].(map[string]any)
	jobErr := doc["error"].(map[string]any)
	if jobErr["code"] != "FILE_CORRUPTED" {
		t.Errorf("error code = %v", jobErr["code"])
	}
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{}).Handler())
	defer ts.Close()

	resp := submitFile(t, ts, "notes.txt", "text/plain", []byte("plain text"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "INVALID_FILE_TYPE" {
		t.Errorf("error code = %v", errObj["code"])
	}
}

func TestSubmitRejectsOversizedFile(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{}).Handler())
	defer ts.Close()

	resp := submitFile(t, ts, "big.pdf", "application/pdf", make([]byte, 11*1024*1024))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{Token: "sekrit"}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/anything")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/jobs/missing", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("authenticated status = %d, want 404", resp.StatusCode)
	}
}

func TestNumericIDs(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{NumericIDs: true, TicksToComplete: 1}).Handler())
	defer ts.Close()

	resp := submitFile(t, ts, "note.pdf", "application/pdf", []byte("%PDF-1.7"))
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(raw), `"job_id":1001`) {
		t.Errorf("body = %s, want numeric job_id", raw)
	}
}

func TestUnknownJobIs404(t *testing.T) {
	ts := httptest.NewServer(NewServer(Options{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body["error"].(map[string]any)["code"] != "JOB_NOT_FOUND" {
		t.Errorf("body = %v", body)
	}
}
