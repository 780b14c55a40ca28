package workflow_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/jobclient"
	"github.com/openscribe/console/internal/poll"
	"github.com/openscribe/console/internal/stubapi"
	"github.com/openscribe/console/internal/upload"
	"github.com/openscribe/console/internal/workflow"
)

type recordedNotifications struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *recordedNotifications) OnSuccess(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *recordedNotifications) OnError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func newStack(t *testing.T, opts stubapi.Options) (*workflow.Controller, *recordedNotifications) {
	t.Helper()
	ts := httptest.NewServer(stubapi.NewServer(opts).Handler())
	t.Cleanup(ts.Close)

	client := jobclient.New(ts.URL, jobclient.StaticToken(opts.Token),
		jobclient.WithHTTPClient(ts.Client()))
	notifier := &recordedNotifications{}
	ctrl := workflow.New(client, poll.Config{
		Interval:   3 * time.Millisecond,
		RetryDelay: 2 * time.Millisecond,
		MaxRetries: 3,
	}, workflow.WithNotifier(notifier))
	t.Cleanup(ctrl.Close)
	return ctrl, notifier
}

func terminalState(t *testing.T, ctrl *workflow.Controller) workflow.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := ctrl.WaitTerminal(ctx)
	if err != nil {
		t.Fatalf("WaitTerminal: %v", err)
	}
	return st
}

func TestEndToEnd_SuccessfulAnalysis(t *testing.T) {
	ctrl, notifier := newStack(t, stubapi.Options{
		Token:           "test-token",
		TicksToComplete: 3,
		NumericIDs:      true,
	})

	cand := upload.Candidate{
		FileName: "visit.pdf",
		MIMEType: "application/pdf",
		Size:     1024,
		Data:     []byte("%PDF-1.7 visit note"),
	}
	if err := ctrl.Submit(context.Background(), cand, "visit_note"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := terminalState(t, ctrl)

	if st.Phase != workflow.PhaseCompleted {
		t.Fatalf("phase = %s (err=%q), want completed", st.Phase, st.Err)
	}
	if st.JobID != "1001" {
		t.Errorf("JobID = %q, want canonical string form of the numeric id", st.JobID)
	}
	if st.Progress != 100 {
		t.Errorf("Progress = %d, want 100", st.Progress)
	}
	if st.Result == nil {
		t.Fatal("Result is nil")
	}
	if _, ok := st.Result.FinalPass["summary"]; !ok {
		t.Errorf("FinalPass = %v, want summary section", st.Result.FinalPass)
	}
	visible := st.Result.FinalPass.Visible()
	if _, leaked := visible["_model"]; leaked {
		t.Error("meta key leaked into visible sections")
	}

	// Detailed results land shortly after completion.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if meta := ctrl.State().Metadata; meta != nil {
			if meta.FinalPassConfidence == nil || *meta.FinalPassConfidence != 0.93 {
				t.Errorf("metadata = %+v", meta)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("metadata never fetched")
		}
		time.Sleep(2 * time.Millisecond)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.successes) != 1 || len(notifier.errors) != 0 {
		t.Errorf("notifications = %v / %v", notifier.successes, notifier.errors)
	}
}

func TestEndToEnd_OversizedUploadNeverLeavesTheClient(t *testing.T) {
	ctrl, notifier := newStack(t, stubapi.Options{})

	cand := upload.Candidate{
		FileName: "huge.pdf",
		MIMEType: "application/pdf",
		Size:     upload.MaxSizeBytes + 1,
	}
	if err := ctrl.Submit(context.Background(), cand, ""); err == nil {
		t.Fatal("Submit accepted an oversized candidate")
	}

	st := ctrl.State()
	if st.Phase != workflow.PhaseIdle {
		t.Errorf("phase = %s, want idle", st.Phase)
	}
	if st.Err == "" {
		t.Error("no user-displayable error set")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.errors) != 1 {
		t.Errorf("errors = %v", notifier.errors)
	}
}

func TestEndToEnd_CorruptedFileFailure(t *testing.T) {
	ctrl, notifier := newStack(t, stubapi.Options{
		TicksToComplete: 1,
		FailCode:        "FILE_CORRUPTED",
		FailMessage:     "unreadable xref table",
	})

	cand := upload.Candidate{
		FileName: "scan.png",
		MIMEType: "image/png",
		Size:     512,
		Data:     []byte("not really a png"),
	}
	if err := ctrl.Submit(context.Background(), cand, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := terminalState(t, ctrl)

	if st.Phase != workflow.PhaseFailed {
		t.Fatalf("phase = %s, want failed", st.Phase)
	}
	want := "The uploaded file appears to be corrupted. Please try a different file."
	if st.Err != want {
		t.Errorf("Err = %q, want %q", st.Err, want)
	}

	notifier.mu.Lock()
	if len(notifier.errors) == 0 || notifier.errors[0] != want {
		t.Errorf("error notifications = %v", notifier.errors)
	}
	notifier.mu.Unlock()

	// Retry re-runs against the same always-failing stub.
	if err := ctrl.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if st := terminalState(t, ctrl); st.Phase != workflow.PhaseFailed {
		t.Errorf("phase after retry = %s, want failed", st.Phase)
	}
}

func TestEndToEnd_ServerErrorCode(t *testing.T) {
	ctrl, _ := newStack(t, stubapi.Options{
		TicksToComplete: 1,
		FailCode:        "SERVER_ERROR",
	})

	cand := upload.Candidate{
		FileName: "visit.jpg",
		MIMEType: "image/jpeg",
		Size:     256,
		Data:     []byte("jpeg bytes"),
	}
	if err := ctrl.Submit(context.Background(), cand, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := terminalState(t, ctrl)

	if st.Phase != workflow.PhaseFailed {
		t.Fatalf("phase = %s, want failed", st.Phase)
	}
	if st.Err != analysis.Classify(analysis.CodeServerError, "") {
		t.Errorf("Err = %q", st.Err)
	}
}
