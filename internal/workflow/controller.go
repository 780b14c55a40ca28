// Package workflow owns the document-analysis state machine: validate an
// upload, submit it, poll the job to a terminal state, and expose one view
// model to the presentation layer.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/jobclient"
	"github.com/openscribe/console/internal/poll"
	"github.com/openscribe/console/internal/upload"
)

// Phase is the workflow's lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// State is the view model exposed to the presentation layer. It is owned
// exclusively by the Controller; all mutation flows through the transition
// table.
type State struct {
	Phase      Phase
	JobID      string
	Progress   int // 0-100, only meaningful while processing
	Retry      int // non-zero while re-trying a failed status check
	MaxRetries int
	Result     *analysis.AnalysisResult
	Metadata   *analysis.ProcessingMetadata
	Err        string // classified, user-displayable; empty when no error
}

// JobAPI is the slice of the job client the controller needs.
type JobAPI interface {
	Submit(ctx context.Context, cand upload.Candidate, documentType string) (string, error)
	Status(ctx context.Context, jobID string) (analysis.Job, error)
	Details(ctx context.Context, jobID string) (*analysis.ProcessingMetadata, error)
}

// Notifier receives user-facing outcome notifications. It replaces the
// ambient success/error toast hooks of earlier console revisions with an
// explicit dependency.
type Notifier interface {
	OnSuccess(msg string)
	OnError(msg string)
}

type nopNotifier struct{}

func (nopNotifier) OnSuccess(string) {}
func (nopNotifier) OnError(string)   {}

// Recorder observes submission lifecycle events, e.g. for a local history
// store. The workflow never reads anything back from it.
type Recorder interface {
	SubmissionStarted(jobID, fileName, documentType string)
	SubmissionFinished(jobID string, phase Phase, errMsg string)
}

// ErrBusy is returned when a submission is attempted while another is
// already processing. Call Clear first.
var ErrBusy = errors.New("an analysis is already in progress")

// ErrNothingToRetry is returned by Retry when no prior submission exists.
var ErrNothingToRetry = errors.New("nothing to retry")

const detailsFetchTimeout = 15 * time.Second

type submission struct {
	candidate    upload.Candidate
	documentType string
}

// Controller drives one upload's analysis workflow at a time.
type Controller struct {
	client   JobAPI
	sched    *poll.Scheduler
	notifier Notifier
	recorder Recorder
	onChange func(State)
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	handle     *poll.Handle
	last       *submission
	gen        int // bumped on clear/close/resubmit; stale poll callbacks check it
	terminal   chan struct{}
	submitting bool // a submission holds the slot before Phase turns processing
	closed     bool

	emitMu sync.Mutex // serializes onChange deliveries
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the outcome notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithRecorder sets the submission recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithOnChange registers a callback invoked with a state snapshot after
// every transition. Calls are serialized and happen outside the controller's
// state lock, so the callback may keep unguarded local state of its own.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates an idle Controller polling with the given cadence.
func New(client JobAPI, pollCfg poll.Config, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		sched:    poll.New(client, pollCfg),
		notifier: nopNotifier{},
		logger:   slog.Default(),
		state:    State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current view model.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit validates the candidate and, if it passes, submits it and starts
// polling. Validation failures leave the workflow idle with a classified
// error; submit transport failures are terminal immediately (no retry).
// The given context governs the submission request and the entire polling
// lifecycle that follows.
func (c *Controller) Submit(ctx context.Context, cand upload.Candidate, documentType string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	return c.submit(ctx, cand, documentType)
}

// Retry re-runs the failed submission from scratch: the file is re-uploaded
// and a fresh job polled. A failed server-side job is not assumed resumable.
func (c *Controller) Retry(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		c.release()
		return ErrNothingToRetry
	}
	return c.submit(ctx, last.candidate, last.documentType)
}

// acquire reserves the single submission slot so concurrent Submit/Retry
// calls cannot race past the busy check and create orphan server-side jobs.
func (c *Controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("workflow is closed")
	}
	if c.submitting || c.state.Phase == PhaseProcessing {
		return ErrBusy
	}
	c.submitting = true
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()
}

// Clear cancels any active polling and resets the workflow to idle.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.stopLocked()
	c.state = State{Phase: PhaseIdle}
	c.mu.Unlock()
	c.emit()
}

// Close cancels any active polling. The controller keeps its last state but
// will never mutate it again; use it on the hosting view's teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.closed = true
	c.mu.Unlock()
}

// WaitTerminal blocks until the current submission reaches a terminal phase,
// the workflow is cleared or closed, or ctx is cancelled.
func (c *Controller) WaitTerminal(ctx context.Context) (State, error) {
	c.mu.Lock()
	ch := c.terminal
	c.mu.Unlock()
	if ch == nil {
		return c.State(), nil
	}
	select {
	case <-ch:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// stopLocked cancels the active poll handle and invalidates in-flight
// callbacks. Caller holds c.mu.
func (c *Controller) stopLocked() {
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}
	c.gen++
	if c.terminal != nil {
		close(c.terminal)
		c.terminal = nil
	}
}

// submit runs with the submission slot held; release happens on every path.
func (c *Controller) submit(ctx context.Context, cand upload.Candidate, documentType string) error {
	defer c.release()

	if err := upload.Validate(cand); err != nil {
		var ve *upload.ValidationError
		msg := analysis.Classify("", "")
		if errors.As(err, &ve) {
			msg = analysis.Classify(ve.Code, "")
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return err
		}
		c.stopLocked()
		c.state = State{Phase: PhaseIdle, Err: msg}
		c.mu.Unlock()
		c.emit()
		c.notifier.OnError(msg)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("workflow is closed")
	}
	c.stopLocked()
	gen := c.gen
	c.last = &submission{candidate: cand, documentType: documentType}
	c.terminal = make(chan struct{})
	c.state = State{Phase: PhaseProcessing, MaxRetries: poll.DefaultMaxRetries}
	c.mu.Unlock()
	c.emit()

	jobID, err := c.client.Submit(ctx, cand, documentType)
	if err != nil {
		if ctx.Err() != nil {
			c.settle(gen, PhaseIdle, "", "")
			return err
		}
		msg := classifyError(err)
		c.logger.Warn("submit failed", "file", cand.FileName, "error", err)
		c.settle(gen, PhaseFailed, "", msg)
		c.notifier.OnError(msg)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		// Cleared while the upload was in flight; its job is abandoned.
		c.mu.Unlock()
		return nil
	}
	c.state.JobID = jobID
	c.handle = c.sched.Start(ctx, jobID,
		func(p poll.Progress) { c.handleTick(gen, p) },
		func(doc analysis.Document) { c.handleTerminal(gen, jobID, doc) },
	)
	c.mu.Unlock()
	c.emit()

	if c.recorder != nil {
		c.recorder.SubmissionStarted(jobID, cand.FileName, documentType)
	}
	c.logger.Info("analysis job submitted", "job_id", jobID, "file", cand.FileName)
	return nil
}

func (c *Controller) handleTick(gen int, p poll.Progress) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state.Progress = p.Percent
	c.state.Retry = p.Retry
	c.state.MaxRetries = p.MaxRetries
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) handleTerminal(gen int, jobID string, doc analysis.Document) {
	if doc.Status == analysis.StatusCompleted {
		result := analysis.Normalize(doc)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.state.Phase = PhaseCompleted
		c.state.Progress = 100
		c.state.Retry = 0
		c.state.Result = &result
		c.signalTerminalLocked()
		c.mu.Unlock()
		c.emit()

		c.notifier.OnSuccess("Analysis complete.")
		if c.recorder != nil {
			c.recorder.SubmissionFinished(jobID, PhaseCompleted, "")
		}
		c.fetchDetails(gen, jobID)
		return
	}

	msg := classifyDocumentFailure(doc)
	c.settle(gen, PhaseFailed, jobID, msg)
	c.notifier.OnError(msg)
}

// settle moves the workflow to a terminal (or reset) phase and signals
// waiters, unless the submission has been superseded.
func (c *Controller) settle(gen int, phase Phase, jobID, errMsg string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state.Phase = phase
	c.state.Retry = 0
	c.state.Err = errMsg
	c.signalTerminalLocked()
	c.mu.Unlock()
	c.emit()

	if phase == PhaseFailed && c.recorder != nil {
		c.recorder.SubmissionFinished(jobID, phase, errMsg)
	}
}

// fetchDetails pulls the richer results after completion. Strictly
// best-effort: any failure is logged and swallowed, and a completed state is
// never altered except to fill in metadata the server reported.
func (c *Controller) fetchDetails(gen int, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), detailsFetchTimeout)
	defer cancel()

	meta, err := c.client.Details(ctx, jobID)
	if err != nil {
		c.logger.Warn("detailed results fetch failed", "job_id", jobID, "error", err)
		return
	}
	if meta == nil {
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.state.Phase != PhaseCompleted {
		c.mu.Unlock()
		return
	}
	c.state.Metadata = meta
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) signalTerminalLocked() {
	if c.terminal != nil {
		close(c.terminal)
		c.terminal = nil
	}
}

// emit delivers a fresh snapshot to the onChange callback. Deliveries are
// serialized: the snapshot is taken under emitMu, so each call observes a
// state at least as new as the previous one.
func (c *Controller) emit() {
	if c.onChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onChange(c.State())
}

func classifyDocumentFailure(doc analysis.Document) string {
	if doc.Error == nil {
		return analysis.Classify("", "")
	}
	return analysis.Classify(doc.Error.Code, doc.Error.Message)
}

// classifyError maps submit/transport failures to a user-displayable
// sentence.
func classifyError(err error) string {
	var te *jobclient.TransportError
	if errors.As(err, &te) {
		if te.Code != "" {
			return analysis.Classify(te.Code, te.Message)
		}
		return analysis.ClassifyStatus(te.StatusCode, "")
	}
	var ce *jobclient.ContractError
	if errors.As(err, &ce) {
		return analysis.Classify(analysis.CodeServerError, "")
	}
	// No response received at all.
	return analysis.ClassifyStatus(0, "")
}
