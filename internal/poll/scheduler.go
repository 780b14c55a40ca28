// Package poll drives repeated status checks against the job API until a
// terminal state, retry exhaustion, or cancellation.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/jobclient"
)

// Defaults for the polling cadence.
const (
	DefaultInterval   = 6 * time.Second
	DefaultRetryDelay = 5 * time.Second
	DefaultMaxRetries = 3
)

// Progress increments per successful non-terminal check. This is a UX
// approximation, not a server-reported value: the job API exposes no real
// progress, so the estimate just climbs additively and saturates below 100.
const (
	progressStep = 15
	progressCap  = 90
)

// StatusFetcher fetches the current state of a job.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (analysis.Job, error)
}

// Config controls the polling cadence. Zero values take the defaults.
type Config struct {
	Interval   time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Progress is the per-tick update surfaced to the caller. Retry is non-zero
// while the scheduler is re-trying after a transport failure ("Retrying
// (2/3)").
type Progress struct {
	Percent    int
	Retry      int
	MaxRetries int
}

// Scheduler issues sequential status checks on a timer. Checks never overlap:
// the loop runs in a single goroutine and the next delay only starts after
// the previous check returned.
type Scheduler struct {
	fetch  StatusFetcher
	cfg    Config
	logger *slog.Logger
}

// New creates a Scheduler over the given fetcher.
func New(fetch StatusFetcher, cfg Config) *Scheduler {
	return &Scheduler{
		fetch:  fetch,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
}

// Handle cancels an in-progress poll loop. Cancel is idempotent and safe to
// call after the loop has already terminated naturally.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the loop. Future ticks and retries stop acting; a status
// request already in flight is cancelled through its context.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the loop has fully stopped, whether terminally or via
// Cancel.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start begins polling jobID. onTick receives progress updates for
// non-terminal checks and retry attempts; onTerminal receives the final
// document exactly once (real or synthetic) unless the handle is cancelled
// first. Both callbacks run on the scheduler's goroutine; either may be nil.
func (s *Scheduler) Start(ctx context.Context, jobID string, onTick func(Progress), onTerminal func(analysis.Document)) *Handle {
	if onTick == nil {
		onTick = func(Progress) {}
	}
	if onTerminal == nil {
		onTerminal = func(analysis.Document) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, jobID, onTick, onTerminal, h)
	return h
}

func (s *Scheduler) run(ctx context.Context, jobID string, onTick func(Progress), onTerminal func(analysis.Document), h *Handle) {
	defer close(h.done)
	defer h.cancel()

	progress := 0
	retries := 0
	delay := s.cfg.Interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		job, err := s.fetch.Status(ctx, jobID)
		if ctx.Err() != nil {
			// Cancelled while the check was in flight; the result is
			// unobservable by contract.
			return
		}

		if err != nil {
			var ce *jobclient.ContractError
			if errors.As(err, &ce) {
				// Malformed server payloads are not transient; retrying would
				// just repeat the violation.
				s.logger.Error("job status violates api contract", "job_id", jobID, "error", err)
				onTerminal(syntheticFailure(analysis.CodeServerError, ce.Reason))
				return
			}

			if retries >= s.cfg.MaxRetries {
				s.logger.Warn("status polling exhausted retries", "job_id", jobID, "retries", retries, "error", err)
				onTerminal(syntheticFailure(analysis.CodePollExhausted, err.Error()))
				return
			}
			retries++
			s.logger.Warn("status check failed, retrying", "job_id", jobID, "attempt", retries, "max", s.cfg.MaxRetries, "error", err)
			onTick(Progress{Percent: progress, Retry: retries, MaxRetries: s.cfg.MaxRetries})
			delay = s.cfg.RetryDelay
			continue
		}

		retries = 0
		doc := firstDocument(job)
		if doc.Status.Terminal() {
			onTerminal(doc)
			return
		}

		progress = min(progress+progressStep, progressCap)
		onTick(Progress{Percent: progress, MaxRetries: s.cfg.MaxRetries})
		delay = s.cfg.Interval
	}
}

// firstDocument returns documents[0], the only document the workflow
// consumes. A job still provisioning its documents counts as processing.
func firstDocument(job analysis.Job) analysis.Document {
	if len(job.Documents) > 0 {
		return job.Documents[0]
	}
	return analysis.Document{Status: analysis.StatusProcessing}
}

func syntheticFailure(code, detail string) analysis.Document {
	return analysis.Document{
		Status: analysis.StatusFailed,
		Error:  &analysis.JobError{Code: code, Message: detail},
	}
}
