// Package poller drives one image(s)-to-video job at a time: it submits the
// job, polls its status on a fixed interval with a bounded number of attempts,
// and reports exactly one outcome per attempt to a ResultSink.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/img2video/internal/genapi"
	"github.com/maauso/img2video/internal/id"
	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/job"
)

// Defaults for the polling session.
const (
	DefaultMaxAttempts  = 100
	DefaultPollInterval = 6 * time.Second
)

// Session is a snapshot of the current (or last) polling session.
type Session struct {
	// ID identifies the attempt locally.
	ID string
	// JobID is the service-side job identifier, empty while submitting.
	JobID string
	// AttemptsElapsed counts status lookups that reported the job as pending.
	AttemptsElapsed int
	MaxAttempts     int
	Interval        time.Duration
	// Active is true until the attempt reaches a terminal state or is stopped.
	Active bool
}

// Orchestrator owns the lifecycle of generation attempts. Starting a new
// attempt cancels the previous one; a cancelled attempt never reaches the
// sink.
type Orchestrator struct {
	client      genapi.Client
	sink        ResultSink
	balance     BalanceSink
	identity    genapi.Identity
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session
	seq     uint64
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts sets how many pending status lookups are tolerated before
// the attempt is reported as failed. Non-positive values are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithPollInterval sets the wait between status lookups. Non-positive values
// are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithBalanceSink sets the receiver of credit balance refreshes.
func WithBalanceSink(b BalanceSink) Option {
	return func(o *Orchestrator) {
		o.balance = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator in the Idle state.
func New(client genapi.Client, sink ResultSink, identity genapi.Identity, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		sink:        sink,
		identity:    identity,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultPollInterval,
		logger:      slog.Default(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns a snapshot of the current or last session. The boolean is
// false when no submission has been made yet.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Session{}, false
	}
	return *o.session, true
}

// Submit validates the inputs and starts a new attempt, cancelling any
// previous one. Validation errors are returned without touching the state or
// the network. Everything after validation is reported through the sink, so
// the returned error is nil once the attempt has started.
//
// The submission request runs synchronously under ctx; polling continues in
// the background after Submit returns and is ended by a terminal outcome,
// Stop, or the next Submit.
func (o *Orchestrator) Submit(ctx context.Context, images []imagebuf.Image, params job.Parameters) error {
	params, err := job.Validate(params, len(images))
	if err != nil {
		return err
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			return fmt.Errorf("%w: image %d is empty", imagebuf.ErrInvalidImageType, img.Index)
		}
	}

	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.seq++
	seq := o.seq
	o.cancel = cancel
	if err := o.transitionLocked(StateSubmitting); err != nil {
		o.mu.Unlock()
		cancel()
		return err
	}
	o.session = &Session{
		ID:          id.Generate("session"),
		MaxAttempts: o.maxAttempts,
		Interval:    o.interval,
		Active:      true,
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	logger := o.logger.With(slog.String("session_id", sessionID))
	logger.Info("submitting job",
		slog.Int("images", len(images)),
		slog.String("model", params.Model.String()),
		slog.String("duration", params.DurationString()),
		slog.String("aspect_ratio", params.AspectRatio),
		slog.String("resolution", params.Resolution),
	)

	// The request is bound to the caller and to the attempt.
	submitCtx, cancelSubmit := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(attemptCtx, cancelSubmit)
	handle, err := o.client.SubmitJob(submitCtx, genapi.SubmitRequest{
		Images:   images,
		Params:   params,
		Identity: o.identity,
	})
	stopAfter()
	cancelSubmit()

	if err != nil {
		outcome := StateFailed
		if errors.Is(err, genapi.ErrInsufficientCredits) {
			outcome = StateInsufficientCredits
		}
		if o.finish(seq, outcome) {
			logger.Error("job submission failed",
				slog.String("error", err.Error()),
				slog.String("state", string(outcome)),
			)
			o.notify(outcome, "", nil)
		}
		return nil
	}

	if !o.isCurrent(seq) {
		logger.Info("submission acknowledged for a superseded attempt",
			slog.String("job_id", handle.JobID))
		return nil
	}
	logger.Info("job submitted", slog.String("job_id", handle.JobID))

	// The submission balance must land before any status lookup can report
	// a newer one.
	o.updateBalance(attemptCtx, handle.InitialBalance, logger)

	o.mu.Lock()
	if seq != o.seq {
		o.mu.Unlock()
		logger.Info("attempt superseded before polling started",
			slog.String("job_id", handle.JobID))
		return nil
	}
	if err := o.transitionLocked(StatePolling); err != nil {
		o.mu.Unlock()
		return err
	}
	o.session.JobID = handle.JobID
	o.wg.Add(1)
	go o.run(attemptCtx, seq, handle.JobID, logger.With(slog.String("job_id", handle.JobID)))
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) isCurrent(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return seq == o.seq
}

// Stop cancels the active attempt. It is a no-op when nothing is in flight
// and safe to call repeatedly. A stopped attempt returns the orchestrator to
// Idle and reports nothing to the sink.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return
	}
	o.cancel()
	o.cancel = nil
	o.seq++

	if o.state.IsActive() {
		if err := o.transitionLocked(StateIdle); err != nil {
			o.logger.Error("failed to stop attempt", slog.String("error", err.Error()))
		}
	}
	if o.session != nil {
		o.session.Active = false
		o.logger.Info("polling stopped",
			slog.String("session_id", o.session.ID),
			slog.String("job_id", o.session.JobID),
		)
	}
}

// Wait blocks until every polling goroutine started so far has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run is the polling session of one attempt. Ticks are sequential: the next
// lookup is scheduled only after the previous one returned.
func (o *Orchestrator) run(ctx context.Context, seq uint64, jobID string, logger *slog.Logger) {
	defer o.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		o.mu.Lock()
		if seq != o.seq {
			o.mu.Unlock()
			return
		}
		attempts := o.session.AttemptsElapsed
		o.mu.Unlock()

		if attempts >= o.maxAttempts {
			if o.finish(seq, StateFailed) {
				logger.Warn("polling timed out", slog.Int("attempts", attempts))
				o.notify(StateFailed, "", nil)
			}
			return
		}

		report, err := o.client.FetchStatus(ctx, genapi.StatusRequest{
			JobID:  jobID,
			UserID: o.identity.UserID,
		})
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			outcome := StateFailed
			if errors.Is(err, genapi.ErrInsufficientCredits) {
				outcome = StateInsufficientCredits
			}
			if o.finish(seq, outcome) {
				logger.Error("status lookup failed",
					slog.String("error", err.Error()),
					slog.String("state", string(outcome)),
				)
				o.notify(outcome, "", nil)
			}
			return
		}

		switch report.State {
		case genapi.StateSucceeded:
			if o.finish(seq, StateSucceeded) {
				logger.Info("job succeeded", slog.String("media_url", report.MediaURL))
				o.updateBalance(ctx, report.UpdatedBalance, logger)
				o.notify(StateSucceeded, report.MediaURL, report.UpdatedBalance)
			}
			return
		case genapi.StateFailed:
			if o.finish(seq, StateFailed) {
				logger.Warn("job failed")
				o.notify(StateFailed, "", nil)
			}
			return
		default:
			o.mu.Lock()
			if seq != o.seq {
				o.mu.Unlock()
				return
			}
			o.session.AttemptsElapsed++
			elapsed := o.session.AttemptsElapsed
			o.mu.Unlock()

			logger.Debug("job pending",
				slog.Int("attempt", elapsed),
				slog.Int("max_attempts", o.maxAttempts),
			)
			timer.Reset(o.interval)
		}
	}
}

// finish moves the attempt identified by seq to a terminal state. It returns
// false, changing nothing, when the attempt is no longer current.
func (o *Orchestrator) finish(seq uint64, to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if seq != o.seq {
		return false
	}
	if err := o.transitionLocked(to); err != nil {
		o.logger.Error("failed to finish attempt", slog.String("error", err.Error()))
		return false
	}
	o.session.Active = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return true
}

func (o *Orchestrator) transitionLocked(to State) error {
	if !canTransition(o.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.state, to)
	}
	o.state = to
	return nil
}

func (o *Orchestrator) notify(outcome State, mediaURL string, balance *float64) {
	if o.sink == nil {
		return
	}
	switch outcome {
	case StateSucceeded:
		o.sink.OnSucceeded(mediaURL, balance)
	case StateInsufficientCredits:
		o.sink.OnInsufficientCredits()
	default:
		o.sink.OnFailed()
	}
}

// updateBalance forwards a balance refresh to the balance sink. Failures are
// logged and swallowed.
func (o *Orchestrator) updateBalance(ctx context.Context, balance *float64, logger *slog.Logger) {
	if o.balance == nil || balance == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("balance update panicked", slog.Any("panic", r))
		}
	}()
	if err := o.balance.UpdateBalance(context.WithoutCancel(ctx), *balance); err != nil {
		logger.Warn("balance update failed",
			slog.String("error", err.Error()),
			slog.Float64("balance", *balance),
		)
	}
}
