package poller

import (
	"context"
	"errors"

	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/job"
)

// ResultSink receives the outcome of each attempt that reaches a terminal
// state. Exactly one method is called per such attempt, and never for an
// attempt that was stopped or superseded. Methods are called without the
// orchestrator's lock held and may call back into it.
//
// An attempt is decided before its callback runs. A Submit or Stop issued in
// between does not withdraw that outcome, so a callback may arrive after the
// next attempt has already started. Receivers that care should compare
// against their own record of the latest Submit.
type ResultSink interface {
	// OnSucceeded is called with the media URL and, when the service reported
	// one, the refreshed credit balance.
	OnSucceeded(mediaURL string, updatedBalance *float64)
	// OnFailed covers rejected submissions, failed jobs, failed status
	// lookups and polling timeouts.
	OnFailed()
	// OnInsufficientCredits is called when the service refused the job for
	// lack of credits.
	OnInsufficientCredits()
}

// BalanceSink receives credit balance refreshes. Updates are best-effort:
// a returned error (or a panic) is logged and does not affect the attempt.
type BalanceSink interface {
	UpdateBalance(ctx context.Context, balance float64) error
}

// BalanceFunc adapts a function to the BalanceSink interface.
type BalanceFunc func(ctx context.Context, balance float64) error

// UpdateBalance calls f.
func (f BalanceFunc) UpdateBalance(ctx context.Context, balance float64) error {
	return f(ctx, balance)
}

// SinkFuncs builds a ResultSink from optional callbacks; nil fields are
// ignored.
type SinkFuncs struct {
	Succeeded           func(mediaURL string, updatedBalance *float64)
	Failed              func()
	InsufficientCredits func()
}

// OnSucceeded implements ResultSink.
func (s SinkFuncs) OnSucceeded(mediaURL string, updatedBalance *float64) {
	if s.Succeeded != nil {
		s.Succeeded(mediaURL, updatedBalance)
	}
}

// OnFailed implements ResultSink.
func (s SinkFuncs) OnFailed() {
	if s.Failed != nil {
		s.Failed()
	}
}

// OnInsufficientCredits implements ResultSink.
func (s SinkFuncs) OnInsufficientCredits() {
	if s.InsufficientCredits != nil {
		s.InsufficientCredits()
	}
}

var _ ResultSink = SinkFuncs{}

// IsValidationError reports whether err was raised before any network
// activity because the inputs were unusable.
func IsValidationError(err error) bool {
	return job.IsValidationError(err) ||
		errors.Is(err, imagebuf.ErrInvalidSlot) ||
		errors.Is(err, imagebuf.ErrInvalidImageType) ||
		errors.Is(err, imagebuf.ErrImageTooLarge)
}
