package fetcher

import (
	"context"
	"errors"
	"time"
)

// FailureClass groups failed attempts by how long to wait before the next.
type FailureClass int

const (
	// Transient covers transport errors, timeouts and unexpected statuses.
	Transient FailureClass = iota
	// RateLimited is an HTTP 429.
	RateLimited
	// Fatal is an error payload delivered with HTTP 200; no further attempts
	// are made.
	Fatal
)

// RetryPolicy bounds the attempts of a single fetch.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
	// Sleep waits between attempts; it must return early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns five attempts with 1s/4s exponential delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		RateLimitDelay: 4 * time.Second,
		MaxDelay:       time.Minute,
		Sleep:          SleepContext,
	}
}

// Classify maps an attempt error to its failure class.
func Classify(err error) FailureClass {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return Fatal
	}
	var serr *StatusError
	if errors.As(err, &serr) && serr.RateLimited() {
		return RateLimited
	}
	return Transient
}

// Backoff returns the delay after the given zero-based attempt.
func (p RetryPolicy) Backoff(attempt int, class FailureClass) time.Duration {
	base := p.BaseDelay
	if class == RateLimited {
		base = p.RateLimitDelay
	}
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
