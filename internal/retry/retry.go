// Package retry runs operations with bounded exponential backoff.
//
// Retry n (n >= 1) waits BaseDelay * Multiplier^(n-1) before the next
// attempt, optionally capped by MaxDelay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrExhausted is returned, wrapping the last error, when every attempt
// failed with a transient error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// MaxDelay caps a single wait when positive.
	MaxDelay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy matches the image-generation defaults: three attempts with
// waits of 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
}

// Result reports how many attempts an operation took.
type Result struct {
	Attempts int
	Retries  int
}

// Delay returns the wait before retry n. Delay(0) is zero.
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Do runs op until it succeeds, returns a non-transient error, or the
// policy runs out of attempts. A nil classify treats every error as
// transient.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, classify func(error) bool) (Result, error) {
	var res Result
	var lastErr error
	max := p.attempts()

	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.Delay(attempt-1)); err != nil {
				return res, err
			}
			res.Retries++
		}
		res.Attempts = attempt

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return res, nil
		}
		if classify != nil && !classify(lastErr) {
			return res, lastErr
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, res.Attempts, lastErr)
}
