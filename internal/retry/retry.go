package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy controls the attempt loop.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultPolicy returns the policy used across drover: three attempts with
// jittered exponential backoff capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// Backoff computes the delay before the given zero-based attempt:
// min(BaseDelay * 2^attempt, MaxDelay), with +-JitterFactor jitter applied.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * delay * p.JitterFactor
		delay += jitter
	}

	if delay < 0 {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a permanent error, or attempts run
// out. The sleep between attempts honors ctx cancellation.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, policy Policy, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !IsTransient(lastErr) {
			return result, lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, fmt.Errorf("max retries exceeded: %w", lastErr)
}
