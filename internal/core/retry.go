package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookforge/internal/agent"
)

// Policy is the one retry schedule for the whole pipeline. Generation
// calls, extraction re-asks, and retry-queue drains all back off on
// the same curve so a rate-limited provider sees one coherent client.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy retries three times starting at two seconds, doubling
// up to a thirty second ceiling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the backoff before the given attempt (1-based). The
// first attempt runs immediately; attempt n waits
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op up to MaxAttempts times, sleeping between attempts. Only
// errors IsRetryable accepts are retried; a RetryableError carrying an
// After hint overrides the computed backoff. Context cancellation
// stops the loop immediately and returns ctx.Err().
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := p.Delay(attempt)
			var retryable *RetryableError
			if errors.As(lastErr, &retryable) && retryable.After > 0 {
				wait = retryable.After
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// RetryingGenerator wraps a single-shot Generator with the pipeline
// policy. Hand the wrapped generator to everything that talks to the
// model; the inner client stays free of retry scheduling.
type RetryingGenerator struct {
	Inner  agent.Generator
	Policy Policy
	Logger *slog.Logger
}

func NewRetryingGenerator(inner agent.Generator, policy Policy, logger *slog.Logger) *RetryingGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingGenerator{Inner: inner, Policy: policy, Logger: logger}
}

func (g *RetryingGenerator) Generate(ctx context.Context, req agent.Request) (*agent.Result, error) {
	var res *agent.Result
	attempt := 0
	err := g.Policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		r, err := g.Inner.Generate(ctx, req)
		if err != nil {
			if attempt < g.Policy.MaxAttempts && IsRetryable(err) {
				g.Logger.Warn("generation attempt failed",
					"class", req.Class,
					"attempt", attempt,
					"error", err)
			}
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
