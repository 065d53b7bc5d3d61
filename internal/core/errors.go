package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bookforge/internal/agent"
)

// Sentinel errors shared across the pipeline. Transient transport
// conditions are modeled as sentinels so wrapped errors stay matchable
// with errors.Is after stages add context.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("operation timed out")
	ErrNetwork      = errors.New("network error")
	ErrBookActive   = errors.New("book already has an active run")
	ErrNoCheckpoint = errors.New("no checkpoint for book")
	ErrQueueEmpty   = errors.New("retry queue is empty")
)

// StageError records which pipeline stage failed for which book. The
// orchestrator wraps every stage failure in one of these before
// surfacing it, so callers can log the stage without string parsing.
type StageError struct {
	Stage  string
	BookID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (book %s): %v", e.Stage, e.BookID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RetryableError marks an error as worth retrying. After, when set,
// overrides the policy's computed backoff for the next attempt (used
// for rate-limit responses that carry a Retry-After hint).
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// CorruptCheckpointError distinguishes an unreadable checkpoint from a
// missing one. Missing means a fresh run; corrupt means the operator
// must inspect or clear the file before resuming.
type CorruptCheckpointError struct {
	Path string
	Err  error
}

func (e *CorruptCheckpointError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CorruptCheckpointError) Unwrap() error {
	return e.Err
}

// ValidationError reports a rejected configuration or request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsRetryable reports whether err is transient. Rate limits, timeouts,
// network faults, and 429/5xx API responses are retryable; canceled
// contexts never are, even when a transport wrapped them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *agent.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsFatal reports whether err should stop the run rather than be
// retried or queued.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}
