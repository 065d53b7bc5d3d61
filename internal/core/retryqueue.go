package core

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bookforge/internal/book"
)

// Failure reasons recorded on queued units.
const (
	ReasonGeneration = "generation"
	ReasonContinuity = "continuity"
	ReasonReview     = "review"
	ReasonQuality    = "quality"
)

// FailedUnit is one queued regeneration job plus enough forensics to
// explain it in the final report.
type FailedUnit struct {
	BookID        string       `json:"book_id"`
	Chapter       int          `json:"chapter"`
	Unit          int          `json:"unit"`
	TargetWords   int          `json:"target_words"`
	Reason        string       `json:"reason"`
	Detail        string       `json:"detail,omitempty"`
	Scores        *book.Scores `json:"scores,omitempty"`
	RetryCount    int          `json:"retry_count"`
	FirstFailedAt time.Time    `json:"first_failed_at"`
	LastTriedAt   time.Time    `json:"last_tried_at"`
}

// RetryFunc re-runs one failed unit. A nil return removes the unit
// from the queue; any error increments its retry count.
type RetryFunc func(ctx context.Context, fu *FailedUnit) error

// RetryQueue holds units that failed generation or the quality gate.
// Entries that exhaust their retries stay enumerable so operators and
// the final report can see them; nothing is dropped silently.
type RetryQueue struct {
	mu     sync.Mutex
	items  []*FailedUnit
	policy Policy
	logger *slog.Logger
}

func NewRetryQueue(policy Policy, logger *slog.Logger) *RetryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryQueue{policy: policy, logger: logger}
}

// Enqueue records a failure. A unit already queued keeps its retry
// count and first-failure time; reason, detail, and scores refresh to
// the latest attempt.
func (q *RetryQueue) Enqueue(fu FailedUnit) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range q.items {
		if existing.BookID == fu.BookID && existing.Chapter == fu.Chapter && existing.Unit == fu.Unit {
			existing.Reason = fu.Reason
			existing.Detail = fu.Detail
			existing.Scores = fu.Scores
			existing.LastTriedAt = now
			return
		}
	}

	fu.RetryCount = 0
	fu.FirstFailedAt = now
	fu.LastTriedAt = now
	q.items = append(q.items, &fu)

	q.logger.Debug("unit queued for retry",
		"book_id", fu.BookID,
		"chapter", fu.Chapter,
		"unit", fu.Unit,
		"reason", fu.Reason)
}

// List returns copies of the queued units for one book, in chapter
// then unit order.
func (q *RetryQueue) List(bookID string) []FailedUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []FailedUnit
	for _, fu := range q.items {
		if fu.BookID == bookID {
			out = append(out, *fu)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chapter != out[j].Chapter {
			return out[i].Chapter < out[j].Chapter
		}
		return out[i].Unit < out[j].Unit
	})
	return out
}

// Len reports the number of queued units across all books.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued unit for the book.
func (q *RetryQueue) Clear(bookID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, fu := range q.items {
		if fu.BookID != bookID {
			kept = append(kept, fu)
		}
	}
	q.items = kept
}

// Snapshot copies the whole queue for checkpointing.
func (q *RetryQueue) Snapshot() []FailedUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]FailedUnit, 0, len(q.items))
	for _, fu := range q.items {
		out = append(out, *fu)
	}
	return out
}

// Restore replaces the queue contents from a checkpoint.
func (q *RetryQueue) Restore(items []FailedUnit) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make([]*FailedUnit, 0, len(items))
	for i := range items {
		fu := items[i]
		q.items = append(q.items, &fu)
	}
}

// Drain retries the book's eligible units, oldest first, until every
// entry has either recovered or exhausted maxRetries. Each attempt
// waits out the policy backoff for the unit's retry number. Entries at
// maxRetries stay queued as terminal failures. Drain stops early only
// when ctx is done.
func (q *RetryQueue) Drain(ctx context.Context, bookID string, maxRetries int, retry RetryFunc) error {
	for {
		pending := q.eligible(bookID, maxRetries)
		if len(pending) == 0 {
			return nil
		}

		for _, fu := range pending {
			if err := sleepCtx(ctx, q.policy.Delay(fu.RetryCount+1)); err != nil {
				return err
			}

			attempt := *fu
			err := retry(ctx, &attempt)
			if err == nil {
				q.remove(fu.BookID, fu.Chapter, fu.Unit)
				q.logger.Info("queued unit recovered",
					"book_id", fu.BookID,
					"chapter", fu.Chapter,
					"unit", fu.Unit,
					"retries", fu.RetryCount+1)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.recordFailure(fu.BookID, fu.Chapter, fu.Unit, err)
		}
	}
}

// eligible copies the retryable entries for one book in FIFO order.
func (q *RetryQueue) eligible(bookID string, maxRetries int) []*FailedUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*FailedUnit
	for _, fu := range q.items {
		if fu.BookID == bookID && fu.RetryCount < maxRetries {
			cp := *fu
			out = append(out, &cp)
		}
	}
	return out
}

func (q *RetryQueue) remove(bookID string, chapter, unit int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, fu := range q.items {
		if fu.BookID == bookID && fu.Chapter == chapter && fu.Unit == unit {
			continue
		}
		kept = append(kept, fu)
	}
	q.items = kept
}

func (q *RetryQueue) recordFailure(bookID string, chapter, unit int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, fu := range q.items {
		if fu.BookID == bookID && fu.Chapter == chapter && fu.Unit == unit {
			fu.RetryCount++
			fu.Detail = err.Error()
			fu.LastTriedAt = time.Now().UTC()
			q.logger.Warn("queued unit failed again",
				"book_id", bookID,
				"chapter", chapter,
				"unit", unit,
				"retry_count", fu.RetryCount,
				"error", err)
			return
		}
	}
}
