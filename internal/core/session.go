package core

import (
	"sync"
	"time"

	"bookforge/internal/book"
)

// Session carries the live state of one run through the pipeline. Every
// stage reads and writes through it; nothing about a run lives in
// package globals, so two orchestrators in one process cannot collide.
type Session struct {
	Book       *book.Book
	Outline    *book.Outline
	Tracker    ContinuityChecker
	Queue      *RetryQueue
	Checkpoint *Checkpoint
	StartedAt  time.Time
	Resumed    bool
}

// activeRegistry prevents two concurrent runs of the same book within
// one orchestrator.
type activeRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newActiveRegistry() *activeRegistry {
	return &activeRegistry{active: make(map[string]struct{})}
}

func (r *activeRegistry) acquire(bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[bookID]; ok {
		return ErrBookActive
	}
	r.active[bookID] = struct{}{}
	return nil
}

func (r *activeRegistry) release(bookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, bookID)
}
