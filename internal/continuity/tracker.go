package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bookforge/internal/agent"
	"bookforge/internal/book"
)

// Config tunes extraction behavior.
type Config struct {
	// ExtractRetries is how many bare-JSON re-asks follow a failed parse.
	ExtractRetries int
	// CriticalCategories lists extraction categories that fail the whole
	// unit check when they cannot be parsed. nil means the default
	// (character); an explicit empty slice means none are critical.
	CriticalCategories []string
}

// DefaultConfig returns the standard tracker tuning.
func DefaultConfig() Config {
	return Config{
		ExtractRetries:     2,
		CriticalCategories: []string{"character"},
	}
}

func (c Config) withDefaults() Config {
	if c.ExtractRetries < 0 {
		c.ExtractRetries = 0
	}
	if c.CriticalCategories == nil {
		c.CriticalCategories = []string{"character"}
	}
	return c
}

// Tracker maintains one book's narrative state and checks each generated
// unit against it. CheckUnit calls are serialized by the orchestrator;
// snapshot and digest reads may be concurrent.
type Tracker struct {
	gen    agent.Generator
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state *NarrativeState
}

// NewTracker returns a tracker with empty state. Call Initialize or
// Restore before checking units.
func NewTracker(gen agent.Generator, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		gen:    gen,
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  NewNarrativeState(""),
	}
}

func (t *Tracker) isCritical(category string) bool {
	for _, c := range t.cfg.CriticalCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Initialize seeds fresh state for a book, replacing anything held before.
// Premise characters enter with chapter 0; they have not appeared yet.
func (t *Tracker) Initialize(bookID string, characters []book.CharacterSeed, outline *book.Outline, researchFacts []string) {
	st := NewNarrativeState(bookID)
	for _, c := range characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		st.Characters[name] = &CharacterState{Name: name, Role: c.Role}
	}
	if outline != nil {
		st.PlannedChapters = len(outline.Chapters)
	}
	st.ResearchFacts = append([]string(nil), researchFacts...)
	st.UpdatedAt = time.Now().UTC()

	t.mu.Lock()
	t.state = st
	t.mu.Unlock()

	t.logger.Info("continuity state initialized",
		"book_id", bookID,
		"characters", len(st.Characters),
		"research_facts", len(st.ResearchFacts),
	)
}

// CheckUnit extracts narrative updates from new content, merges them, then
// runs the category checks against the merged state. The unit is judged
// against the world as it now stands, its own new facts included.
func (t *Tracker) CheckUnit(ctx context.Context, chapter, unit int, content string) (*ConsistencyReport, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("check chapter %d unit %d: empty content", chapter, unit)
	}

	t.mu.RLock()
	bookID := t.state.BookID
	digest := t.state.Digest()
	t.mu.RUnlock()
	if digest == "" {
		digest = "(nothing established yet)"
	}

	update, outcome, err := extract[StateUpdate](ctx, t, "character", agent.Request{
		Prompt:    fmt.Sprintf(extractPromptTemplate, chapter, digest, content),
		System:    systemContinuity,
		Class:     agent.ClassExtraction,
		ForceJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("chapter %d unit %d: %w", chapter, unit, err)
	}
	if outcome == extractOK {
		t.mu.Lock()
		t.state.ApplyUpdate(update, chapter, unit)
		t.mu.Unlock()
	}

	var issues []ConsistencyIssue
	for _, chk := range categoryChecks {
		found, err := t.runCheck(ctx, chk, chapter, content)
		if err != nil {
			return nil, fmt.Errorf("chapter %d unit %d: %w", chapter, unit, err)
		}
		issues = append(issues, found...)
	}

	report := BuildReport(issues, len(content))
	t.logger.Info("unit consistency checked",
		"book_id", bookID,
		"chapter", chapter,
		"unit", unit,
		"issues", len(issues),
		"score", report.OverallScore,
	)
	return report, nil
}

// Snapshot returns a deep copy of the current state for checkpointing.
func (t *Tracker) Snapshot() *NarrativeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// Restore replaces the tracker's state with a deep copy of st, as when
// resuming from a checkpoint. A nil st is ignored.
func (t *Tracker) Restore(st *NarrativeState) {
	if st == nil {
		return
	}
	t.mu.Lock()
	t.state = st.Clone()
	t.mu.Unlock()
}

// Digest returns the prompt-sized summary of the current state.
func (t *Tracker) Digest() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Digest()
}
