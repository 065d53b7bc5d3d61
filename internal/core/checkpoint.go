package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"bookforge/internal/book"
	"bookforge/internal/continuity"
)

// CheckpointSchemaVersion gates resume compatibility. A checkpoint
// written by a newer schema is treated as corrupt, never guessed at.
const CheckpointSchemaVersion = 1

// Checkpoint is the durable resume point for one book. It is written
// after the outline, after every completed chapter, and once more
// before the completion transition; it is deleted only when the book
// finishes cleanly.
type Checkpoint struct {
	SchemaVersion     int                        `json:"schema_version"`
	BookID            string                     `json:"book_id"`
	Status            book.BookStatus            `json:"status"`
	State             *continuity.NarrativeState `json:"state"`
	CompletedChapters []int                      `json:"completed_chapters"`
	CompletedUnits    map[int][]int              `json:"completed_units"`
	FailedUnits       []FailedUnit               `json:"failed_units"`
	SavedAt           time.Time                  `json:"saved_at"`
}

// ChapterDone reports whether the chapter finished its main pass.
func (c *Checkpoint) ChapterDone(number int) bool {
	for _, n := range c.CompletedChapters {
		if n == number {
			return true
		}
	}
	return false
}

// UnitDone reports whether the unit was accepted before the snapshot.
func (c *Checkpoint) UnitDone(chapter, unit int) bool {
	for _, n := range c.CompletedUnits[chapter] {
		if n == unit {
			return true
		}
	}
	return false
}

// MarkChapter records a completed chapter, keeping the list sorted.
func (c *Checkpoint) MarkChapter(number int) {
	if c.ChapterDone(number) {
		return
	}
	c.CompletedChapters = append(c.CompletedChapters, number)
	sort.Ints(c.CompletedChapters)
}

// MarkUnit records an accepted unit, keeping each chapter's list sorted.
func (c *Checkpoint) MarkUnit(chapter, unit int) {
	if c.UnitDone(chapter, unit) {
		return
	}
	if c.CompletedUnits == nil {
		c.CompletedUnits = make(map[int][]int)
	}
	c.CompletedUnits[chapter] = append(c.CompletedUnits[chapter], unit)
	sort.Ints(c.CompletedUnits[chapter])
}

func checkpointKey(bookID string) string {
	return fmt.Sprintf("checkpoints/%s.json", bookID)
}

// CheckpointManager persists checkpoints through Storage. The storage
// layer writes atomically, so a crash mid-save leaves the previous
// checkpoint intact.
type CheckpointManager struct {
	storage Storage
	logger  *slog.Logger
}

func NewCheckpointManager(storage Storage, logger *slog.Logger) *CheckpointManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointManager{storage: storage, logger: logger}
}

// Save stamps the checkpoint with the current schema version and time
// and overwrites the book's checkpoint file.
func (m *CheckpointManager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.BookID == "" {
		return &ValidationError{Field: "book_id", Message: "checkpoint requires a book id"}
	}
	cp.SchemaVersion = CheckpointSchemaVersion
	cp.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := m.storage.Save(ctx, checkpointKey(cp.BookID), data); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		"book_id", cp.BookID,
		"status", cp.Status,
		"chapters_done", len(cp.CompletedChapters))
	return nil
}

// Load reads the book's checkpoint. A missing file returns
// ErrNoCheckpoint; anything unreadable or from an unknown schema
// returns a CorruptCheckpointError.
func (m *CheckpointManager) Load(ctx context.Context, bookID string) (*Checkpoint, error) {
	key := checkpointKey(bookID)
	data, err := m.storage.Load(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &CorruptCheckpointError{Path: key, Err: err}
	}
	if cp.SchemaVersion < 1 || cp.SchemaVersion > CheckpointSchemaVersion {
		return nil, &CorruptCheckpointError{
			Path: key,
			Err:  fmt.Errorf("unsupported schema version %d", cp.SchemaVersion),
		}
	}
	if cp.BookID == "" {
		return nil, &CorruptCheckpointError{Path: key, Err: errors.New("missing book id")}
	}
	return &cp, nil
}

// Clear removes the book's checkpoint. Clearing a book that has no
// checkpoint is not an error.
func (m *CheckpointManager) Clear(ctx context.Context, bookID string) error {
	key := checkpointKey(bookID)
	if !m.storage.Exists(ctx, key) {
		return nil
	}
	return m.storage.Delete(ctx, key)
}

// List returns every readable checkpoint. Corrupt files are logged and
// skipped so one bad file cannot hide the rest.
func (m *CheckpointManager) List(ctx context.Context) ([]*Checkpoint, error) {
	keys, err := m.storage.List(ctx, "checkpoints/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var out []*Checkpoint
	for _, key := range keys {
		data, err := m.storage.Load(ctx, key)
		if err != nil {
			m.logger.Warn("skipping unreadable checkpoint", "path", key, "error", err)
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			m.logger.Warn("skipping corrupt checkpoint", "path", key, "error", err)
			continue
		}
		out = append(out, &cp)
	}
	return out, nil
}
