package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"bookforge/internal/book"
	"bookforge/internal/continuity"
)

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	files := newMemStorage()
	mgr := NewCheckpointManager(files, discardLogger())

	state := continuity.NewNarrativeState("bk-1")
	state.LastChapter = 2
	state.PlannedChapters = 5

	cp := &Checkpoint{
		BookID:            "bk-1",
		Status:            book.StatusGenerating,
		State:             state,
		CompletedChapters: []int{1, 2},
		CompletedUnits:    map[int][]int{1: {1, 2}, 2: {1, 2}, 3: {1}},
		FailedUnits: []FailedUnit{
			{
				BookID:        "bk-1",
				Chapter:       3,
				Unit:          2,
				TargetWords:   900,
				Reason:        ReasonQuality,
				Detail:        "combined score 42.0 below 60.0",
				Scores:        &book.Scores{Consistency: 50, Supervision: 34, Combined: 42},
				RetryCount:    1,
				FirstFailedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
				LastTriedAt:   time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC),
			},
		},
	}

	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if cp.SchemaVersion != CheckpointSchemaVersion {
		t.Errorf("Save() stamped version %d, want %d", cp.SchemaVersion, CheckpointSchemaVersion)
	}
	if cp.SavedAt.IsZero() {
		t.Error("Save() should stamp SavedAt")
	}
	if !files.Exists(ctx, "checkpoints/bk-1.json") {
		t.Fatal("checkpoint file not written under checkpoints/")
	}

	got, err := mgr.Load(ctx, "bk-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(cp, got); diff != "" {
		t.Errorf("checkpoint round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckpointLoadMissing(t *testing.T) {
	mgr := NewCheckpointManager(newMemStorage(), discardLogger())
	_, err := mgr.Load(context.Background(), "bk-none")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() error = %v, want ErrNoCheckpoint", err)
	}
}

func TestCheckpointLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{this is not json"},
		{"future schema", `{"schema_version": 99, "book_id": "bk-1"}`},
		{"zero schema", `{"book_id": "bk-1"}`},
		{"missing book id", `{"schema_version": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			files := newMemStorage()
			mgr := NewCheckpointManager(files, discardLogger())
			if err := files.Save(ctx, "checkpoints/bk-1.json", []byte(tt.data)); err != nil {
				t.Fatal(err)
			}

			_, err := mgr.Load(ctx, "bk-1")
			var corrupt *CorruptCheckpointError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Load() error = %v, want CorruptCheckpointError", err)
			}
			if corrupt.Path != "checkpoints/bk-1.json" {
				t.Errorf("corrupt path = %q", corrupt.Path)
			}
		})
	}
}

func TestCheckpointSaveRequiresBookID(t *testing.T) {
	mgr := NewCheckpointManager(newMemStorage(), discardLogger())
	err := mgr.Save(context.Background(), &Checkpoint{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Save() error = %v, want ValidationError", err)
	}
}

func TestCheckpointClear(t *testing.T) {
	ctx := context.Background()
	files := newMemStorage()
	mgr := NewCheckpointManager(files, discardLogger())

	// Clearing a book with no checkpoint is a no-op.
	if err := mgr.Clear(ctx, "bk-1"); err != nil {
		t.Errorf("Clear() on missing checkpoint = %v, want nil", err)
	}

	if err := mgr.Save(ctx, &Checkpoint{BookID: "bk-1"}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Clear(ctx, "bk-1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if files.Exists(ctx, "checkpoints/bk-1.json") {
		t.Error("checkpoint file should be gone after Clear")
	}
}

func TestCheckpointListSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	files := newMemStorage()
	mgr := NewCheckpointManager(files, discardLogger())

	if err := mgr.Save(ctx, &Checkpoint{BookID: "bk-good"}); err != nil {
		t.Fatal(err)
	}
	if err := files.Save(ctx, "checkpoints/bk-bad.json", []byte("{broken")); err != nil {
		t.Fatal(err)
	}

	cps, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(cps) != 1 || cps[0].BookID != "bk-good" {
		t.Errorf("List() = %v, want just bk-good", cps)
	}
}

func TestCheckpointMarkChapter(t *testing.T) {
	cp := &Checkpoint{BookID: "bk-1"}

	cp.MarkChapter(3)
	cp.MarkChapter(1)
	cp.MarkChapter(3)

	want := []int{1, 3}
	if diff := cmp.Diff(want, cp.CompletedChapters); diff != "" {
		t.Errorf("CompletedChapters mismatch (-want +got):\n%s", diff)
	}
	if !cp.ChapterDone(1) || !cp.ChapterDone(3) {
		t.Error("marked chapters should report done")
	}
	if cp.ChapterDone(2) {
		t.Error("unmarked chapter reports done")
	}
}

func TestCheckpointMarkUnit(t *testing.T) {
	cp := &Checkpoint{BookID: "bk-1"}

	if cp.UnitDone(1, 1) {
		t.Error("empty checkpoint reports a unit done")
	}

	cp.MarkUnit(1, 2)
	cp.MarkUnit(1, 1)
	cp.MarkUnit(1, 2)
	cp.MarkUnit(2, 1)

	want := map[int][]int{1: {1, 2}, 2: {1}}
	if diff := cmp.Diff(want, cp.CompletedUnits); diff != "" {
		t.Errorf("CompletedUnits mismatch (-want +got):\n%s", diff)
	}
	if !cp.UnitDone(1, 1) || !cp.UnitDone(2, 1) {
		t.Error("marked units should report done")
	}
	if cp.UnitDone(2, 2) {
		t.Error("unmarked unit reports done")
	}
}

func TestCheckpointSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	mgr := NewCheckpointManager(newMemStorage(), discardLogger())

	cp := &Checkpoint{BookID: "bk-1", Status: book.StatusOutline}
	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	cp.Status = book.StatusGenerating
	cp.MarkChapter(1)
	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	got, err := mgr.Load(ctx, "bk-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Status != book.StatusGenerating {
		t.Errorf("status = %q, want the rewritten value", got.Status)
	}
	if !got.ChapterDone(1) {
		t.Error("rewritten checkpoint lost chapter marks")
	}

	cps, err := mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 {
		t.Errorf("List() = %d checkpoints, want 1 (overwrite, not append)", len(cps))
	}
}

// failingStorage wraps a Storage so Save can be made to fail.
type failingStorage struct {
	Storage
	saveErr error
}

func (s *failingStorage) Save(ctx context.Context, p string, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Storage.Save(ctx, p, data)
}

func TestCheckpointFailedSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	files := &failingStorage{Storage: newMemStorage()}
	mgr := NewCheckpointManager(files, discardLogger())

	cp := &Checkpoint{BookID: "bk-1", Status: book.StatusOutline}
	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	files.saveErr = errors.New("disk full")
	cp.Status = book.StatusGenerating
	cp.MarkChapter(1)
	if err := mgr.Save(ctx, cp); err == nil {
		t.Fatal("Save() with failing storage succeeded")
	}

	files.saveErr = nil
	got, err := mgr.Load(ctx, "bk-1")
	if err != nil {
		t.Fatalf("Load() after failed save: %v", err)
	}
	if got.Status != book.StatusOutline {
		t.Errorf("status = %q, want the previous checkpoint intact", got.Status)
	}
	if got.ChapterDone(1) {
		t.Error("failed save leaked chapter marks into the stored checkpoint")
	}
}

func ExampleCheckpoint_UnitDone() {
	cp := &Checkpoint{BookID: "bk-1"}
	cp.MarkUnit(4, 1)
	fmt.Println(cp.UnitDone(4, 1), cp.UnitDone(4, 2))
	// Output: true false
}
