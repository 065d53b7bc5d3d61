package continuity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bookforge/internal/agent"
	"bookforge/internal/book"
)

const extractedUpdate = `{
	"character_updates": [{"name": "Mara", "current_location": "the boathouse", "emotional_state": "uneasy"}],
	"new_plot_points": [{"description": "Tom disappears during the storm"}],
	"timeline_entries": [{"marker": "the next morning"}],
	"world_facts": [{"name": "The Foghorn", "category": "place", "description": "lighthouse on the headland"}]
}`

func newTestTracker(cfg Config, gen agent.Generator) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(gen, cfg, logger)
}

func seedTracker(t *Tracker) {
	t.Initialize("b1", []book.CharacterSeed{
		{Name: "Mara", Role: "protagonist"},
		{Name: "Tom", Role: "supporting"},
	}, &book.Outline{Chapters: make([]book.ChapterPlan, 10)}, nil)
}

func TestInitializeSeedsState(t *testing.T) {
	tr := newTestTracker(DefaultConfig(), agent.NewMockGenerator())
	tr.Initialize("b1", []book.CharacterSeed{
		{Name: "Mara", Role: "protagonist"},
		{Name: "  ", Role: "ghost"},
	}, &book.Outline{Chapters: make([]book.ChapterPlan, 12)}, []string{"fact one"})

	st := tr.Snapshot()
	if st.BookID != "b1" {
		t.Errorf("BookID = %q, want b1", st.BookID)
	}
	if len(st.Characters) != 1 {
		t.Fatalf("len(Characters) = %d, want 1 (blank names skipped)", len(st.Characters))
	}
	if st.Characters["Mara"].Role != "protagonist" {
		t.Errorf("Role = %q", st.Characters["Mara"].Role)
	}
	if st.PlannedChapters != 12 {
		t.Errorf("PlannedChapters = %d, want 12", st.PlannedChapters)
	}
	if len(st.ResearchFacts) != 1 {
		t.Errorf("ResearchFacts = %v", st.ResearchFacts)
	}

	// Re-initializing replaces prior state entirely.
	tr.Initialize("b1", nil, nil, nil)
	if st := tr.Snapshot(); len(st.Characters) != 0 || st.PlannedChapters != 0 {
		t.Errorf("Initialize did not replace state: %+v", st)
	}
}

func TestCheckUnitMergesThenChecks(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Stub("Extract narrative updates", extractedUpdate)
	gen.Stub("consistency problems", `{"issues": []}`)

	tr := newTestTracker(DefaultConfig(), gen)
	seedTracker(tr)

	report, err := tr.CheckUnit(context.Background(), 1, 1, "The storm came in off the headland.")
	if err != nil {
		t.Fatalf("CheckUnit() error = %v", err)
	}
	if report.OverallScore != 100 {
		t.Errorf("OverallScore = %v, want 100", report.OverallScore)
	}

	st := tr.Snapshot()
	if st.Characters["Mara"].CurrentLocation != "the boathouse" {
		t.Errorf("merge did not apply: %+v", st.Characters["Mara"])
	}
	if len(st.PlotPoints) != 1 || len(st.Timeline) != 1 || len(st.WorldFacts) != 1 {
		t.Errorf("merge incomplete: plot=%d timeline=%d world=%d",
			len(st.PlotPoints), len(st.Timeline), len(st.WorldFacts))
	}

	// First unit: only the character check has established state to verify
	// against. Timeline, world, and research checks are skipped.
	if got := gen.CallsMatching("character consistency"); got != 1 {
		t.Errorf("character checks = %d, want 1", got)
	}
	if got := gen.CallsMatching("timeline consistency"); got != 0 {
		t.Errorf("timeline checks = %d, want 0", got)
	}

	// Second unit: the merged timeline and world facts activate their checks.
	if _, err := tr.CheckUnit(context.Background(), 1, 2, "By morning the water had gone still."); err != nil {
		t.Fatalf("CheckUnit() error = %v", err)
	}
	if got := gen.CallsMatching("timeline consistency"); got != 1 {
		t.Errorf("timeline checks = %d, want 1", got)
	}
	if got := gen.CallsMatching("worldbuilding consistency"); got != 1 {
		t.Errorf("worldbuilding checks = %d, want 1", got)
	}
	if got := gen.CallsMatching("research consistency"); got != 0 {
		t.Errorf("research checks = %d, want 0 (no facts seeded)", got)
	}
}

func TestCheckUnitScoresReportedIssues(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Stub("Extract narrative updates", `{"character_updates": [], "new_plot_points": [], "timeline_entries": [], "world_facts": []}`)
	gen.Stub("character consistency", `{"issues": [{"type": "character", "severity": "major", "description": "Mara knows the code she never learned", "suggestion": "have Tom reveal it earlier", "chapters": [1]}]}`)
	gen.Stub("consistency problems", `{"issues": []}`)

	tr := newTestTracker(DefaultConfig(), gen)
	seedTracker(tr)

	report, err := tr.CheckUnit(context.Background(), 1, 1, "short content")
	if err != nil {
		t.Fatalf("CheckUnit() error = %v", err)
	}
	if report.OverallScore != 70 {
		t.Errorf("OverallScore = %v, want 70", report.OverallScore)
	}
	if report.CategoryScores[IssueCharacter] != 70 {
		t.Errorf("character score = %v, want 70", report.CategoryScores[IssueCharacter])
	}
	if report.CategoryScores[IssueTimeline] != 100 {
		t.Errorf("timeline score = %v, want 100", report.CategoryScores[IssueTimeline])
	}
	if len(report.Recommendations) != 1 || report.Recommendations[0] != "have Tom reveal it earlier" {
		t.Errorf("Recommendations = %v", report.Recommendations)
	}
}

func TestCheckUnitCriticalExtractionFailsHard(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Stub("Extract narrative updates", "I could not produce JSON, sorry.")

	tr := newTestTracker(Config{ExtractRetries: 2}, gen)
	seedTracker(tr)

	_, err := tr.CheckUnit(context.Background(), 1, 1, "content")
	if err == nil {
		t.Fatal("CheckUnit() should fail when critical extraction exhausts retries")
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if exErr.Category != "character" || exErr.Attempts != 3 {
		t.Errorf("ExtractionError = %+v", exErr)
	}
	if got := gen.CallsMatching("Extract narrative updates"); got != 3 {
		t.Errorf("extraction attempts = %d, want 3", got)
	}
}

func TestCheckUnitDegradedExtractionContinues(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Stub("Extract narrative updates", "still not JSON")
	gen.Stub("consistency problems", `{"issues": []}`)

	tr := newTestTracker(Config{ExtractRetries: 1, CriticalCategories: []string{}}, gen)
	seedTracker(tr)

	report, err := tr.CheckUnit(context.Background(), 1, 1, "content")
	if err != nil {
		t.Fatalf("CheckUnit() error = %v (degraded extraction must not fail)", err)
	}
	if report.OverallScore != 100 {
		t.Errorf("OverallScore = %v, want 100", report.OverallScore)
	}
	// Nothing parsed, nothing merged.
	if st := tr.Snapshot(); st.LastChapter != 0 || len(st.PlotPoints) != 0 {
		t.Errorf("degraded extraction mutated state: %+v", st)
	}
}

func TestCheckUnitRecoversOnReask(t *testing.T) {
	gen := agent.NewMockGenerator()
	// The re-ask carries the bare-JSON instruction; the first attempt does not.
	gen.Stub("Return a single bare JSON object", extractedUpdate)
	gen.Stub("Extract narrative updates", "```maybe json?```")
	gen.Stub("consistency problems", `{"issues": []}`)

	tr := newTestTracker(DefaultConfig(), gen)
	seedTracker(tr)

	if _, err := tr.CheckUnit(context.Background(), 2, 1, "content"); err != nil {
		t.Fatalf("CheckUnit() error = %v", err)
	}
	if st := tr.Snapshot(); st.Characters["Mara"].CurrentLocation != "the boathouse" {
		t.Error("re-ask result was not merged")
	}
	if got := gen.CallsMatching("Return a single bare JSON object"); got != 1 {
		t.Errorf("re-asks = %d, want 1", got)
	}
}

func TestCheckUnitRejectsEmptyContent(t *testing.T) {
	tr := newTestTracker(DefaultConfig(), agent.NewMockGenerator())
	seedTracker(tr)
	if _, err := tr.CheckUnit(context.Background(), 1, 1, "   "); err == nil {
		t.Fatal("CheckUnit() should reject empty content")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Stub("Extract narrative updates", extractedUpdate)
	gen.Stub("consistency problems", `{"issues": []}`)

	tr := newTestTracker(DefaultConfig(), gen)
	seedTracker(tr)
	if _, err := tr.CheckUnit(context.Background(), 1, 1, "content"); err != nil {
		t.Fatalf("CheckUnit() error = %v", err)
	}
	snap := tr.Snapshot()

	restored := newTestTracker(DefaultConfig(), gen)
	restored.Restore(snap)
	if diff := cmp.Diff(snap, restored.Snapshot()); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}

	// The snapshot is a copy, not a window into the tracker.
	snap.Characters["Mara"].CurrentLocation = "elsewhere"
	if tr.Snapshot().Characters["Mara"].CurrentLocation != "the boathouse" {
		t.Error("mutating a snapshot changed tracker state")
	}
}
