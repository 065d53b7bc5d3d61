package book

import "testing"

func TestChapterKindFor(t *testing.T) {
	cases := []struct {
		number, total int
		want          ChapterKind
	}{
		{1, 10, KindOpening},
		{2, 10, KindDevelopment},
		{7, 10, KindDevelopment},
		{8, 10, KindClimax},
		{9, 10, KindClimax},
		{10, 10, KindResolution},
		{1, 3, KindOpening},
		{2, 3, KindDevelopment},
		{3, 3, KindResolution},
		{1, 2, KindDevelopment},
		{1, 1, KindDevelopment},
	}
	for _, tc := range cases {
		if got := ChapterKindFor(tc.number, tc.total); got != tc.want {
			t.Errorf("ChapterKindFor(%d, %d) = %s, want %s", tc.number, tc.total, got, tc.want)
		}
	}
}

func TestApportionWordsExactSum(t *testing.T) {
	targets, err := ApportionWords(60000, 10)
	if err != nil {
		t.Fatalf("ApportionWords failed: %v", err)
	}
	if len(targets) != 10 {
		t.Fatalf("expected 10 targets, got %d", len(targets))
	}

	sum := 0
	for _, w := range targets {
		sum += w
	}
	if sum != 60000 {
		t.Errorf("targets sum to %d, want exactly 60000", sum)
	}

	// Positional boosts: climax chapters (8, 9) get the most, then the
	// opening, then the resolution, then plain development chapters.
	development := targets[1]
	if targets[7] <= targets[0] || targets[8] <= targets[0] {
		t.Errorf("climax chapters %d/%d should exceed opening %d", targets[7], targets[8], targets[0])
	}
	if targets[0] <= targets[9] {
		t.Errorf("opening %d should exceed resolution %d", targets[0], targets[9])
	}
	if targets[9] <= development {
		t.Errorf("resolution %d should exceed development %d", targets[9], development)
	}
}

func TestApportionWordsFlatForShortBooks(t *testing.T) {
	targets, err := ApportionWords(10001, 2)
	if err != nil {
		t.Fatalf("ApportionWords failed: %v", err)
	}
	sum := 0
	for _, w := range targets {
		sum += w
	}
	if sum != 10001 {
		t.Errorf("targets sum to %d, want 10001", sum)
	}
	diff := targets[0] - targets[1]
	if diff < -1 || diff > 1 {
		t.Errorf("flat apportionment should split evenly, got %v", targets)
	}
}

func TestApportionWordsRejectsBadInput(t *testing.T) {
	if _, err := ApportionWords(1000, 0); err == nil {
		t.Error("expected error for zero chapters")
	}
	if _, err := ApportionWords(3, 10); err == nil {
		t.Error("expected error when words cannot cover chapters")
	}
}

func TestPlanUnitsWithinBounds(t *testing.T) {
	sizing := DefaultUnitSizing()
	targets, err := ApportionWords(60000, 10)
	if err != nil {
		t.Fatalf("ApportionWords failed: %v", err)
	}

	for i, target := range targets {
		units, err := PlanUnits(target, sizing)
		if err != nil {
			t.Fatalf("PlanUnits(chapter %d) failed: %v", i+1, err)
		}
		if len(units) < sizing.MinUnitsPerChapter || len(units) > sizing.MaxUnitsPerChapter {
			t.Errorf("chapter %d: unit count %d outside [%d, %d]",
				i+1, len(units), sizing.MinUnitsPerChapter, sizing.MaxUnitsPerChapter)
		}
		sum := 0
		for _, u := range units {
			sum += u.TargetWords
			if u.TargetWords < sizing.MinUnitWords || u.TargetWords > sizing.MaxUnitWords {
				t.Errorf("chapter %d unit %d: %d words outside band [%d, %d]",
					i+1, u.Number, u.TargetWords, sizing.MinUnitWords, sizing.MaxUnitWords)
			}
		}
		if sum != target {
			t.Errorf("chapter %d: unit words sum to %d, want %d", i+1, sum, target)
		}
	}
}

func TestPlanUnitsCountFollowsIdealLength(t *testing.T) {
	sizing := DefaultUnitSizing()

	units, err := PlanUnits(3000, sizing)
	if err != nil {
		t.Fatalf("PlanUnits failed: %v", err)
	}
	if len(units) != 3 {
		t.Errorf("3000 words at ideal 1000 should plan 3 units, got %d", len(units))
	}

	units, err = PlanUnits(500, sizing)
	if err != nil {
		t.Fatalf("PlanUnits failed: %v", err)
	}
	if len(units) != 1 {
		t.Errorf("500 words should plan 1 unit, got %d", len(units))
	}

	// Count clamp wins over the per-unit band when they conflict.
	units, err = PlanUnits(12000, sizing)
	if err != nil {
		t.Fatalf("PlanUnits failed: %v", err)
	}
	if len(units) != sizing.MaxUnitsPerChapter {
		t.Errorf("oversized chapter should clamp to %d units, got %d", sizing.MaxUnitsPerChapter, len(units))
	}
}

func TestPlanUnitsRejectsBadInput(t *testing.T) {
	if _, err := PlanUnits(0, DefaultUnitSizing()); err == nil {
		t.Error("expected error for zero chapter target")
	}
	if _, err := PlanUnits(1000, UnitSizing{}); err == nil {
		t.Error("expected error for zero ideal unit words")
	}
}

func TestOptimalChapterCount(t *testing.T) {
	if got := OptimalChapterCount(60000, 3000); got != 20 {
		t.Errorf("expected 20 chapters, got %d", got)
	}
	if got := OptimalChapterCount(6000, 3000); got != 5 {
		t.Errorf("expected minimum of 5 chapters, got %d", got)
	}
	if got := OptimalChapterCount(500000, 3000); got != 30 {
		t.Errorf("expected maximum of 30 chapters, got %d", got)
	}
}

func TestCountWords(t *testing.T) {
	if got := CountWords("the quick  brown\nfox"); got != 4 {
		t.Errorf("CountWords = %d, want 4", got)
	}
	if got := CountWords("   "); got != 0 {
		t.Errorf("CountWords of whitespace = %d, want 0", got)
	}
}
