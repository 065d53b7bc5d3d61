package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookforge/internal/agent"
	"bookforge/internal/book"
)

func newTestComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer()
	if err != nil {
		t.Fatalf("NewComposer() error = %v", err)
	}
	return c
}

func TestPremisePrompt(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Premise(book.PremiseRequest{
		Concept:     "a lighthouse keeper who hears the dead",
		Genre:       "gothic mystery",
		Themes:      []string{"grief", "isolation"},
		TargetWords: 60000,
	})
	if err != nil {
		t.Fatalf("Premise() error = %v", err)
	}
	if !req.ForceJSON {
		t.Error("premise request should force JSON")
	}
	if req.Class != agent.ClassPlanning {
		t.Errorf("Class = %q, want %q", req.Class, agent.ClassPlanning)
	}
	for _, want := range []string{"lighthouse keeper", "gothic mystery", "grief, isolation", "60000"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
}

func TestOutlinePromptListsEveryChapter(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Outline(book.OutlineRequest{
		Premise: &book.Premise{
			Title:    "The Foghorn Ledger",
			Logline:  "A keeper trades secrets with the drowned.",
			Genre:    "gothic mystery",
			Synopsis: "A keeper discovers the fog carries voices.",
		},
		Chapters: []book.ChapterPlan{
			{Number: 1, Kind: book.KindOpening, TargetWords: 3300, Units: make([]book.UnitPlan, 3)},
			{Number: 2, Kind: book.KindDevelopment, TargetWords: 3000, Units: make([]book.UnitPlan, 3)},
			{Number: 3, Kind: book.KindResolution, TargetWords: 3100, Units: make([]book.UnitPlan, 1)},
		},
	})
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	wants := []string{
		"exactly 3 chapters",
		"Chapter 1 (opening, 3300 words, 3 units)",
		"Chapter 2 (development, 3000 words, 3 units)",
		"Chapter 3 (resolution, 3100 words, 1 unit)",
		"The Foghorn Ledger",
	}
	for _, want := range wants {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
	if !req.ForceJSON {
		t.Error("outline request should force JSON")
	}
}

func TestOutlinePromptRequiresPremise(t *testing.T) {
	c := newTestComposer(t)
	if _, err := c.Outline(book.OutlineRequest{}); err == nil {
		t.Fatal("Outline() with nil premise should fail")
	}
}

func TestSectionPromptCarriesBriefAndState(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Section(book.SectionRequest{
		Chapter:        4,
		Unit:           2,
		UnitTotal:      3,
		ChapterTitle:   "Low Water",
		ChapterSummary: "Mara rows out to the wreck at low tide.",
		Kind:           book.KindDevelopment,
		Brief:          book.DevelopmentBrief{Beat: "Mara finds the locked chest", Advances: []string{"the wreck thread"}},
		TargetWords:    1200,
		StateDigest:    "Mara: at the boathouse. Tom: missing since chapter 2.",
		ResearchFacts:  []string{"spring tides expose the sandbar"},
		PriorText:      "The oars were heavier than she remembered.",
	})
	if err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	wants := []string{
		"chapter 4: Low Water",
		"section 2 of 3",
		"1200 words",
		"play out Mara finds the locked chest; advance the wreck thread",
		"Tom: missing since chapter 2",
		"spring tides expose the sandbar",
		"The oars were heavier",
	}
	for _, want := range wants {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
	if req.ForceJSON {
		t.Error("section request should not force JSON")
	}
	if req.Class != agent.ClassWriting {
		t.Errorf("Class = %q, want %q", req.Class, agent.ClassWriting)
	}
}

func TestSectionPromptTrimsPriorText(t *testing.T) {
	c := newTestComposer(t)

	var sb strings.Builder
	for i := 0; i < 600; i++ {
		fmt.Fprintf(&sb, "w%d ", i)
	}
	req, err := c.Section(book.SectionRequest{
		Chapter:      1,
		Unit:         2,
		ChapterTitle: "Ebb",
		TargetWords:  800,
		PriorText:    sb.String(),
	})
	if err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	if strings.Contains(req.Prompt, "w340 ") {
		t.Error("prompt kept prior text beyond the carry window")
	}
	if !strings.Contains(req.Prompt, "w599") {
		t.Error("prompt lost the end of the prior text")
	}
}

func TestReviewPromptForcesJSON(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Review(book.ReviewRequest{
		Chapter:        3,
		ChapterSummary: "Mara rows out to the wreck.",
		Content:        "The tide had turned before she noticed.",
	})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if !req.ForceJSON {
		t.Error("review request should force JSON")
	}
	if req.Class != agent.ClassReview {
		t.Errorf("Class = %q, want %q", req.Class, agent.ClassReview)
	}
	if !strings.Contains(req.Prompt, "The tide had turned") {
		t.Error("prompt missing section content")
	}
	if !strings.Contains(req.Prompt, "Review this section") {
		t.Error("chapter review should use the section framing")
	}
}

func TestReviewPromptWholeManuscript(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Review(book.ReviewRequest{
		Content: "# Low Water\n\nChapter text.",
	})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if !strings.Contains(req.Prompt, "Review this complete manuscript") {
		t.Error("zero chapter should review the whole manuscript")
	}
	if strings.Contains(req.Prompt, "chapter plan") {
		t.Error("manuscript review should not mention a chapter plan")
	}
}

func TestPolishPromptCarriesNotes(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Polish(book.PolishRequest{
		Content:     "It was raining.",
		Notes:       []string{"the opening line is flat"},
		TargetWords: 900,
	})
	if err != nil {
		t.Fatalf("Polish() error = %v", err)
	}
	for _, want := range []string{"the opening line is flat", "It was raining.", "900 words"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
}

func TestBriefText(t *testing.T) {
	tests := []struct {
		name  string
		brief book.Brief
		want  string
	}{
		{
			name:  "opening",
			brief: book.OpeningBrief{Hook: "a body on the rocks", Introduces: []string{"Mara", "Tom"}},
			want:  "open on a body on the rocks; introduce Mara, Tom",
		},
		{
			name:  "development",
			brief: book.DevelopmentBrief{Beat: "the chest will not open"},
			want:  "play out the chest will not open",
		},
		{
			name:  "climax",
			brief: book.ClimaxBrief{Confrontation: "Mara faces the keeper", Stakes: "the town's memory"},
			want:  "bring the confrontation to a head: Mara faces the keeper; keep the stakes in view: the town's memory",
		},
		{
			name:  "resolution",
			brief: book.ResolutionBrief{Resolves: []string{"the wreck thread"}, Denouement: "spring on the headland"},
			want:  "resolve the wreck thread; settle into spring on the headland",
		},
		{
			name:  "nil brief",
			brief: nil,
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BriefText(tt.brief); got != tt.want {
				t.Errorf("BriefText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateOverrideAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "section.tmpl")
	if err := os.WriteFile(path, []byte("CUSTOM {{.ChapterTitle}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewComposer(WithTemplateDir(dir))
	if err != nil {
		t.Fatalf("NewComposer() error = %v", err)
	}
	req, err := c.Section(book.SectionRequest{ChapterTitle: "Ebb"})
	if err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	if req.Prompt != "CUSTOM Ebb" {
		t.Errorf("override not applied, prompt = %q", req.Prompt)
	}

	// Other templates keep their defaults.
	rev, err := c.Review(book.ReviewRequest{Content: "text"})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if !strings.Contains(rev.Prompt, "Score the section") {
		t.Error("non-overridden template lost its default")
	}

	if err := os.WriteFile(path, []byte("CHANGED {{.ChapterTitle}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	req, err = c.Section(book.SectionRequest{ChapterTitle: "Ebb"})
	if err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	if req.Prompt != "CHANGED Ebb" {
		t.Errorf("reload not applied, prompt = %q", req.Prompt)
	}
}

func TestBadOverrideFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "review.tmpl"), []byte("{{.Unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewComposer(WithTemplateDir(dir)); err == nil {
		t.Fatal("NewComposer() should reject an unparsable override")
	}
}
