package book

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookStatus tracks a book through the generation pipeline.
type BookStatus string

const (
	StatusDraft         BookStatus = "draft"
	StatusPremise       BookStatus = "premise"
	StatusOutline       BookStatus = "outline"
	StatusGenerating    BookStatus = "generating"
	StatusSupervision   BookStatus = "supervision"
	StatusComplete      BookStatus = "complete"
	StatusNeedsRevision BookStatus = "needs_revision"
)

// UnitStatus tracks a single generation unit.
type UnitStatus string

const (
	UnitPlanned       UnitStatus = "planned"
	UnitGenerating    UnitStatus = "generating"
	UnitComplete      UnitStatus = "complete"
	UnitNeedsRevision UnitStatus = "needs_revision"
)

// ChapterKind marks a chapter's structural position in the book. Word
// apportionment and section briefs key off it.
type ChapterKind string

const (
	KindOpening     ChapterKind = "opening"
	KindDevelopment ChapterKind = "development"
	KindClimax      ChapterKind = "climax"
	KindResolution  ChapterKind = "resolution"
)

// Book is the top-level entity a generation run produces.
type Book struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      BookStatus `json:"status"`
	TargetWords int        `json:"target_words"`
	WordCount   int        `json:"word_count"`
	Premise     *Premise   `json:"premise,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CharacterSeed is a main character as named by the premise, before any
// narrative state exists for it.
type CharacterSeed struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// Premise is the creative seed for a book.
type Premise struct {
	Title          string          `json:"title"`
	Logline        string          `json:"logline"`
	Genre          string          `json:"genre"`
	Synopsis       string          `json:"synopsis"`
	Themes         []string        `json:"themes,omitempty"`
	MainCharacters []CharacterSeed `json:"main_characters,omitempty"`
	ResearchFacts  []string        `json:"research_facts,omitempty"`
}

// Outline is the chapter-by-chapter plan derived from a premise. Chapter
// word targets always sum to TotalTargetWords.
type Outline struct {
	BookID           string        `json:"book_id"`
	TotalTargetWords int           `json:"total_target_words"`
	Chapters         []ChapterPlan `json:"chapters"`
}

// ChapterPlan is one planned chapter: creative summary plus the computed
// word target and unit breakdown.
type ChapterPlan struct {
	Number      int         `json:"number"`
	Title       string      `json:"title"`
	Summary     string      `json:"summary"`
	Kind        ChapterKind `json:"kind"`
	TargetWords int         `json:"target_words"`
	Units       []UnitPlan  `json:"units"`
}

// UnitPlan is one planned generation unit within a chapter.
type UnitPlan struct {
	Number      int   `json:"number"`
	TargetWords int   `json:"target_words"`
	Brief       Brief `json:"-"`
}

// Chapter holds assembled chapter content after its units complete.
type Chapter struct {
	BookID    string    `json:"book_id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scores carries the per-unit quality measurements the gate decides on.
type Scores struct {
	Consistency float64 `json:"consistency"`
	Supervision float64 `json:"supervision"`
	Combined    float64 `json:"combined"`
}

// GenerationUnit is the atomic piece of generated content: one bounded
// stretch of prose inside a chapter.
type GenerationUnit struct {
	BookID      string     `json:"book_id"`
	Chapter     int        `json:"chapter"`
	Unit        int        `json:"unit"`
	TargetWords int        `json:"target_words"`
	Status      UnitStatus `json:"status"`
	Content     string     `json:"content,omitempty"`
	WordCount   int        `json:"word_count"`
	Scores      Scores     `json:"scores"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Brief is the closed set of per-unit creative instructions. Each chapter
// kind has exactly one brief shape; composers dispatch on the concrete type.
type Brief interface {
	BriefKind() ChapterKind
	isBrief()
}

// OpeningBrief directs an opening unit: establish the hook and introduce
// characters.
type OpeningBrief struct {
	Hook       string   `json:"hook"`
	Introduces []string `json:"introduces,omitempty"`
}

func (OpeningBrief) BriefKind() ChapterKind { return KindOpening }
func (OpeningBrief) isBrief()               {}

// DevelopmentBrief directs a development unit: advance a specific beat.
type DevelopmentBrief struct {
	Beat     string   `json:"beat"`
	Advances []string `json:"advances,omitempty"`
}

func (DevelopmentBrief) BriefKind() ChapterKind { return KindDevelopment }
func (DevelopmentBrief) isBrief()               {}

// ClimaxBrief directs a climax unit: the confrontation and what is at stake.
type ClimaxBrief struct {
	Confrontation string `json:"confrontation"`
	Stakes        string `json:"stakes"`
}

func (ClimaxBrief) BriefKind() ChapterKind { return KindClimax }
func (ClimaxBrief) isBrief()               {}

// ResolutionBrief directs a resolution unit: threads to resolve and the
// closing note.
type ResolutionBrief struct {
	Resolves   []string `json:"resolves,omitempty"`
	Denouement string   `json:"denouement"`
}

func (ResolutionBrief) BriefKind() ChapterKind { return KindResolution }
func (ResolutionBrief) isBrief()               {}

type unitPlanJSON struct {
	Number      int             `json:"number"`
	TargetWords int             `json:"target_words"`
	BriefKind   ChapterKind     `json:"brief_kind,omitempty"`
	Brief       json.RawMessage `json:"brief,omitempty"`
}

// MarshalJSON flattens the brief behind a kind tag so plans survive
// storage round-trips without losing the concrete brief type.
func (p UnitPlan) MarshalJSON() ([]byte, error) {
	out := unitPlanJSON{Number: p.Number, TargetWords: p.TargetWords}
	if p.Brief != nil {
		raw, err := json.Marshal(p.Brief)
		if err != nil {
			return nil, fmt.Errorf("marshal unit brief: %w", err)
		}
		out.BriefKind = p.Brief.BriefKind()
		out.Brief = raw
	}
	return json.Marshal(out)
}

func (p *UnitPlan) UnmarshalJSON(data []byte) error {
	var in unitPlanJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Number = in.Number
	p.TargetWords = in.TargetWords
	p.Brief = nil
	if len(in.Brief) == 0 {
		return nil
	}
	brief, err := DecodeBrief(in.BriefKind, in.Brief)
	if err != nil {
		return fmt.Errorf("unit %d: %w", in.Number, err)
	}
	p.Brief = brief
	return nil
}

// DecodeBrief decodes a brief of the given kind from its JSON object.
func DecodeBrief(kind ChapterKind, raw json.RawMessage) (Brief, error) {
	switch kind {
	case KindOpening:
		var b OpeningBrief
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case KindDevelopment:
		var b DevelopmentBrief
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case KindClimax:
		var b ClimaxBrief
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case KindResolution:
		var b ResolutionBrief
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown brief kind %q", kind)
	}
}

// PremiseRequest asks the content generator for a premise.
type PremiseRequest struct {
	Concept     string   `json:"concept"`
	Genre       string   `json:"genre,omitempty"`
	Themes      []string `json:"themes,omitempty"`
	TargetWords int      `json:"target_words"`
}

// OutlineRequest asks for chapter titles, summaries, and unit briefs. The
// caller supplies the computed word targets; the generator fills creative
// content only.
type OutlineRequest struct {
	BookID   string        `json:"book_id"`
	Premise  *Premise      `json:"premise"`
	Chapters []ChapterPlan `json:"chapters"`
}

// SectionRequest asks for the prose of one generation unit.
type SectionRequest struct {
	BookID         string      `json:"book_id"`
	Chapter        int         `json:"chapter"`
	Unit           int         `json:"unit"`
	UnitTotal      int         `json:"unit_total"`
	ChapterTitle   string      `json:"chapter_title"`
	ChapterSummary string      `json:"chapter_summary"`
	Kind           ChapterKind `json:"kind"`
	Brief          Brief       `json:"-"`
	TargetWords    int         `json:"target_words"`
	PriorText      string      `json:"prior_text,omitempty"`
	StateDigest    string      `json:"state_digest,omitempty"`
	ResearchFacts  []string    `json:"research_facts,omitempty"`
}

// ReviewRequest asks the supervisor for a quality score on unit content.
type ReviewRequest struct {
	BookID         string `json:"book_id"`
	Chapter        int    `json:"chapter"`
	Unit           int    `json:"unit"`
	ChapterSummary string `json:"chapter_summary,omitempty"`
	Content        string `json:"content"`
}

// ReviewResult is the supervisor's verdict on a piece of content.
type ReviewResult struct {
	Score float64  `json:"score"`
	Notes []string `json:"notes,omitempty"`
}

// PolishRequest asks for a light rewrite of already-accepted content.
type PolishRequest struct {
	Content     string   `json:"content"`
	Notes       []string `json:"notes,omitempty"`
	TargetWords int      `json:"target_words"`
}
