// Package stage implements content generation for the orchestration
// pipeline. Each operation renders its prompt, calls the model seam
// once per attempt, and turns the raw response into domain values.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bookforge/internal/agent"
	"bookforge/internal/book"
	"bookforge/internal/jsonutil"
	"bookforge/internal/prompt"
)

// Config tunes response handling.
type Config struct {
	// DecodeRetries is how many bare-JSON re-asks follow a response
	// that parses or validates as garbage.
	DecodeRetries int
}

// DefaultConfig returns the standard stage tuning.
func DefaultConfig() Config {
	return Config{DecodeRetries: 2}
}

func (c Config) withDefaults() Config {
	if c.DecodeRetries < 0 {
		c.DecodeRetries = 0
	}
	return c
}

const bareJSONReask = `Return a single bare JSON object matching the schema above. No prose, no markdown, no code fences.`

// Generator produces premises, outlines, prose, reviews, and polish
// passes through one agent.Generator. It is safe for concurrent use.
type Generator struct {
	gen      agent.Generator
	composer *prompt.Composer
	cfg      Config
	logger   *slog.Logger
}

// NewGenerator wires a stage generator over the model seam.
func NewGenerator(gen agent.Generator, composer *prompt.Composer, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		gen:      gen,
		composer: composer,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// ask runs one structured call: generate, decode, validate, and re-ask
// with a bare-JSON instruction while the response stays unusable.
// Transport errors propagate immediately; only parse and validation
// failures burn re-asks.
func ask[T any](ctx context.Context, g *Generator, name string, req agent.Request, valid func(*T) error) (*T, error) {
	reask := req
	reask.Prompt = req.Prompt + "\n\n" + bareJSONReask

	var lastErr error
	for attempt := 0; attempt <= g.cfg.DecodeRetries; attempt++ {
		r := req
		if attempt > 0 {
			r = reask
		}
		res, err := g.gen.Generate(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out := new(T)
		if lastErr = jsonutil.Decode(res.Text, out); lastErr != nil {
			continue
		}
		if valid != nil {
			if lastErr = valid(out); lastErr != nil {
				continue
			}
		}
		if attempt > 0 {
			g.logger.Debug("structured response recovered on re-ask",
				"stage", name,
				"attempt", attempt)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: unusable response after %d attempts: %w", name, g.cfg.DecodeRetries+1, lastErr)
}

// GeneratePremise turns a concept into a full premise.
func (g *Generator) GeneratePremise(ctx context.Context, req book.PremiseRequest) (*book.Premise, error) {
	areq, err := g.composer.Premise(req)
	if err != nil {
		return nil, err
	}

	premise, err := ask(ctx, g, "premise", areq, func(p *book.Premise) error {
		if strings.TrimSpace(p.Synopsis) == "" {
			return errors.New("draft has no synopsis")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	premise.Title = strings.TrimSpace(premise.Title)
	if premise.Genre == "" {
		premise.Genre = req.Genre
	}
	if len(premise.Themes) == 0 {
		premise.Themes = req.Themes
	}

	g.logger.Debug("premise drafted",
		"title", premise.Title,
		"characters", len(premise.MainCharacters))
	return premise, nil
}

// outlineDraft is the wire shape of an outline response: creative
// fields only. Numbers echo the skeleton so the merge can match them.
type outlineDraft struct {
	Chapters []chapterDraft `json:"chapters"`
}

type chapterDraft struct {
	Number  int         `json:"number"`
	Title   string      `json:"title"`
	Summary string      `json:"summary"`
	Units   []unitDraft `json:"units"`
}

type unitDraft struct {
	Number    int              `json:"number"`
	BriefKind book.ChapterKind `json:"brief_kind"`
	Brief     json.RawMessage  `json:"brief"`
}

// GenerateOutline fills titles, summaries, and unit briefs into the
// request's computed chapter skeleton. Structure is never negotiable:
// chapter numbers, kinds, word targets, and unit counts come from the
// skeleton regardless of what the draft says.
func (g *Generator) GenerateOutline(ctx context.Context, req book.OutlineRequest) (*book.Outline, error) {
	areq, err := g.composer.Outline(req)
	if err != nil {
		return nil, err
	}

	var outline *book.Outline
	_, err = ask(ctx, g, "outline", areq, func(d *outlineDraft) error {
		merged, merr := g.mergeOutline(req, d)
		if merr != nil {
			return merr
		}
		outline = merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Debug("outline drafted",
		"book_id", req.BookID,
		"chapters", len(outline.Chapters))
	return outline, nil
}

// mergeOutline lays the draft's creative fields over the computed
// skeleton. Draft chapters match by number, falling back to position
// when the draft renumbered but kept the count. A chapter the draft
// skipped or left without a summary fails the merge; a brief that will
// not decode is dropped with a warning and the unit writes undirected.
func (g *Generator) mergeOutline(req book.OutlineRequest, draft *outlineDraft) (*book.Outline, error) {
	byNumber := make(map[int]chapterDraft, len(draft.Chapters))
	for _, ch := range draft.Chapters {
		byNumber[ch.Number] = ch
	}
	positional := len(draft.Chapters) == len(req.Chapters)

	out := &book.Outline{
		BookID:   req.BookID,
		Chapters: make([]book.ChapterPlan, len(req.Chapters)),
	}
	for i, plan := range req.Chapters {
		d, ok := byNumber[plan.Number]
		if !ok {
			if !positional {
				return nil, fmt.Errorf("draft is missing chapter %d", plan.Number)
			}
			d = draft.Chapters[i]
		}

		plan.Title = strings.TrimSpace(d.Title)
		plan.Summary = strings.TrimSpace(d.Summary)
		if plan.Title == "" {
			plan.Title = fmt.Sprintf("Chapter %d", plan.Number)
		}
		if plan.Summary == "" {
			return nil, fmt.Errorf("draft chapter %d has no summary", plan.Number)
		}

		units := make([]book.UnitPlan, len(plan.Units))
		copy(units, plan.Units)
		draftUnits := make(map[int]unitDraft, len(d.Units))
		for _, u := range d.Units {
			draftUnits[u.Number] = u
		}
		for j := range units {
			ud, ok := draftUnits[units[j].Number]
			if !ok {
				if len(d.Units) != len(units) {
					continue
				}
				ud = d.Units[j]
			}
			if len(ud.Brief) == 0 {
				continue
			}
			kind := ud.BriefKind
			if kind == "" {
				kind = plan.Kind
			}
			brief, berr := book.DecodeBrief(kind, ud.Brief)
			if berr != nil {
				g.logger.Warn("dropping undecodable unit brief",
					"book_id", req.BookID,
					"chapter", plan.Number,
					"unit", units[j].Number,
					"error", berr)
				continue
			}
			units[j].Brief = brief
		}
		plan.Units = units

		out.Chapters[i] = plan
		out.TotalTargetWords += plan.TargetWords
	}
	return out, nil
}

// GenerateSection writes the prose for one unit.
func (g *Generator) GenerateSection(ctx context.Context, req book.SectionRequest) (string, error) {
	areq, err := g.composer.Section(req)
	if err != nil {
		return "", err
	}

	res, err := g.gen.Generate(ctx, areq)
	if err != nil {
		return "", fmt.Errorf("section %d.%d: %w", req.Chapter, req.Unit, err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("section %d.%d: generator returned no prose", req.Chapter, req.Unit)
	}

	g.logger.Debug("section generated",
		"book_id", req.BookID,
		"chapter", req.Chapter,
		"unit", req.Unit,
		"words", book.CountWords(text),
		"target_words", req.TargetWords)
	return text, nil
}

// ReviewContent scores a unit, or the whole manuscript when the
// request carries no chapter number. Scores clamp into [0,100] and
// blank notes are dropped; the gate never sees raw model arithmetic.
func (g *Generator) ReviewContent(ctx context.Context, req book.ReviewRequest) (*book.ReviewResult, error) {
	areq, err := g.composer.Review(req)
	if err != nil {
		return nil, err
	}

	review, err := ask[book.ReviewResult](ctx, g, "review", areq, nil)
	if err != nil {
		return nil, err
	}

	if review.Score < 0 {
		review.Score = 0
	}
	if review.Score > 100 {
		review.Score = 100
	}
	notes := review.Notes[:0]
	for _, n := range review.Notes {
		if strings.TrimSpace(n) != "" {
			notes = append(notes, n)
		}
	}
	review.Notes = notes
	return review, nil
}

// PolishContent rewrites accepted prose lightly. Failures here are the
// caller's to tolerate; this method only reports them.
func (g *Generator) PolishContent(ctx context.Context, req book.PolishRequest) (string, error) {
	areq, err := g.composer.Polish(req)
	if err != nil {
		return "", err
	}

	res, err := g.gen.Generate(ctx, areq)
	if err != nil {
		return "", fmt.Errorf("polish: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", errors.New("polish: generator returned no prose")
	}
	return text, nil
}
