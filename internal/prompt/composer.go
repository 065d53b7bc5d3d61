// Package prompt renders generation requests into model prompts. Templates
// are compiled in; a prompts directory can override them for tuning without
// a rebuild.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"bookforge/internal/agent"
	"bookforge/internal/book"
)

const (
	namePremise = "premise"
	nameOutline = "outline"
	nameSection = "section"
	nameReview  = "review"
	namePolish  = "polish"
)

// priorTextWords caps how much trailing prose from the previous unit is
// carried into a section prompt.
const priorTextWords = 250

var defaults = map[string]string{
	namePremise: premiseTemplate,
	nameOutline: outlineTemplate,
	nameSection: sectionTemplate,
	nameReview:  reviewTemplate,
	namePolish:  polishTemplate,
}

// Option configures a Composer.
type Option func(*Composer)

// WithTemplateDir points the composer at a directory whose <name>.tmpl
// files override the built-in prompts of the same name.
func WithTemplateDir(dir string) Option {
	return func(c *Composer) { c.dir = dir }
}

// Composer turns book requests into agent requests. It is safe for
// concurrent use.
type Composer struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewComposer parses the built-in templates plus any overrides and returns
// a ready composer.
func NewComposer(opts ...Option) (*Composer, error) {
	c := &Composer{}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-parses the built-in templates and any overrides on disk. It is
// safe to call while other goroutines render.
func (c *Composer) Reload() error {
	parsed := make(map[string]*template.Template, len(defaults))
	for name, text := range defaults {
		if c.dir != "" {
			path := filepath.Join(c.dir, name+".tmpl")
			raw, err := os.ReadFile(path)
			switch {
			case err == nil:
				text = string(raw)
			case !os.IsNotExist(err):
				return fmt.Errorf("read template override %s: %w", path, err)
			}
		}
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return fmt.Errorf("parse %s template: %w", name, err)
		}
		parsed[name] = tmpl
	}
	c.mu.Lock()
	c.templates = parsed
	c.mu.Unlock()
	return nil
}

func (c *Composer) render(name string, data any) (string, error) {
	c.mu.RLock()
	tmpl := c.templates[name]
	c.mu.RUnlock()
	if tmpl == nil {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

type premiseView struct {
	Concept     string
	Genre       string
	Themes      string
	TargetWords int
}

type outlineChapterView struct {
	Number      int
	Kind        book.ChapterKind
	TargetWords int
	UnitCount   int
}

type outlineView struct {
	Title    string
	Logline  string
	Genre    string
	Synopsis string
	Chapters []outlineChapterView
}

type sectionView struct {
	Chapter        int
	Unit           int
	UnitTotal      int
	ChapterTitle   string
	ChapterSummary string
	TargetWords    int
	BriefText      string
	StateDigest    string
	ResearchFacts  []string
	PriorText      string
}

type reviewView struct {
	Whole          bool
	ChapterSummary string
	Content        string
}

type polishView struct {
	TargetWords int
	Notes       []string
	Content     string
}

// Premise builds the request that turns a raw concept into a full premise.
func (c *Composer) Premise(req book.PremiseRequest) (agent.Request, error) {
	text, err := c.render(namePremise, premiseView{
		Concept:     req.Concept,
		Genre:       req.Genre,
		Themes:      strings.Join(req.Themes, ", "),
		TargetWords: req.TargetWords,
	})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{
		Prompt:    text,
		System:    systemArchitect,
		Class:     agent.ClassPlanning,
		ForceJSON: true,
	}, nil
}

// Outline builds the request that fills titles, summaries, and unit briefs
// into an already-computed chapter skeleton.
func (c *Composer) Outline(req book.OutlineRequest) (agent.Request, error) {
	if req.Premise == nil {
		return agent.Request{}, fmt.Errorf("outline prompt: premise is required")
	}
	chapters := make([]outlineChapterView, len(req.Chapters))
	for i, ch := range req.Chapters {
		chapters[i] = outlineChapterView{
			Number:      ch.Number,
			Kind:        ch.Kind,
			TargetWords: ch.TargetWords,
			UnitCount:   len(ch.Units),
		}
	}
	text, err := c.render(nameOutline, outlineView{
		Title:    req.Premise.Title,
		Logline:  req.Premise.Logline,
		Genre:    req.Premise.Genre,
		Synopsis: req.Premise.Synopsis,
		Chapters: chapters,
	})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{
		Prompt:    text,
		System:    systemArchitect,
		Class:     agent.ClassPlanning,
		ForceJSON: true,
	}, nil
}

// Section builds the prose request for one generation unit.
func (c *Composer) Section(req book.SectionRequest) (agent.Request, error) {
	text, err := c.render(nameSection, sectionView{
		Chapter:        req.Chapter,
		Unit:           req.Unit,
		UnitTotal:      req.UnitTotal,
		ChapterTitle:   req.ChapterTitle,
		ChapterSummary: req.ChapterSummary,
		TargetWords:    req.TargetWords,
		BriefText:      BriefText(req.Brief),
		StateDigest:    req.StateDigest,
		ResearchFacts:  req.ResearchFacts,
		PriorText:      tail(req.PriorText, priorTextWords),
	})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{
		Prompt: text,
		System: systemNovelist,
		Class:  agent.ClassWriting,
	}, nil
}

// Review builds the scoring request for a finished unit, or for the
// whole manuscript when the request carries no chapter number.
func (c *Composer) Review(req book.ReviewRequest) (agent.Request, error) {
	text, err := c.render(nameReview, reviewView{
		Whole:          req.Chapter == 0,
		ChapterSummary: req.ChapterSummary,
		Content:        req.Content,
	})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{
		Prompt:    text,
		System:    systemEditor,
		Class:     agent.ClassReview,
		ForceJSON: true,
	}, nil
}

// Polish builds the light-rewrite request for accepted content.
func (c *Composer) Polish(req book.PolishRequest) (agent.Request, error) {
	text, err := c.render(namePolish, polishView{
		TargetWords: req.TargetWords,
		Notes:       req.Notes,
		Content:     req.Content,
	})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{
		Prompt: text,
		System: systemNovelist,
		Class:  agent.ClassWriting,
	}, nil
}

// BriefText flattens a unit brief into one direction line for the writing
// prompt. A nil brief renders as the empty string.
func BriefText(b book.Brief) string {
	var parts []string
	switch br := b.(type) {
	case book.OpeningBrief:
		if br.Hook != "" {
			parts = append(parts, "open on "+br.Hook)
		}
		if len(br.Introduces) > 0 {
			parts = append(parts, "introduce "+strings.Join(br.Introduces, ", "))
		}
	case book.DevelopmentBrief:
		if br.Beat != "" {
			parts = append(parts, "play out "+br.Beat)
		}
		if len(br.Advances) > 0 {
			parts = append(parts, "advance "+strings.Join(br.Advances, ", "))
		}
	case book.ClimaxBrief:
		if br.Confrontation != "" {
			parts = append(parts, "bring the confrontation to a head: "+br.Confrontation)
		}
		if br.Stakes != "" {
			parts = append(parts, "keep the stakes in view: "+br.Stakes)
		}
	case book.ResolutionBrief:
		if len(br.Resolves) > 0 {
			parts = append(parts, "resolve "+strings.Join(br.Resolves, ", "))
		}
		if br.Denouement != "" {
			parts = append(parts, "settle into "+br.Denouement)
		}
	}
	return strings.Join(parts, "; ")
}

// tail returns roughly the last n words of s. Paragraph breaks are not
// preserved; the result seeds prompt continuity only.
func tail(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[len(words)-n:], " ")
}
