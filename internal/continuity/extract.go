package continuity

import (
	"context"
	"fmt"
	"strings"

	"bookforge/internal/agent"
	"bookforge/internal/jsonutil"
)

// ExtractionError reports that structured updates could not be parsed from
// generator output for a safety-critical category, re-asks included.
type ExtractionError struct {
	Category string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed after %d attempts: %v", e.Category, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// extractOutcome tags how an extraction ended. Degraded extractions merge
// nothing and contribute no issues; only critical categories fail.
type extractOutcome int

const (
	extractOK extractOutcome = iota
	extractDegraded
	extractFailed
)

const systemContinuity = `You are a continuity editor for long-form fiction. You compare new prose against the established record and report only genuine contradictions, never stylistic opinions. When asked for JSON you return only the JSON object, nothing else.`

const bareJSONReask = `Return a single bare JSON object matching the schema above. No prose, no markdown, no code fences.`

const extractPromptTemplate = `Extract narrative updates from this new section of chapter %d.

Known story state:
%s

New section:
%s

Report only what the section explicitly establishes or changes; leave out anything unchanged.

Respond with a JSON object:
{
  "character_updates": [{"name": "...", "current_location": "", "physical_state": "", "emotional_state": "", "learned_facts": [], "relationships": {"other character": "how it stands now"}}],
  "new_plot_points": [{"description": "...", "consequences": "", "status": "introduced|developed|resolved", "affects": ["character names"]}],
  "timeline_entries": [{"marker": "e.g. the next morning", "absolute": "", "summary": ""}],
  "world_facts": [{"name": "...", "category": "place|object|rule|organization|other", "description": "..."}]
}
Use empty arrays for lists with no entries.`

const checkPromptTemplate = `Check this section for %s consistency problems.

Established state:
%s

New section (chapter %d):
%s

Look for: %s.

Respond with a JSON object:
{"issues": [{"type": "%s", "severity": "critical|major|minor", "description": "...", "suggestion": "...", "chapters": [%d]}]}
Return {"issues": []} if the section is consistent.`

// issueList is the wire shape of a category check response.
type issueList struct {
	Issues []ConsistencyIssue `json:"issues"`
}

// categoryCheck describes one independent consistency check. Checks whose
// state slice is still empty are skipped; there is nothing to contradict.
type categoryCheck struct {
	category string
	primary  IssueType
	allowed  string
	focus    string
	state    func(*NarrativeState) string
}

var categoryChecks = []categoryCheck{
	{
		category: "character",
		primary:  IssueCharacter,
		allowed:  "character|relationship",
		focus:    "characters acting against established knowledge, impossible location changes between scenes, contradicted physical or emotional states, relationship shifts with no cause on the page",
		state:    func(s *NarrativeState) string { return s.digestCharacters() },
	},
	{
		category: "timeline",
		primary:  IssueTimeline,
		allowed:  "timeline|plot",
		focus:    "time-of-day or season jumps, impossible travel times, date references that contradict earlier entries, events happening out of established order",
		state: func(s *NarrativeState) string {
			return s.digestTimeline(len(s.Timeline)) + s.digestPlot(digestPlotPoints)
		},
	},
	{
		category: "worldbuilding",
		primary:  IssueWorldbuilding,
		allowed:  "worldbuilding",
		focus:    "established places, objects, rules, or organizations described or used in ways that contradict the record",
		state:    func(s *NarrativeState) string { return s.digestWorld() },
	},
	{
		category: "research",
		primary:  IssueResearch,
		allowed:  "research",
		focus:    "claims in the prose that contradict the research facts below",
		state: func(s *NarrativeState) string {
			if len(s.ResearchFacts) == 0 {
				return ""
			}
			return "- " + strings.Join(s.ResearchFacts, "\n- ")
		},
	},
}

// extract runs the fallback ladder for one structured call: strict decode,
// lenient decode, then bare-JSON re-asks up to the configured ceiling.
// Transport errors always propagate; parse exhaustion degrades unless the
// category is safety-critical.
func extract[T any](ctx context.Context, t *Tracker, category string, req agent.Request) (*T, extractOutcome, error) {
	reask := req
	reask.Prompt = req.Prompt + "\n\n" + bareJSONReask

	var decodeErr error
	for attempt := 0; attempt <= t.cfg.ExtractRetries; attempt++ {
		r := req
		if attempt > 0 {
			r = reask
		}
		res, err := t.gen.Generate(ctx, r)
		if err != nil {
			return nil, extractFailed, fmt.Errorf("%s extraction: %w", category, err)
		}
		out := new(T)
		if decodeErr = jsonutil.Decode(res.Text, out); decodeErr == nil {
			if attempt > 0 {
				t.logger.Debug("extraction recovered on re-ask",
					"category", category,
					"attempt", attempt,
				)
			}
			return out, extractOK, nil
		}
	}

	if t.isCritical(category) {
		return nil, extractFailed, &ExtractionError{
			Category: category,
			Attempts: t.cfg.ExtractRetries + 1,
			Err:      decodeErr,
		}
	}
	t.logger.Warn("extraction degraded",
		"category", category,
		"attempts", t.cfg.ExtractRetries+1,
		"error", decodeErr,
	)
	return nil, extractDegraded, nil
}

func (t *Tracker) runCheck(ctx context.Context, chk categoryCheck, chapter int, content string) ([]ConsistencyIssue, error) {
	t.mu.RLock()
	stateText := chk.state(t.state)
	t.mu.RUnlock()
	if strings.TrimSpace(stateText) == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(checkPromptTemplate,
		chk.category, stateText, chapter, content, chk.focus, chk.allowed, chapter)
	list, outcome, err := extract[issueList](ctx, t, chk.category, agent.Request{
		Prompt:    prompt,
		System:    systemContinuity,
		Class:     agent.ClassReview,
		ForceJSON: true,
	})
	if err != nil {
		return nil, err
	}
	if outcome != extractOK {
		return nil, nil
	}
	return normalizeIssues(list.Issues, chk.primary, chapter), nil
}

// normalizeIssues drops empty issues and repairs fields the model got
// wrong: unknown types fall back to the check's primary type, unknown
// severities to minor, missing chapter lists to the current chapter.
func normalizeIssues(issues []ConsistencyIssue, primary IssueType, chapter int) []ConsistencyIssue {
	var out []ConsistencyIssue
	for _, issue := range issues {
		if strings.TrimSpace(issue.Description) == "" {
			continue
		}
		if _, ok := categoryWeights[issue.Type]; !ok {
			issue.Type = primary
		}
		switch issue.Severity {
		case SeverityCritical, SeverityMajor, SeverityMinor:
		default:
			issue.Severity = SeverityMinor
		}
		if len(issue.Chapters) == 0 {
			issue.Chapters = []int{chapter}
		}
		out = append(out, issue)
	}
	return out
}
