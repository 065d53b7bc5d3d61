// Package continuity tracks the narrative state of a book as chapters are
// generated and scores new content for consistency against that state.
package continuity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Plot point lifecycle.
const (
	PlotIntroduced = "introduced"
	PlotDeveloped  = "developed"
	PlotResolved   = "resolved"
)

// NarrativeState is the continuity document for one book. Characters and
// world facts are keyed by name; plot points and timeline entries are
// append-only. The Tracker owns the live copy; everything handed out is a
// deep copy.
type NarrativeState struct {
	BookID          string                     `json:"book_id"`
	PlannedChapters int                        `json:"planned_chapters"`
	Characters      map[string]*CharacterState `json:"characters"`
	PlotPoints      []PlotPoint                `json:"plot_points"`
	Timeline        []TimelineEntry            `json:"timeline"`
	WorldFacts      map[string]*WorldElement   `json:"world_facts"`
	ResearchFacts   []string                   `json:"research_facts,omitempty"`
	LastChapter     int                        `json:"last_chapter"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// CharacterState carries everything later chapters must stay consistent
// with. Updates overwrite only the fields a chapter explicitly reports;
// unreported fields persist.
type CharacterState struct {
	Name            string            `json:"name"`
	Role            string            `json:"role,omitempty"`
	CurrentLocation string            `json:"current_location,omitempty"`
	PhysicalState   string            `json:"physical_state,omitempty"`
	EmotionalState  string            `json:"emotional_state,omitempty"`
	Knowledge       []string          `json:"knowledge,omitempty"`
	Relationships   map[string]string `json:"relationships,omitempty"`
	FirstChapter    int               `json:"first_chapter"`
	LastSeenChapter int               `json:"last_seen_chapter"`
}

// PlotPoint records one story event. The log is append-only.
type PlotPoint struct {
	Chapter      int      `json:"chapter"`
	Description  string   `json:"description"`
	Consequences string   `json:"consequences,omitempty"`
	Status       string   `json:"status,omitempty"`
	Affects      []string `json:"affects,omitempty"`
}

// TimelineEntry records one time reference, ordered by chapter then
// insertion.
type TimelineEntry struct {
	Chapter  int    `json:"chapter"`
	Unit     int    `json:"unit,omitempty"`
	Marker   string `json:"marker"`
	Absolute string `json:"absolute,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// WorldElement is a named world-building fact and the chapters that
// referenced it.
type WorldElement struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description"`
	Chapters    []int  `json:"chapters"`
}

// NewNarrativeState returns an empty state for a book.
func NewNarrativeState(bookID string) *NarrativeState {
	return &NarrativeState{
		BookID:     bookID,
		Characters: make(map[string]*CharacterState),
		WorldFacts: make(map[string]*WorldElement),
	}
}

// CharacterUpdate is the per-character delta reported by extraction. Empty
// fields mean "unchanged", never "cleared".
type CharacterUpdate struct {
	Name            string            `json:"name"`
	CurrentLocation string            `json:"current_location,omitempty"`
	PhysicalState   string            `json:"physical_state,omitempty"`
	EmotionalState  string            `json:"emotional_state,omitempty"`
	LearnedFacts    []string          `json:"learned_facts,omitempty"`
	Relationships   map[string]string `json:"relationships,omitempty"`
}

// StateUpdate is the structured delta extracted from one generated unit.
type StateUpdate struct {
	CharacterUpdates []CharacterUpdate `json:"character_updates,omitempty"`
	NewPlotPoints    []PlotPoint       `json:"new_plot_points,omitempty"`
	TimelineEntries  []TimelineEntry   `json:"timeline_entries,omitempty"`
	WorldFacts       []WorldElement    `json:"world_facts,omitempty"`
}

// Empty reports whether the update carries nothing to merge.
func (u *StateUpdate) Empty() bool {
	if u == nil {
		return true
	}
	return len(u.CharacterUpdates) == 0 && len(u.NewPlotPoints) == 0 &&
		len(u.TimelineEntries) == 0 && len(u.WorldFacts) == 0
}

// ApplyUpdate merges a unit's extracted delta into the state. Chapter and
// unit numbers come from the orchestrator, not from the extraction, so
// chapter references stay monotonic however garbled the model output is.
func (s *NarrativeState) ApplyUpdate(u *StateUpdate, chapter, unit int) {
	if u == nil {
		return
	}
	for _, cu := range u.CharacterUpdates {
		s.applyCharacterUpdate(cu, chapter)
	}
	for _, pp := range u.NewPlotPoints {
		if strings.TrimSpace(pp.Description) == "" {
			continue
		}
		pp.Chapter = chapter
		if pp.Status == "" {
			pp.Status = PlotIntroduced
		}
		s.PlotPoints = append(s.PlotPoints, pp)
	}
	for _, te := range u.TimelineEntries {
		if strings.TrimSpace(te.Marker) == "" && strings.TrimSpace(te.Summary) == "" {
			continue
		}
		te.Chapter = chapter
		te.Unit = unit
		s.Timeline = append(s.Timeline, te)
	}
	for _, wf := range u.WorldFacts {
		s.applyWorldFact(wf, chapter)
	}
	if chapter > s.LastChapter {
		s.LastChapter = chapter
	}
	s.UpdatedAt = time.Now().UTC()
}

func (s *NarrativeState) applyCharacterUpdate(u CharacterUpdate, chapter int) {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return
	}
	ch, ok := s.Characters[name]
	if !ok {
		ch = &CharacterState{Name: name, FirstChapter: chapter}
		s.Characters[name] = ch
	}
	if u.CurrentLocation != "" {
		ch.CurrentLocation = u.CurrentLocation
	}
	if u.PhysicalState != "" {
		ch.PhysicalState = u.PhysicalState
	}
	if u.EmotionalState != "" {
		ch.EmotionalState = u.EmotionalState
	}
	for _, fact := range u.LearnedFacts {
		fact = strings.TrimSpace(fact)
		if fact == "" || containsString(ch.Knowledge, fact) {
			continue
		}
		ch.Knowledge = append(ch.Knowledge, fact)
	}
	for other, rel := range u.Relationships {
		if rel == "" {
			continue
		}
		if ch.Relationships == nil {
			ch.Relationships = make(map[string]string)
		}
		ch.Relationships[other] = rel
	}
	if chapter > ch.LastSeenChapter {
		ch.LastSeenChapter = chapter
	}
}

func (s *NarrativeState) applyWorldFact(wf WorldElement, chapter int) {
	name := strings.TrimSpace(wf.Name)
	if name == "" {
		return
	}
	existing, ok := s.WorldFacts[name]
	if !ok {
		s.WorldFacts[name] = &WorldElement{
			Name:        name,
			Category:    wf.Category,
			Description: wf.Description,
			Chapters:    []int{chapter},
		}
		return
	}
	if wf.Description != "" {
		existing.Description = wf.Description
	}
	if existing.Category == "" {
		existing.Category = wf.Category
	}
	existing.Chapters = appendChapter(existing.Chapters, chapter)
}

// Clone returns a deep copy safe to hand outside the tracker.
func (s *NarrativeState) Clone() *NarrativeState {
	if s == nil {
		return nil
	}
	out := &NarrativeState{
		BookID:          s.BookID,
		PlannedChapters: s.PlannedChapters,
		Characters:      make(map[string]*CharacterState, len(s.Characters)),
		PlotPoints:      append([]PlotPoint(nil), s.PlotPoints...),
		Timeline:        append([]TimelineEntry(nil), s.Timeline...),
		WorldFacts:      make(map[string]*WorldElement, len(s.WorldFacts)),
		ResearchFacts:   append([]string(nil), s.ResearchFacts...),
		LastChapter:     s.LastChapter,
		UpdatedAt:       s.UpdatedAt,
	}
	for name, ch := range s.Characters {
		cc := *ch
		cc.Knowledge = append([]string(nil), ch.Knowledge...)
		if ch.Relationships != nil {
			cc.Relationships = make(map[string]string, len(ch.Relationships))
			for k, v := range ch.Relationships {
				cc.Relationships[k] = v
			}
		}
		out.Characters[name] = &cc
	}
	for i := range out.PlotPoints {
		out.PlotPoints[i].Affects = append([]string(nil), out.PlotPoints[i].Affects...)
	}
	for name, wf := range s.WorldFacts {
		cw := *wf
		cw.Chapters = append([]int(nil), wf.Chapters...)
		out.WorldFacts[name] = &cw
	}
	return out
}

// Digest caps keep prompt overhead flat as the book grows.
const (
	digestPlotPoints     = 8
	digestTimelineMarks  = 5
	digestKnowledgeFacts = 6
)

// Digest renders the state as a compact plain-text summary for prompts.
func (s *NarrativeState) Digest() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	if s.PlannedChapters > 0 {
		fmt.Fprintf(&b, "Progress: chapter %d of %d.\n", s.LastChapter, s.PlannedChapters)
	}
	if cd := s.digestCharacters(); cd != "" {
		b.WriteString("Characters:\n")
		b.WriteString(cd)
	}
	if pd := s.digestPlot(digestPlotPoints); pd != "" {
		b.WriteString("Recent plot points:\n")
		b.WriteString(pd)
	}
	if td := s.digestTimeline(digestTimelineMarks); td != "" {
		b.WriteString("Timeline:\n")
		b.WriteString(td)
	}
	if wd := s.digestWorld(); wd != "" {
		b.WriteString("World:\n")
		b.WriteString(wd)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *NarrativeState) digestCharacters() string {
	if len(s.Characters) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.Characters))
	for name := range s.Characters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		ch := s.Characters[name]
		parts := []string{}
		if ch.Role != "" {
			parts = append(parts, ch.Role)
		}
		if ch.CurrentLocation != "" {
			parts = append(parts, "at "+ch.CurrentLocation)
		}
		if ch.PhysicalState != "" {
			parts = append(parts, ch.PhysicalState)
		}
		if ch.EmotionalState != "" {
			parts = append(parts, ch.EmotionalState)
		}
		if n := len(ch.Knowledge); n > 0 {
			facts := ch.Knowledge
			if n > digestKnowledgeFacts {
				facts = facts[n-digestKnowledgeFacts:]
			}
			parts = append(parts, "knows: "+strings.Join(facts, "; "))
		}
		if len(ch.Relationships) > 0 {
			rels := make([]string, 0, len(ch.Relationships))
			for other := range ch.Relationships {
				rels = append(rels, other)
			}
			sort.Strings(rels)
			for i, other := range rels {
				rels[i] = other + " (" + ch.Relationships[other] + ")"
			}
			parts = append(parts, "relationships: "+strings.Join(rels, ", "))
		}
		if ch.LastSeenChapter > 0 {
			parts = append(parts, fmt.Sprintf("last seen ch%d", ch.LastSeenChapter))
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(parts, "; "))
	}
	return b.String()
}

func (s *NarrativeState) digestPlot(max int) string {
	points := s.PlotPoints
	if len(points) == 0 {
		return ""
	}
	var b strings.Builder
	if len(points) > max {
		fmt.Fprintf(&b, "- (%d earlier plot points omitted)\n", len(points)-max)
		points = points[len(points)-max:]
	}
	for _, pp := range points {
		fmt.Fprintf(&b, "- ch%d [%s]: %s", pp.Chapter, pp.Status, pp.Description)
		if pp.Consequences != "" {
			b.WriteString(" -> " + pp.Consequences)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *NarrativeState) digestTimeline(max int) string {
	entries := s.Timeline
	if len(entries) == 0 {
		return ""
	}
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	var b strings.Builder
	for _, te := range entries {
		line := te.Marker
		if te.Absolute != "" {
			line += " (" + te.Absolute + ")"
		}
		if te.Summary != "" {
			line += ": " + te.Summary
		}
		fmt.Fprintf(&b, "- ch%d: %s\n", te.Chapter, line)
	}
	return b.String()
}

func (s *NarrativeState) digestWorld() string {
	if len(s.WorldFacts) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.WorldFacts))
	for name := range s.WorldFacts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		wf := s.WorldFacts[name]
		line := "- " + name
		if wf.Category != "" {
			line += " (" + wf.Category + ")"
		}
		if wf.Description != "" {
			line += ": " + wf.Description
		}
		fmt.Fprintf(&b, "%s [ch %s]\n", line, joinInts(wf.Chapters))
	}
	return b.String()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendChapter(chapters []int, chapter int) []int {
	for _, c := range chapters {
		if c == chapter {
			return chapters
		}
	}
	chapters = append(chapters, chapter)
	sort.Ints(chapters)
	return chapters
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}
