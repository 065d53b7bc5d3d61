package prompt

// Default templates compiled into the binary. A prompts directory can
// override any of them by name (premise.tmpl, outline.tmpl, ...).

const systemArchitect = `You are a story architect. You design book premises and chapter outlines with strong structure: clear stakes, escalating tension, and payoffs planted early. When asked for JSON you return only the JSON object, nothing else.`

const systemNovelist = `You are a working novelist. You write vivid, economical prose in close third person unless the material demands otherwise. You continue scenes seamlessly from what came before and never summarize or editorialize about your own writing.`

const systemEditor = `You are a developmental editor. You judge prose against the chapter plan it was written for and report problems plainly. When asked for JSON you return only the JSON object, nothing else.`

const premiseTemplate = `Develop a book premise from this concept.

Concept: {{.Concept}}
{{- if .Genre}}
Genre: {{.Genre}}
{{- end}}
{{- if .Themes}}
Themes: {{.Themes}}
{{- end}}
Target length: {{.TargetWords}} words.

Respond with a JSON object:
{
  "title": "...",
  "logline": "one-sentence hook",
  "genre": "...",
  "synopsis": "three to five paragraphs",
  "themes": ["..."],
  "main_characters": [{"name": "...", "role": "protagonist|antagonist|supporting", "description": "..."}],
  "research_facts": ["verifiable facts the story must respect"]
}`

const outlineTemplate = `Plan the chapters for this book.

Title: {{.Title}}
Logline: {{.Logline}}
Genre: {{.Genre}}
Synopsis:
{{.Synopsis}}

The book has exactly {{len .Chapters}} chapters. For each chapter below, supply a title, a two to four sentence summary, and one brief per unit matching the chapter's role.
{{range .Chapters}}
Chapter {{.Number}} ({{.Kind}}, {{.TargetWords}} words, {{.UnitCount}} {{if eq .UnitCount 1}}unit{{else}}units{{end}})
{{- end}}

Brief shapes by role:
- opening: {"hook": "...", "introduces": ["character names"]}
- development: {"beat": "...", "advances": ["plot threads"]}
- climax: {"confrontation": "...", "stakes": "..."}
- resolution: {"resolves": ["plot threads"], "denouement": "..."}

Respond with a JSON object:
{"chapters": [{"number": 1, "title": "...", "summary": "...", "units": [{"number": 1, "brief_kind": "opening", "brief": {...}}]}]}`

const sectionTemplate = `Write the next section of chapter {{.Chapter}}: {{.ChapterTitle}}.

Chapter summary: {{.ChapterSummary}}
{{- if gt .UnitTotal 0}}
This is section {{.Unit}} of {{.UnitTotal}}. Target length: {{.TargetWords}} words.
{{- else}}
Target length: {{.TargetWords}} words.
{{- end}}
{{- if .BriefText}}
Direction: {{.BriefText}}
{{- end}}
{{- if .StateDigest}}

Story state so far:
{{.StateDigest}}
{{- end}}
{{- if .ResearchFacts}}

Facts the prose must respect:
{{- range .ResearchFacts}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PriorText}}

The previous section ended:
...{{.PriorText}}
{{- end}}

Continue the story in prose. Return only the section text, with no headings or commentary.`

const reviewTemplate = `{{if .Whole}}Review this complete manuscript.{{else}}Review this section against its chapter plan.{{end}}
{{- if .ChapterSummary}}

Chapter summary: {{.ChapterSummary}}
{{- end}}

{{if .Whole}}Manuscript{{else}}Section{{end}}:
{{.Content}}

Score the {{if .Whole}}manuscript{{else}}section{{end}} from 0 to 100 for craft, pacing, and {{if .Whole}}overall coherence{{else}}fit to the summary{{end}}. Respond with a JSON object:
{"score": 0, "notes": ["specific, actionable notes"]}`

const polishTemplate = `Polish this section. Preserve the plot, the narrative voice, and the length (about {{.TargetWords}} words).
{{- if .Notes}}
Address these notes:
{{- range .Notes}}
- {{.}}
{{- end}}
{{- end}}

Section:
{{.Content}}

Return only the polished prose.`
