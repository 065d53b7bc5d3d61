package book

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AssembleChapter joins a chapter's accepted units in unit order into the
// chapter entity. Units with no content (failed, never generated) are
// skipped; the chapter still assembles so partial books remain readable.
func AssembleChapter(plan ChapterPlan, units []GenerationUnit) Chapter {
	sorted := make([]GenerationUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Unit < sorted[j].Unit })

	var body strings.Builder
	bookID := ""
	for _, u := range sorted {
		if u.Content == "" {
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(strings.TrimSpace(u.Content))
		bookID = u.BookID
	}

	content := body.String()
	return Chapter{
		BookID:    bookID,
		Number:    plan.Number,
		Title:     plan.Title,
		Content:   content,
		WordCount: CountWords(content),
		Status:    "complete",
		UpdatedAt: time.Now().UTC(),
	}
}

// AssembleManuscript renders the whole book as markdown: title page, then
// each chapter under a numbered heading.
func AssembleManuscript(b *Book, chapters []Chapter) string {
	sorted := make([]Chapter, len(chapters))
	copy(sorted, chapters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var out strings.Builder
	out.WriteString(fmt.Sprintf("# %s\n\n", b.Title))
	if b.Premise != nil && b.Premise.Logline != "" {
		out.WriteString(fmt.Sprintf("*%s*\n\n", b.Premise.Logline))
	}
	out.WriteString("---\n\n")

	for _, ch := range sorted {
		out.WriteString(fmt.Sprintf("## Chapter %d: %s\n\n", ch.Number, ch.Title))
		out.WriteString(strings.TrimSpace(ch.Content))
		out.WriteString("\n\n")
	}
	return out.String()
}
