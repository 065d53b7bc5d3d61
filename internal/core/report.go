package core

import (
	"fmt"
	"time"
)

// ManuscriptKey is the storage key for a book's assembled manuscript.
func ManuscriptKey(bookID string) string {
	return fmt.Sprintf("books/%s/manuscript.md", bookID)
}

// ReportKey is the storage key for a book's final run report.
func ReportKey(bookID string) string {
	return fmt.Sprintf("books/%s/report.json", bookID)
}

// ChapterReport summarizes one chapter for the final report.
type ChapterReport struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	TargetWords int     `json:"target_words"`
	ActualWords int     `json:"actual_words"`
	Consistency float64 `json:"consistency"`
	Supervision float64 `json:"supervision"`
}

// FinalReport is written next to the manuscript at the end of every
// run, successful or not. Terminal failed units appear here so a
// needs-revision book explains itself.
type FinalReport struct {
	BookID        string          `json:"book_id"`
	Title         string          `json:"title"`
	Status        string          `json:"status"`
	TargetWords   int             `json:"target_words"`
	ActualWords   int             `json:"actual_words"`
	FinalScore    float64         `json:"final_score"`
	ChapterScores []ChapterReport `json:"chapter_scores"`
	FailedUnits   []FailedUnit    `json:"failed_units,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Duration      string          `json:"duration"`
}
