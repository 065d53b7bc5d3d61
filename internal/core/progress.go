package core

import (
	"context"
	"log/slog"

	"bookforge/internal/book"
)

// Progress is one pipeline status event.
type Progress struct {
	BookID          string
	Step            string
	CurrentChapter  int
	TotalChapters   int
	PercentComplete float64
	Status          book.BookStatus
	Err             error
}

// LogReporter writes progress events to structured logs.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, p Progress) {
	attrs := []any{
		"book_id", p.BookID,
		"step", p.Step,
		"status", p.Status,
	}
	if p.TotalChapters > 0 {
		attrs = append(attrs,
			"chapter", p.CurrentChapter,
			"total_chapters", p.TotalChapters,
			"percent", int(p.PercentComplete),
		)
	}
	if p.Err != nil {
		attrs = append(attrs, "error", p.Err)
		r.logger.ErrorContext(ctx, "pipeline progress", attrs...)
		return
	}
	r.logger.InfoContext(ctx, "pipeline progress", attrs...)
}

// NopReporter discards progress events.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Progress) {}
