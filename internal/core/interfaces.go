package core

import (
	"context"

	"bookforge/internal/book"
	"bookforge/internal/continuity"
)

// Storage persists opaque blobs under slash-separated keys. The
// filesystem implementation lives in internal/storage; checkpoints,
// manuscripts, and reports all go through this.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}

// BookStore persists the structured rows of a run: books, outlines,
// chapters, and generation units.
type BookStore interface {
	SaveBook(ctx context.Context, b *book.Book) error
	GetBook(ctx context.Context, id string) (*book.Book, error)
	ListBooks(ctx context.Context) ([]*book.Book, error)
	UpdateBookStatus(ctx context.Context, id string, status book.BookStatus) error

	SaveOutline(ctx context.Context, o *book.Outline) error
	GetOutline(ctx context.Context, bookID string) (*book.Outline, error)

	SaveChapter(ctx context.Context, c *book.Chapter) error
	GetChapter(ctx context.Context, bookID string, number int) (*book.Chapter, error)
	ListChapters(ctx context.Context, bookID string) ([]*book.Chapter, error)

	SaveUnit(ctx context.Context, u *book.GenerationUnit) error
	ListUnits(ctx context.Context, bookID string, chapter int) ([]*book.GenerationUnit, error)

	Close() error
}

// ContentGenerator produces the creative artifacts of each stage. The
// stage package implements it over prompts and a model client; tests
// substitute canned fakes.
type ContentGenerator interface {
	GeneratePremise(ctx context.Context, req book.PremiseRequest) (*book.Premise, error)
	GenerateOutline(ctx context.Context, req book.OutlineRequest) (*book.Outline, error)
	GenerateSection(ctx context.Context, req book.SectionRequest) (string, error)
	ReviewContent(ctx context.Context, req book.ReviewRequest) (*book.ReviewResult, error)
	PolishContent(ctx context.Context, req book.PolishRequest) (string, error)
}

// ContinuityChecker tracks narrative state across units and scores new
// prose against it. *continuity.Tracker is the real implementation.
type ContinuityChecker interface {
	Initialize(bookID string, characters []book.CharacterSeed, outline *book.Outline, researchFacts []string)
	CheckUnit(ctx context.Context, chapter, unit int, content string) (*continuity.ConsistencyReport, error)
	Snapshot() *continuity.NarrativeState
	Restore(state *continuity.NarrativeState)
	Digest() string
}

// Reporter receives progress events as the pipeline advances. Report
// must be safe for concurrent use; the orchestrator calls it from
// worker goroutines.
type Reporter interface {
	Report(ctx context.Context, p Progress)
}
