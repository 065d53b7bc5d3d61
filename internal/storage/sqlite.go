package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bookforge/internal/book"
)

// ErrNotFound reports that a requested row does not exist.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL,
	target_words INTEGER NOT NULL,
	word_count   INTEGER NOT NULL DEFAULT 0,
	premise      TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outlines (
	book_id TEXT PRIMARY KEY REFERENCES books(id),
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	book_id    TEXT NOT NULL REFERENCES books(id),
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	word_count INTEGER NOT NULL,
	status     TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (book_id, number)
);

CREATE TABLE IF NOT EXISTS units (
	book_id      TEXT NOT NULL REFERENCES books(id),
	chapter      INTEGER NOT NULL,
	unit         INTEGER NOT NULL,
	target_words INTEGER NOT NULL,
	status       TEXT NOT NULL,
	content      TEXT NOT NULL,
	word_count   INTEGER NOT NULL,
	consistency  REAL NOT NULL DEFAULT 0,
	supervision  REAL NOT NULL DEFAULT 0,
	combined     REAL NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (book_id, chapter, unit)
);
`

// SQLite persists books, outlines, chapters, and generation units in a
// single database file. Writes are upserts: a resumed run re-saves the
// same keys without conflict.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path, creating the file and schema
// if needed.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The driver allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) SaveBook(ctx context.Context, b *book.Book) error {
	if b.ID == "" {
		return errors.New("save book: missing id")
	}

	var premise any
	if b.Premise != nil {
		raw, err := json.Marshal(b.Premise)
		if err != nil {
			return fmt.Errorf("save book %s: encode premise: %w", b.ID, err)
		}
		premise = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, status, target_words, word_count, premise, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			target_words = excluded.target_words,
			word_count = excluded.word_count,
			premise = excluded.premise,
			updated_at = excluded.updated_at`,
		b.ID, b.Title, string(b.Status), b.TargetWords, b.WordCount, premise,
		encodeTime(b.CreatedAt), encodeTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save book %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLite) GetBook(ctx context.Context, id string) (*book.Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, target_words, word_count, premise, created_at, updated_at
		FROM books WHERE id = ?`, id)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", id, err)
	}
	return b, nil
}

func (s *SQLite) ListBooks(ctx context.Context) ([]*book.Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, target_words, word_count, premise, created_at, updated_at
		FROM books ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*book.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("list books: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s *SQLite) UpdateBookStatus(ctx context.Context, id string, status book.BookStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update book %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update book %s status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) SaveOutline(ctx context.Context, o *book.Outline) error {
	if o.BookID == "" {
		return errors.New("save outline: missing book id")
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("save outline for %s: %w", o.BookID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outlines (book_id, payload) VALUES (?, ?)
		ON CONFLICT(book_id) DO UPDATE SET payload = excluded.payload`,
		o.BookID, string(payload))
	if err != nil {
		return fmt.Errorf("save outline for %s: %w", o.BookID, err)
	}
	return nil
}

func (s *SQLite) GetOutline(ctx context.Context, bookID string) (*book.Outline, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM outlines WHERE book_id = ?`, bookID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outline for book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load outline for %s: %w", bookID, err)
	}

	var o book.Outline
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, fmt.Errorf("decode outline for %s: %w", bookID, err)
	}
	return &o, nil
}

func (s *SQLite) SaveChapter(ctx context.Context, c *book.Chapter) error {
	if c.BookID == "" {
		return errors.New("save chapter: missing book id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (book_id, number, title, content, word_count, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, number) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.BookID, c.Number, c.Title, c.Content, c.WordCount, c.Status, encodeTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save chapter %d of %s: %w", c.Number, c.BookID, err)
	}
	return nil
}

func (s *SQLite) GetChapter(ctx context.Context, bookID string, number int) (*book.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT book_id, number, title, content, word_count, status, updated_at
		FROM chapters WHERE book_id = ? AND number = ?`, bookID, number)

	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %d of book %s: %w", number, bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chapter %d of %s: %w", number, bookID, err)
	}
	return c, nil
}

func (s *SQLite) ListChapters(ctx context.Context, bookID string) ([]*book.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, number, title, content, word_count, status, updated_at
		FROM chapters WHERE book_id = ? ORDER BY number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters of %s: %w", bookID, err)
	}
	defer rows.Close()

	var chapters []*book.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("list chapters of %s: %w", bookID, err)
		}
		chapters = append(chapters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chapters of %s: %w", bookID, err)
	}
	return chapters, nil
}

func (s *SQLite) SaveUnit(ctx context.Context, u *book.GenerationUnit) error {
	if u.BookID == "" {
		return errors.New("save unit: missing book id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (book_id, chapter, unit, target_words, status, content, word_count,
			consistency, supervision, combined, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, chapter, unit) DO UPDATE SET
			target_words = excluded.target_words,
			status = excluded.status,
			content = excluded.content,
			word_count = excluded.word_count,
			consistency = excluded.consistency,
			supervision = excluded.supervision,
			combined = excluded.combined,
			updated_at = excluded.updated_at`,
		u.BookID, u.Chapter, u.Unit, u.TargetWords, string(u.Status), u.Content, u.WordCount,
		u.Scores.Consistency, u.Scores.Supervision, u.Scores.Combined,
		encodeTime(u.CreatedAt), encodeTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save unit %d.%d of %s: %w", u.Chapter, u.Unit, u.BookID, err)
	}
	return nil
}

func (s *SQLite) ListUnits(ctx context.Context, bookID string, chapter int) ([]*book.GenerationUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, chapter, unit, target_words, status, content, word_count,
			consistency, supervision, combined, created_at, updated_at
		FROM units WHERE book_id = ? AND chapter = ? ORDER BY unit`, bookID, chapter)
	if err != nil {
		return nil, fmt.Errorf("list units of %s chapter %d: %w", bookID, chapter, err)
	}
	defer rows.Close()

	var units []*book.GenerationUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("list units of %s chapter %d: %w", bookID, chapter, err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list units of %s chapter %d: %w", bookID, chapter, err)
	}
	return units, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*book.Book, error) {
	var (
		b       book.Book
		status  string
		premise sql.NullString
		created string
		updated string
	)
	if err := row.Scan(&b.ID, &b.Title, &status, &b.TargetWords, &b.WordCount, &premise, &created, &updated); err != nil {
		return nil, err
	}
	b.Status = book.BookStatus(status)
	if premise.Valid {
		var p book.Premise
		if err := json.Unmarshal([]byte(premise.String), &p); err != nil {
			return nil, fmt.Errorf("decode premise: %w", err)
		}
		b.Premise = &p
	}
	var err error
	if b.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanChapter(row rowScanner) (*book.Chapter, error) {
	var (
		c       book.Chapter
		updated string
	)
	if err := row.Scan(&c.BookID, &c.Number, &c.Title, &c.Content, &c.WordCount, &c.Status, &updated); err != nil {
		return nil, err
	}
	var err error
	if c.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanUnit(row rowScanner) (*book.GenerationUnit, error) {
	var (
		u       book.GenerationUnit
		status  string
		created string
		updated string
	)
	if err := row.Scan(&u.BookID, &u.Chapter, &u.Unit, &u.TargetWords, &status, &u.Content, &u.WordCount,
		&u.Scores.Consistency, &u.Scores.Supervision, &u.Scores.Combined, &created, &updated); err != nil {
		return nil, err
	}
	u.Status = book.UnitStatus(status)
	var err error
	if u.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}

// Times are stored as RFC 3339 text so rows stay readable in the
// sqlite shell and survive round-trips exactly.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
