// Package notes provides durable per-student, per-topic tutoring notes.
//
// Notes are the tutor's long-term memory: free-form text blobs the model
// reads at the start of every question and edits through tool calls. The
// topic set is configuration-defined, not fixed here.
package notes

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors callers branch on. The tool layer converts these to the
// model-facing "Error: ..." strings; nothing here reaches the student.
var (
	// ErrNotFound means no note exists for the (student, topic) pair.
	ErrNotFound = errors.New("note not found")

	// ErrEmptyEdit means an edit supplied neither excerpt.
	ErrEmptyEdit = errors.New("both old_excerpt and new_excerpt cannot be empty")

	// ErrExcerptNotFound means old_excerpt is not a verbatim substring
	// of the current note. Matching is exact: the model supplies
	// excerpts from memory of prior reads, and fuzzy matching could
	// mangle text the model never intended to touch.
	ErrExcerptNotFound = errors.New("excerpt not found in current notes")
)

// Store manages note persistence. Every successful write is committed
// before the call returns; there is no write-behind buffering.
type Store struct {
	db *sql.DB
}

// NewStore creates a note store using an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			student TEXT NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (student, topic)
		);
	`)
	return err
}

// Read returns the stored note text. Returns ErrNotFound (wrapped) when
// the note does not exist.
func (s *Store) Read(student, topic string) (string, error) {
	var content string
	err := s.db.QueryRow(`
		SELECT content FROM notes WHERE student = ? AND topic = ?
	`, student, topic).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s/%s: %w", student, topic, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}
	return content, nil
}

// Write stores the full note text, overwriting any previous content.
// Only student enrollment uses this; conversational mutation goes through
// Edit so the model can never silently clobber a whole note.
func (s *Store) Write(student, topic, text string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO notes (student, topic, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(student, topic) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, student, topic, text, now, now)
	if err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

// CreateIfMissing writes the note only when no note exists yet. Returns
// true when a new note was created. Re-enrolling a student therefore never
// overwrites notes the tutor has since edited.
func (s *Store) CreateIfMissing(student, topic, text string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO notes (student, topic, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, student, topic, text, now, now)
	if err != nil {
		return false, fmt.Errorf("create note: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Edit mutates a note by excerpt and returns the full new text so the
// caller (ultimately the model) can verify the edit took effect.
//
//   - both excerpts empty: ErrEmptyEdit, no mutation.
//   - oldExcerpt empty: newExcerpt is appended after a newline.
//   - oldExcerpt absent from the note: ErrExcerptNotFound, no mutation.
//   - oldExcerpt present: every occurrence is replaced by newExcerpt
//     (an empty newExcerpt deletes the excerpt).
func (s *Store) Edit(student, topic, oldExcerpt, newExcerpt string) (string, error) {
	if oldExcerpt == "" && newExcerpt == "" {
		return "", ErrEmptyEdit
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin edit: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`
		SELECT content FROM notes WHERE student = ? AND topic = ?
	`, student, topic).Scan(&current)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s/%s: %w", student, topic, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}

	var updated string
	if oldExcerpt == "" {
		updated = current + "\n" + newExcerpt
	} else {
		if !strings.Contains(current, oldExcerpt) {
			return "", ErrExcerptNotFound
		}
		updated = strings.ReplaceAll(current, oldExcerpt, newExcerpt)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		UPDATE notes SET content = ?, updated_at = ? WHERE student = ? AND topic = ?
	`, updated, now, student, topic); err != nil {
		return "", fmt.Errorf("update note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit edit: %w", err)
	}
	return updated, nil
}

// Topics returns the topics for which the student has notes, sorted.
func (s *Store) Topics(student string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT topic FROM notes WHERE student = ? ORDER BY topic
	`, student)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
