package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists whole transcripts, one row per (student, session).
// Transcripts are saved and loaded as a unit; there is no partial or
// streaming access.
type Store struct {
	db *sql.DB
}

// NewStore creates a transcript store using an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			student TEXT NOT NULL,
			session_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sealed INTEGER NOT NULL DEFAULT 0,
			turn_count INTEGER NOT NULL,
			turns_json TEXT NOT NULL,
			PRIMARY KEY (student, session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_transcripts_student_updated
			ON transcripts(student, updated_at DESC);
	`)
	return err
}

// Save writes the transcript, overwriting any previous version of the same
// session. The write is committed before Save returns.
func (s *Store) Save(tr *Transcript) error {
	if tr.Student == "" || tr.SessionID == "" {
		return fmt.Errorf("transcript missing student or session id")
	}

	turnsJSON, err := json.Marshal(tr.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO transcripts (student, session_id, started_at, updated_at, sealed, turn_count, turns_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student, session_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			sealed = excluded.sealed,
			turn_count = excluded.turn_count,
			turns_json = excluded.turns_json
	`, tr.Student, tr.SessionID, tr.StartedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		boolToInt(tr.Sealed), len(tr.Turns), string(turnsJSON))
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// Load retrieves one transcript. Returns an error when the row is missing
// or its serialized turns cannot be decoded; corrupt rows are not silently
// repaired, since guessing at lost turns would mask data loss.
func (s *Store) Load(student, sessionID string) (*Transcript, error) {
	row := s.db.QueryRow(`
		SELECT student, session_id, started_at, sealed, turns_json
		FROM transcripts WHERE student = ? AND session_id = ?
	`, student, sessionID)
	return scanTranscript(row)
}

// Latest returns the student's most recently updated transcript, or
// (nil, nil) when the student has no transcripts yet.
func (s *Store) Latest(student string) (*Transcript, error) {
	row := s.db.QueryRow(`
		SELECT student, session_id, started_at, sealed, turns_json
		FROM transcripts WHERE student = ?
		ORDER BY updated_at DESC, session_id DESC LIMIT 1
	`, student)
	tr, err := scanTranscript(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tr, err
}

// Meta describes a stored transcript without loading its turns.
type Meta struct {
	SessionID string
	StartedAt time.Time
	UpdatedAt time.Time
	Sealed    bool
	TurnCount int
}

// List returns metadata for a student's transcripts, newest first.
func (s *Store) List(student string, limit int) ([]Meta, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT session_id, started_at, updated_at, sealed, turn_count
		FROM transcripts WHERE student = ?
		ORDER BY updated_at DESC, session_id DESC LIMIT ?
	`, student, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var startedStr, updatedStr string
		var sealed int
		if err := rows.Scan(&m.SessionID, &startedStr, &updatedStr, &sealed, &m.TurnCount); err != nil {
			return nil, err
		}
		m.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		m.Sealed = sealed != 0
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func scanTranscript(row *sql.Row) (*Transcript, error) {
	var tr Transcript
	var startedStr, turnsJSON string
	var sealed int

	err := row.Scan(&tr.Student, &tr.SessionID, &startedStr, &sealed, &turnsJSON)
	if err != nil {
		return nil, err
	}

	tr.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	tr.Sealed = sealed != 0
	if err := json.Unmarshal([]byte(turnsJSON), &tr.Turns); err != nil {
		return nil, fmt.Errorf("decode transcript %s/%s: %w", tr.Student, tr.SessionID, err)
	}
	return &tr, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
