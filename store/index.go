package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Index is a SQLite-backed queryable cache over session metadata and attempt
// outcomes. It is always rebuildable from the ndjson transcripts that remain
// the source of truth; losing the index file only costs query convenience,
// never data.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates a SQLite index database at path and ensures its
// schema exists.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			task_prompt TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS attempts (
			session_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			winner TEXT,
			final_answer TEXT,
			PRIMARY KEY (session_id, attempt_number)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create index schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// UpsertSession records or updates a session's task metadata.
func (idx *Index) UpsertSession(sessionID, taskPrompt, createdAt string) error {
	_, err := idx.db.Exec(
		`INSERT INTO sessions (session_id, task_prompt, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET task_prompt=excluded.task_prompt`,
		sessionID, taskPrompt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// UpsertAttempt records or updates one attempt's outcome.
func (idx *Index) UpsertAttempt(sessionID string, attemptNumber int, outcome, winner, finalAnswer string) error {
	_, err := idx.db.Exec(
		`INSERT INTO attempts (session_id, attempt_number, outcome, winner, final_answer) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, attempt_number) DO UPDATE SET
		   outcome=excluded.outcome, winner=excluded.winner, final_answer=excluded.final_answer`,
		sessionID, attemptNumber, outcome, winner, finalAnswer,
	)
	if err != nil {
		return fmt.Errorf("store: upsert attempt: %w", err)
	}
	return nil
}

// AttemptOutcome is one row read back from the attempts table.
type AttemptOutcome struct {
	AttemptNumber int
	Outcome       string
	Winner        string
	FinalAnswer   string
}

// ListAttempts returns every recorded attempt for sessionID, ordered by
// attempt number.
func (idx *Index) ListAttempts(sessionID string) ([]AttemptOutcome, error) {
	rows, err := idx.db.Query(
		`SELECT attempt_number, outcome, COALESCE(winner,''), COALESCE(final_answer,'')
		 FROM attempts WHERE session_id = ? ORDER BY attempt_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptOutcome
	for rows.Next() {
		var a AttemptOutcome
		if err := rows.Scan(&a.AttemptNumber, &a.Outcome, &a.Winner, &a.FinalAnswer); err != nil {
			return nil, fmt.Errorf("store: scan attempt row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
