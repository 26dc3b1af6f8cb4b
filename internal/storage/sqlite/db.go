package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"waorganizer/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type RunRecord = domain.RunRecord

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		session_id         TEXT DEFAULT '',
		run_trigger        TEXT NOT NULL,
		status             TEXT NOT NULL,
		signature          TEXT DEFAULT '',
		input_chars        INTEGER NOT NULL DEFAULT 0,
		estimated_messages INTEGER NOT NULL DEFAULT 0,
		summary            TEXT DEFAULT '',
		error              TEXT DEFAULT '',
		llm_provider       TEXT DEFAULT '',
		llm_model          TEXT DEFAULT '',
		created_at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// GetSetting returns the stored value and whether the key exists.
func GetSetting(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func SetSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func InsertRun(db *sql.DB, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO runs (id, session_id, run_trigger, status, signature, input_chars, estimated_messages, summary, error, llm_provider, llm_model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.Trigger), rec.Status, rec.Signature, rec.InputChars,
		rec.EstimatedMessages, rec.Summary, rec.Error, rec.Provider, rec.Model, rec.CreatedAt,
	)
	return err
}

func ListRecentRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT id, session_id, run_trigger, status, signature, input_chars, estimated_messages, summary, error, llm_provider, llm_model, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var trigger string
		err := rows.Scan(
			&rec.ID, &rec.SessionID, &trigger, &rec.Status, &rec.Signature, &rec.InputChars,
			&rec.EstimatedMessages, &rec.Summary, &rec.Error, &rec.Provider, &rec.Model, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Trigger = domain.Trigger(trigger)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// PruneRunsBefore deletes history older than cutoff and returns the number
// of removed rows.
func PruneRunsBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
