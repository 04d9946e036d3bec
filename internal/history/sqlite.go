package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"genbot/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generation_history (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    job_id        TEXT NOT NULL UNIQUE,
    model_id      TEXT NOT NULL,
    params        TEXT NOT NULL DEFAULT '{}',
    price         INTEGER NOT NULL,
    charged       INTEGER NOT NULL,
    free          INTEGER NOT NULL DEFAULT 0,
    outcome       TEXT NOT NULL,
    result_urls   TEXT NOT NULL DEFAULT '[]',
    error_kind    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    completed_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_history_user ON generation_history(user_id, completed_at);
`

// SQLiteStore keeps history in a local SQLite file. It is used when no
// Postgres database is configured.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the history database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append stores a record. A second record for the same job is ignored.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.JobHistoryRecord) error {
	rec, params, urls, err := prepare(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO generation_history (
			id, user_id, job_id, model_id, params,
			price, charged, free, outcome, result_urls,
			error_kind, error_message, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.JobID, rec.ModelID, string(params),
		rec.Price, rec.Charged, rec.Free, string(rec.Outcome), string(urls),
		string(rec.ErrorKind), rec.ErrorMessage,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

// ListByUser returns the user's records, most recently completed first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.JobHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, job_id, model_id, params,
		       price, charged, free, outcome, result_urls,
		       error_kind, error_message, created_at, completed_at
		FROM generation_history
		WHERE user_id = ?
		ORDER BY completed_at DESC
		LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.JobHistoryRecord
	for rows.Next() {
		var (
			rec                    domain.JobHistoryRecord
			params, urls           string
			outcome, kind          string
			createdAt, completedAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.JobID, &rec.ModelID, &params,
			&rec.Price, &rec.Charged, &rec.Free, &outcome, &urls,
			&kind, &rec.ErrorMessage, &createdAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Outcome = domain.Outcome(outcome)
		rec.ErrorKind = domain.ErrorKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			rec.CompletedAt = t
		}
		if err := decodeJSON([]byte(params), []byte(urls), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
