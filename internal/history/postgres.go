package history

import (
	"context"
	"fmt"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/sqlinline"
)

// PostgresStore writes history into the generation_history table.
type PostgresStore struct {
	db infra.SQLExecutor
}

var _ domain.HistoryStore = (*PostgresStore)(nil)

func NewPostgresStore(db infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec domain.JobHistoryRecord) error {
	rec, params, urls, err := prepare(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, sqlinline.QInsertHistory,
		rec.ID, rec.UserID, rec.JobID, rec.ModelID, params,
		rec.Price, rec.Charged, rec.Free, string(rec.Outcome), urls,
		string(rec.ErrorKind), rec.ErrorMessage, rec.CreatedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.JobHistoryRecord, error) {
	rows, err := s.db.Query(ctx, sqlinline.QListHistoryByUser, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []domain.JobHistoryRecord
	for rows.Next() {
		var (
			rec           domain.JobHistoryRecord
			params, urls  []byte
			outcome, kind string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.JobID, &rec.ModelID, &params,
			&rec.Price, &rec.Charged, &rec.Free, &outcome, &urls,
			&kind, &rec.ErrorMessage, &rec.CreatedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Outcome = domain.Outcome(outcome)
		rec.ErrorKind = domain.ErrorKind(kind)
		if err := decodeJSON(params, urls, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
