package ledger

import (
	"context"
	"fmt"

	"genbot/internal/infra"
	"genbot/internal/sqlinline"
)

// PostgresStore keeps balances in the balances table.
type PostgresStore struct {
	db infra.SQLExecutor
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store over a marker-aware executor.
func NewPostgresStore(db infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := s.db.QueryRow(ctx, sqlinline.QSelectBalance, userID).Scan(&bal)
	if infra.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: select balance: %w", err)
	}
	return bal, nil
}

func (s *PostgresStore) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	var bal int64
	if err := s.db.QueryRow(ctx, sqlinline.QAddBalance, userID, amount).Scan(&bal); err != nil {
		return 0, fmt.Errorf("ledger: add balance: %w", err)
	}
	return bal, nil
}

func (s *PostgresStore) Subtract(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	var bal int64
	err := s.db.QueryRow(ctx, sqlinline.QSubtractBalance, userID, amount).Scan(&bal)
	if infra.IsNoRows(err) {
		current, err := s.Balance(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ledger: subtract balance: %w", err)
	}
	return bal, true, nil
}
