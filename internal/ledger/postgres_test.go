package ledger

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genbot/internal/sqlinline"
)

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if p, ok := dest[i].(*int64); ok {
			*p = r.vals[i].(int64)
		}
	}
	return nil
}

type stubExecutor struct {
	rows    map[string]stubRow
	queries []string
}

func (s *stubExecutor) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	s.queries = append(s.queries, query)
	return s.rows[query]
}

func (s *stubExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func TestPostgresStoreSubtractInsufficient(t *testing.T) {
	db := &stubExecutor{rows: map[string]stubRow{
		sqlinline.QSubtractBalance: {err: pgx.ErrNoRows},
		sqlinline.QSelectBalance:   {vals: []any{int64(10)}},
	}}
	s := NewPostgresStore(db)

	bal, ok, err := s.Subtract(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	if ok || bal != 10 {
		t.Fatalf("expected insufficient funds with balance 10, got ok=%v bal=%d", ok, bal)
	}
	if len(db.queries) != 2 {
		t.Fatalf("expected conditional update followed by a read, got %d queries", len(db.queries))
	}
}

func TestPostgresStoreMissingUserReadsZero(t *testing.T) {
	db := &stubExecutor{rows: map[string]stubRow{
		sqlinline.QSelectBalance: {err: pgx.ErrNoRows},
	}}
	bal, err := NewPostgresStore(db).Balance(context.Background(), "nobody")
	if err != nil || bal != 0 {
		t.Fatalf("Balance = %d, %v", bal, err)
	}
}

func TestPostgresStoreSubtractSuccess(t *testing.T) {
	db := &stubExecutor{rows: map[string]stubRow{
		sqlinline.QSubtractBalance: {vals: []any{int64(70)}},
	}}
	bal, ok, err := NewPostgresStore(db).Subtract(context.Background(), "u1", 30)
	if err != nil || !ok || bal != 70 {
		t.Fatalf("Subtract = %d, %v, %v", bal, ok, err)
	}
}
