package accounts

import (
	"context"
	"fmt"
	"time"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/sqlinline"
)

// Postgres reads account standing and counters from the database.
type Postgres struct {
	db  infra.SQLExecutor
	now func() time.Time
}

var _ domain.AccountDirectory = (*Postgres)(nil)

// NewPostgres constructs the directory.
func NewPostgres(db infra.SQLExecutor) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// GetAccount returns the account, defaulting unknown users to an unblocked
// regular account.
func (p *Postgres) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	var (
		id      string
		blocked bool
		role    string
	)
	err := p.db.QueryRow(ctx, sqlinline.QSelectAccount, userID).Scan(&id, &blocked, &role)
	if infra.IsNoRows(err) {
		return domain.Account{UserID: userID, Role: domain.RoleUser}, nil
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("accounts: select account: %w", err)
	}
	return domain.Account{UserID: id, Blocked: blocked, Role: domain.ParseRole(role)}, nil
}

// UpsertAccount creates or updates an account.
func (p *Postgres) UpsertAccount(ctx context.Context, acct domain.Account) error {
	if _, err := p.db.Exec(ctx, sqlinline.QUpsertAccount, acct.UserID, acct.Blocked, string(acct.Role)); err != nil {
		return fmt.Errorf("accounts: upsert account: %w", err)
	}
	return nil
}

func (p *Postgres) FreeRemaining(ctx context.Context, userID, modelID string, allowance int) (int, error) {
	if allowance <= 0 {
		return 0, nil
	}
	var used int
	err := p.db.QueryRow(ctx, sqlinline.QSelectFreeUsed, userID, modelID).Scan(&used)
	if infra.IsNoRows(err) {
		return allowance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("accounts: select free usage: %w", err)
	}
	if used >= allowance {
		return 0, nil
	}
	return allowance - used, nil
}

func (p *Postgres) ConsumeFree(ctx context.Context, userID, modelID string) error {
	if _, err := p.db.Exec(ctx, sqlinline.QIncrementFreeUsed, userID, modelID); err != nil {
		return fmt.Errorf("accounts: increment free usage: %w", err)
	}
	return nil
}

func (p *Postgres) AdminSpent(ctx context.Context, userID string) (int64, error) {
	var spent int64
	err := p.db.QueryRow(ctx, sqlinline.QSelectAdminSpend, userID, PeriodKey(p.now())).Scan(&spent)
	if infra.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("accounts: select admin spend: %w", err)
	}
	return spent, nil
}

func (p *Postgres) RecordAdminSpend(ctx context.Context, userID string, amount int64) error {
	if _, err := p.db.Exec(ctx, sqlinline.QAddAdminSpend, userID, PeriodKey(p.now()), amount); err != nil {
		return fmt.Errorf("accounts: add admin spend: %w", err)
	}
	return nil
}
