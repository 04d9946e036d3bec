// Package ledger serializes balance reads and writes over a primary store
// with a fallback used only when the primary fails.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/telemetry"
)

// ErrInvalidAmount is returned for negative amounts.
var ErrInvalidAmount = errors.New("ledger: amount must not be negative")

// Store is a balance backend. Subtract is conditional: it mutates only when
// the balance covers the amount and reports ok=false otherwise.
type Store interface {
	Name() string
	Balance(ctx context.Context, userID string) (int64, error)
	Add(ctx context.Context, userID string, amount int64) (int64, error)
	Subtract(ctx context.Context, userID string, amount int64) (balance int64, ok bool, err error)
}

// Mirror is implemented by fallback stores that can be kept in step with the
// primary after each successful operation.
type Mirror interface {
	Set(ctx context.Context, userID string, balance int64) error
}

// Debit is the result of a conditional subtraction.
type Debit struct {
	OK        bool
	Balance   int64
	Shortfall int64
}

// Ledger guards every operation with one mutex so concurrent completions for
// the same user cannot lose updates.
type Ledger struct {
	mu       sync.Mutex
	primary  Store
	fallback Store
	logger   *infra.Logger
}

// New constructs a ledger. fallback may be nil.
func New(primary, fallback Store, logger *infra.Logger) *Ledger {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Ledger{primary: primary, fallback: fallback, logger: logger}
}

// GetBalance returns the user's balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal int64
	err := l.run(ctx, "get", userID, func(s Store) error {
		var err error
		bal, err = s.Balance(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return bal, nil
}

// AddBalance credits amount and returns the new balance.
func (l *Ledger) AddBalance(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal int64
	err := l.run(ctx, "add", userID, func(s Store) error {
		var err error
		bal, err = s.Add(ctx, userID, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return bal, nil
}

// SubtractBalance debits amount only if the balance covers it. Insufficient
// funds is reported through Debit.OK, not as an error.
func (l *Ledger) SubtractBalance(ctx context.Context, userID string, amount int64) (Debit, error) {
	if amount < 0 {
		return Debit{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var debit Debit
	err := l.run(ctx, "subtract", userID, func(s Store) error {
		bal, ok, err := s.Subtract(ctx, userID, amount)
		if err != nil {
			return err
		}
		debit = Debit{OK: ok, Balance: bal}
		if !ok {
			debit.Shortfall = amount - bal
		}
		return nil
	})
	if err != nil {
		return Debit{}, err
	}
	return debit, nil
}

// run executes op on the primary, then on the fallback if the primary
// fails. Must be called with l.mu held.
func (l *Ledger) run(ctx context.Context, op, userID string, fn func(Store) error) error {
	perr := fn(l.primary)
	if perr == nil {
		if op != "get" {
			l.mirror(ctx, userID)
		}
		return nil
	}
	l.logger.Warn().
		Err(perr).
		Str("op", op).
		Str("user_id", userID).
		Str("store", l.primary.Name()).
		Msg("ledger: primary store failed")

	if l.fallback == nil {
		l.logger.Error().Err(perr).Str("op", op).Str("user_id", userID).Msg("ledger: no fallback configured")
		return fmt.Errorf("%w: %s: %v", domain.ErrLedgerOffline, op, perr)
	}

	ferr := fn(l.fallback)
	if ferr != nil {
		l.logger.Error().
			Err(ferr).
			AnErr("primary_err", perr).
			Str("op", op).
			Str("user_id", userID).
			Str("store", l.fallback.Name()).
			Msg("ledger: fallback store failed")
		return fmt.Errorf("%w: %s: %v", domain.ErrLedgerOffline, op, errors.Join(perr, ferr))
	}
	telemetry.LedgerFallbacksTotal.WithLabelValues(op).Inc()
	return nil
}

// mirror copies the primary balance into the fallback so it stays usable.
func (l *Ledger) mirror(ctx context.Context, userID string) {
	m, ok := l.fallback.(Mirror)
	if !ok {
		return
	}
	bal, err := l.primary.Balance(ctx, userID)
	if err != nil {
		return
	}
	if err := m.Set(ctx, userID, bal); err != nil {
		l.logger.Debug().Err(err).Str("user_id", userID).Msg("ledger: mirror to fallback failed")
	}
}
