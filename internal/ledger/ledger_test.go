package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"genbot/internal/domain"
)

// memStore is a Store whose operations can be forced to fail.
type memStore struct {
	mu       sync.Mutex
	name     string
	balances map[string]int64
	fail     atomic.Bool
	calls    atomic.Int64
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, balances: map[string]int64{}}
}

var errDown = errors.New("store down")

func (m *memStore) Name() string { return m.name }

func (m *memStore) Balance(_ context.Context, userID string) (int64, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return 0, errDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memStore) Add(_ context.Context, userID string, amount int64) (int64, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return 0, errDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

// Subtract deliberately splits the read and the write so that only the
// ledger's lock keeps concurrent debits correct.
func (m *memStore) Subtract(_ context.Context, userID string, amount int64) (int64, bool, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return 0, false, errDown
	}
	m.mu.Lock()
	current := m.balances[userID]
	m.mu.Unlock()
	if current < amount {
		return current, false, nil
	}
	m.mu.Lock()
	m.balances[userID] = current - amount
	m.mu.Unlock()
	return current - amount, true, nil
}

func (m *memStore) Set(_ context.Context, userID string, balance int64) error {
	if m.fail.Load() {
		return errDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
	return nil
}

func TestSubtractBalanceIsConditional(t *testing.T) {
	ctx := context.Background()
	l := New(newMemStore("primary"), nil, nil)
	if _, err := l.AddBalance(ctx, "u1", 10); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	debit, err := l.SubtractBalance(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("SubtractBalance: %v", err)
	}
	if debit.OK || debit.Balance != 10 || debit.Shortfall != 20 {
		t.Fatalf("unexpected debit %+v", debit)
	}
	if bal, _ := l.GetBalance(ctx, "u1"); bal != 10 {
		t.Fatalf("balance changed on insufficient funds: %d", bal)
	}

	debit, err = l.SubtractBalance(ctx, "u1", 10)
	if err != nil || !debit.OK || debit.Balance != 0 {
		t.Fatalf("expected exact debit to succeed: %+v %v", debit, err)
	}
}

func TestConcurrentSubtractsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := New(newMemStore("primary"), nil, nil)
	if _, err := l.AddBalance(ctx, "u1", 100); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	var ok atomic.Int64
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			debit, err := l.SubtractBalance(ctx, "u1", 7)
			if err != nil {
				return err
			}
			if debit.OK {
				ok.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("subtract: %v", err)
	}

	bal, err := l.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if ok.Load() != 14 || bal != 2 {
		t.Fatalf("expected 14 debits leaving 2, got %d debits leaving %d", ok.Load(), bal)
	}
}

func TestFallbackServesWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := newMemStore("primary")
	fallback := newMemStore("fallback")
	l := New(primary, fallback, nil)

	if _, err := l.AddBalance(ctx, "u1", 50); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if fallback.balances["u1"] != 50 {
		t.Fatalf("expected fallback to mirror the primary, got %d", fallback.balances["u1"])
	}

	primary.fail.Store(true)
	debit, err := l.SubtractBalance(ctx, "u1", 20)
	if err != nil {
		t.Fatalf("SubtractBalance: %v", err)
	}
	if !debit.OK || debit.Balance != 30 {
		t.Fatalf("unexpected fallback debit %+v", debit)
	}
	if bal, err := l.GetBalance(ctx, "u1"); err != nil || bal != 30 {
		t.Fatalf("GetBalance = %d, %v", bal, err)
	}
}

func TestBothStoresFailingFailsClosed(t *testing.T) {
	ctx := context.Background()
	primary := newMemStore("primary")
	fallback := newMemStore("fallback")
	primary.fail.Store(true)
	fallback.fail.Store(true)
	l := New(primary, fallback, nil)

	_, err := l.SubtractBalance(ctx, "u1", 1)
	if !errors.Is(err, domain.ErrLedgerOffline) {
		t.Fatalf("expected ErrLedgerOffline, got %v", err)
	}
	if _, err := l.GetBalance(ctx, "u1"); !errors.Is(err, domain.ErrLedgerOffline) {
		t.Fatalf("expected ErrLedgerOffline, got %v", err)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	l := New(newMemStore("primary"), nil, nil)
	if _, err := l.AddBalance(context.Background(), "u1", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.SubtractBalance(context.Background(), "u1", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
