package accounts

import (
	"context"
	"sync"
	"time"

	"genbot/internal/domain"
)

// Memory is an in-process directory for development, the CLI and tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	freeUsed map[string]int
	spent    map[string]int64
	now      func() time.Time
}

var _ domain.AccountDirectory = (*Memory)(nil)

// NewMemory constructs an empty directory.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]domain.Account),
		freeUsed: make(map[string]int),
		spent:    make(map[string]int64),
		now:      time.Now,
	}
}

// Put stores or replaces an account.
func (m *Memory) Put(acct domain.Account) {
	m.mu.Lock()
	m.accounts[acct.UserID] = acct
	m.mu.Unlock()
}

func (m *Memory) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[userID]; ok {
		return acct, nil
	}
	return domain.Account{UserID: userID, Role: domain.RoleUser}, nil
}

func (m *Memory) FreeRemaining(_ context.Context, userID, modelID string, allowance int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := allowance - m.freeUsed[userID+"\x00"+modelID]
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (m *Memory) ConsumeFree(_ context.Context, userID, modelID string) error {
	m.mu.Lock()
	m.freeUsed[userID+"\x00"+modelID]++
	m.mu.Unlock()
	return nil
}

func (m *Memory) AdminSpent(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[userID+"\x00"+PeriodKey(m.now())], nil
}

func (m *Memory) RecordAdminSpend(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	m.spent[userID+"\x00"+PeriodKey(m.now())] += amount
	m.mu.Unlock()
	return nil
}
