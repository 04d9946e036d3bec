package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"genbot/internal/storage"
)

const balancesKey = "balances.json"

// FileStore keeps every balance in one JSON document. It is the fallback
// for deployments without Redis and the primary in local development.
type FileStore struct {
	mu    sync.Mutex
	files *storage.FileStore
	key   string
}

var (
	_ Store  = (*FileStore)(nil)
	_ Mirror = (*FileStore)(nil)
)

// NewFileStore stores balances under dir.
func NewFileStore(dir string) (*FileStore, error) {
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &FileStore{files: files, key: balancesKey}, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return balances[userID], nil
}

func (s *FileStore) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	balances[userID] += amount
	if err := s.save(ctx, balances); err != nil {
		return 0, err
	}
	return balances[userID], nil
}

func (s *FileStore) Subtract(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, err := s.load(ctx)
	if err != nil {
		return 0, false, err
	}
	current := balances[userID]
	if current < amount {
		return current, false, nil
	}
	balances[userID] = current - amount
	if err := s.save(ctx, balances); err != nil {
		return 0, false, err
	}
	return balances[userID], true, nil
}

func (s *FileStore) Set(ctx context.Context, userID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, err := s.load(ctx)
	if err != nil {
		return err
	}
	if cur, ok := balances[userID]; ok && cur == balance {
		return nil
	}
	balances[userID] = balance
	return s.save(ctx, balances)
}

func (s *FileStore) load(ctx context.Context) (map[string]int64, error) {
	data, err := s.files.Read(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read snapshot: %w", err)
	}
	balances := map[string]int64{}
	if len(data) == 0 {
		return balances, nil
	}
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("ledger: decode snapshot: %w", err)
	}
	return balances, nil
}

func (s *FileStore) save(ctx context.Context, balances map[string]int64) error {
	data, err := json.MarshalIndent(balances, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode snapshot: %w", err)
	}
	if _, err := s.files.Write(ctx, s.key, data); err != nil {
		return fmt.Errorf("ledger: write snapshot: %w", err)
	}
	return nil
}
