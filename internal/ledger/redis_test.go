package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, "")
}

func TestRedisStoreConditionalSubtract(t *testing.T) {
	mr, s := setupRedisStore(t)
	ctx := context.Background()

	if bal, err := s.Balance(ctx, "u1"); err != nil || bal != 0 {
		t.Fatalf("missing key should read as zero: %d %v", bal, err)
	}
	if bal, err := s.Add(ctx, "u1", 100); err != nil || bal != 100 {
		t.Fatalf("Add = %d, %v", bal, err)
	}

	bal, ok, err := s.Subtract(ctx, "u1", 30)
	if err != nil || !ok || bal != 70 {
		t.Fatalf("Subtract = %d, %v, %v", bal, ok, err)
	}
	bal, ok, err = s.Subtract(ctx, "u1", 500)
	if err != nil || ok || bal != 70 {
		t.Fatalf("insufficient Subtract = %d, %v, %v", bal, ok, err)
	}

	got, err := mr.Get("genbot:balance:u1")
	if err != nil || got != "70" {
		t.Fatalf("stored value = %q, %v", got, err)
	}
}

func TestRedisStoreSet(t *testing.T) {
	_, s := setupRedisStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "u1", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if bal, _ := s.Balance(ctx, "u1"); bal != 42 {
		t.Fatalf("Balance = %d, want 42", bal)
	}
}

func TestRedisStoreErrorsWhenServerIsGone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client, "")
	mr.Close()

	if _, err := s.Balance(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error with redis down")
	}
}
