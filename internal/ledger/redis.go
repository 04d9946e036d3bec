package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// subtractScript decrements only when the stored balance covers the amount.
// Returns {ok, balance}.
var subtractScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
  return {0, balance}
end
local remaining = redis.call('DECRBY', KEYS[1], amount)
return {1, remaining}
`)

// RedisStore keeps balances as integer keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Mirror = (*RedisStore)(nil)
)

// NewRedisStore wraps an existing client. prefix defaults to "genbot:balance:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "genbot:balance:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis parses url and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: connect redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

func (s *RedisStore) Balance(ctx context.Context, userID string) (int64, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: redis get: %w", err)
	}
	bal, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: redis balance %q: %w", raw, err)
	}
	return bal, nil
}

func (s *RedisStore) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	bal, err := s.client.IncrBy(ctx, s.key(userID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("ledger: redis incrby: %w", err)
	}
	return bal, nil
}

func (s *RedisStore) Subtract(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	vals, err := subtractScript.Run(ctx, s.client, []string{s.key(userID)}, amount).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("ledger: redis subtract: %w", err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("ledger: redis subtract: unexpected reply %v", vals)
	}
	return vals[1], vals[0] == 1, nil
}

func (s *RedisStore) Set(ctx context.Context, userID string, balance int64) error {
	if err := s.client.Set(ctx, s.key(userID), balance, 0).Err(); err != nil {
		return fmt.Errorf("ledger: redis set: %w", err)
	}
	return nil
}
