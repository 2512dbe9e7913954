// Package redisstore implements the key-value coordination surface of
// the worker on one shared Redis instance: cooldown keys, alert batch
// buffers with their flush guards, and daily alert stats.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/shelfjetlabs/shelfjet-worker/internal/config"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient, NewStore),
)

// NewClient opens the shared Redis connection with hardened timeouts.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		DB:              cfg.RedisDB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

const statsKeyPrefix = "shelfjet:alert:stats:"

// Store wraps the Redis client with the operations the alert engine,
// inventory state machine and health monitor coordinate through.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SetIfAbsent implements throttle.Store with atomic SET NX EX.
func (s *Store) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Exists implements throttle.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Append pushes one entry onto a batch buffer and refreshes its TTL.
func (s *Store) Append(ctx context.Context, key string, entry []byte, ttl time.Duration) error {
	if err := s.rdb.RPush(ctx, key, entry).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// AcquireGuard claims the single-flush guard for a batch buffer.
func (s *Store) AcquireGuard(ctx context.Context, guardKey string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, guardKey, "1", ttl).Result()
}

// Drain reads the whole buffer, then deletes the buffer and its guard.
// Read-then-delete matches the flush job contract: an empty result
// means a concurrent flush already ran.
func (s *Store) Drain(ctx context.Context, key, guardKey string) ([]string, error) {
	entries, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Del(ctx, key, guardKey).Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// IncrStat bumps one counter in the per-day alert stats hash.
func (s *Store) IncrStat(ctx context.Context, day time.Time, field string, n int64) error {
	key := statsKeyPrefix + day.UTC().Format("2006-01-02")
	if err := s.rdb.HIncrBy(ctx, key, field, n).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, 30*24*time.Hour).Err()
}

// StatsRange returns per-day stats hashes for the last `days` days,
// newest first, skipping days with no data.
func (s *Store) StatsRange(ctx context.Context, now time.Time, days int) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64)
	for i := 0; i < days; i++ {
		day := now.UTC().AddDate(0, 0, -i).Format("2006-01-02")
		vals, err := s.rdb.HGetAll(ctx, statsKeyPrefix+day).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		parsed := make(map[string]int64, len(vals))
		for k, v := range vals {
			var n int64
			_, _ = fmt.Sscan(v, &n)
			parsed[k] = n
		}
		out[day] = parsed
	}
	return out, nil
}
