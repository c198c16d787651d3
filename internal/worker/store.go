package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers event keys a handler has already applied.
type IdempotencyStore interface {
	// Has checks if a key (event key) exists in the store.
	Has(ctx context.Context, key string) (bool, error)
	// Set adds a key (event key) to the store.
	Set(ctx context.Context, key string) error
}

// MemoryIdempotencyStore is a bounded, expiring in-process store.
type MemoryIdempotencyStore struct {
	keys *expirable.LRU[string, struct{}]
}

// NewMemoryIdempotencyStore keeps at most size keys, each for ttl.
func NewMemoryIdempotencyStore(size int, ttl time.Duration) *MemoryIdempotencyStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryIdempotencyStore{
		keys: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (s *MemoryIdempotencyStore) Has(_ context.Context, key string) (bool, error) {
	return s.keys.Contains(key), nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string) error {
	s.keys.Add(key, struct{}{})
	return nil
}

// RedisIdempotencyStore shares keys across processes through Redis.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore stores keys as prefix+key with the given ttl.
func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "webhook:idem:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := s.client.Set(ctx, s.prefix+key, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port and pings it.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
