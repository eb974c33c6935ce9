// Package identity manages the opaque document identity the embedded editor
// is handed: one persistent slot that survives reloads, plus the rules for
// reusing, creating, or minting ephemeral identities.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a single key-value slot: at most one identity per key.
type Store interface {
	Get(ctx context.Context) (string, error)
	Put(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// ErrEmpty is returned by Get when no identity has been stored.
var ErrEmpty = fmt.Errorf("identity slot empty")

// RedisStore keeps the identity slot in Redis so it survives restarts.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, key: key}, nil
}

func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("read identity slot: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.key, id, 0).Err(); err != nil {
		return fmt.Errorf("write identity slot: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear identity slot: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is the fallback when Redis is not configured. Identities do
// not survive a process restart.
type MemoryStore struct {
	mu    sync.Mutex
	value string
	set   bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return "", ErrEmpty
	}
	return s.value, nil
}

func (s *MemoryStore) Put(ctx context.Context, id string) error {
	s.mu.Lock()
	s.value = id
	s.set = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.value = ""
	s.set = false
	s.mu.Unlock()
	return nil
}
