// Package refstore tracks which product references already made it to the
// remote API, so repeat runs can skip work the server has already seen.
package refstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the registry of uploaded references.
type Store interface {
	IsKnown(ctx context.Context, reference string) (bool, error)
	MarkUploaded(ctx context.Context, reference string) error
	Close() error
}

// RedisStore keeps one key per reference with a TTL, so entries age out and
// products eventually get refreshed instead of skipped forever.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a reference stays skippable; zero means 7 days.
	TTL time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "catalog-sync:uploaded:",
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) IsKnown(ctx context.Context, reference string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+reference).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check reference %s: %w", reference, err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkUploaded(ctx context.Context, reference string) error {
	if err := s.client.Set(ctx, s.prefix+reference, time.Now().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark reference %s: %w", reference, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the in-process fallback when no redis is configured. It
// forgets everything at exit, which just means the next run re-checks
// existence per product.
type MemoryStore struct {
	mu   sync.RWMutex
	refs map[string]time.Time
	ttl  time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &MemoryStore{
		refs: make(map[string]time.Time),
		ttl:  ttl,
	}
}

func (s *MemoryStore) IsKnown(ctx context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, ok := s.refs[reference]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

func (s *MemoryStore) MarkUploaded(ctx context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[reference] = time.Now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
