// Package store persists estimator snapshots between runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/spread"
)

// ErrNoSnapshot is returned when nothing was saved for a strategy yet.
var ErrNoSnapshot = errors.New("store: no snapshot")

type Store interface {
	Save(ctx context.Context, strategy string, snap spread.Snapshot) error
	Load(ctx context.Context, strategy string) (spread.Snapshot, error)
}

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps one JSON snapshot per strategy under <prefix>:spread:<strategy>.
type RedisStore struct {
	client kv
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects using cfg and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.Redis) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(strategy string) string {
	return s.prefix + ":spread:" + strategy
}

func (s *RedisStore) Save(ctx context.Context, strategy string, snap spread.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(strategy), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, strategy string) (spread.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(strategy)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return spread.Snapshot{}, ErrNoSnapshot
		}
		return spread.Snapshot{}, fmt.Errorf("redis get: %w", err)
	}
	var snap spread.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return spread.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	snaps map[string]spread.Snapshot
}

func NewMemory() *Memory { return &Memory{snaps: make(map[string]spread.Snapshot)} }

func (m *Memory) Save(_ context.Context, strategy string, snap spread.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[strategy] = snap
	return nil
}

func (m *Memory) Load(_ context.Context, strategy string) (spread.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[strategy]
	if !ok {
		return spread.Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}
