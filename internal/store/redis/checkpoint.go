// Package redis persists indicator engine checkpoints to Redis so a
// restarted process resumes with warm indicator state.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"perpbot/internal/model"
)

// Checkpoints older than this are considered stale and ignored on load:
// the engine would be re-seeded from backfill anyway.
const defaultTTL = 24 * time.Hour

// Config configures the checkpoint store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Symbol   string // namespaces the checkpoint key
}

// Store is a Redis-backed model.CheckpointStore.
type Store struct {
	client *goredis.Client
	key    string
}

var _ model.CheckpointStore = (*Store)(nil)

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{
		client: client,
		key:    fmt.Sprintf("perpbot:checkpoint:%s", cfg.Symbol),
	}, nil
}

// SaveCheckpointJSON overwrites the stored checkpoint.
func (s *Store) SaveCheckpointJSON(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, defaultTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// LoadCheckpointJSON returns the stored checkpoint, or nil if none exists.
func (s *Store) LoadCheckpointJSON(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
