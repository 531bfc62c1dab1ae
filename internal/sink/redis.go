package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/cuongbtq/scrape-dispatcher/shared/redis"
)

// RedisStore keeps one hash per identifier, field = record id, value = raw JSON
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates the store. A zero ttl keeps hashes forever. The
// store takes ownership of client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "records"
	}

	logger.Info("Redis record sink ready",
		slog.String("prefix", prefix),
		slog.Duration("ttl", ttl),
	)

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Store writes the record field and refreshes the hash expiry
func (s *RedisStore) Store(ctx context.Context, _, identifier string, rec session.Record) error {
	key := s.key(identifier)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, rec.ID, string(rec.Data))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store record %s in redis: %w", rec.ID, err)
	}
	return nil
}

// HealthCheck pings the server
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(identifier string) string {
	return fmt.Sprintf("%s:%s", s.prefix, identifier)
}
