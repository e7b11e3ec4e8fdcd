package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.FallbackStore = (*redisFallbackStore)(nil)

type redisFallbackStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisFallbackStore хранит локальные снимки черновиков в Redis.
// Ключи получают префикс prefix; ttl <= 0 означает хранение без срока.
func NewRedisFallbackStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) interfaces.FallbackStore {
	return &redisFallbackStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("RedisFallbackStore"),
	}
}

func (s *redisFallbackStore) key(k string) string {
	return s.prefix + k
}

func (s *redisFallbackStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", models.ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to read fallback key", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to read %q from redis: %w", key, err)
	}
	return val, nil
}

func (s *redisFallbackStore) Set(ctx context.Context, key, value string) error {
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		s.logger.Error("Failed to write fallback key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write %q to redis: %w", key, err)
	}
	return nil
}

func (s *redisFallbackStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		s.logger.Error("Failed to remove fallback keys", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("failed to remove keys from redis: %w", err)
	}
	return nil
}
