package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key so multiple portal deployments can
	// share a Redis instance without colliding.
	Namespace string
}

// RedisStore is a Store implementation backed by Redis. Values are stored
// without a Redis-side TTL; expiry is the cache layer's concern.
type RedisStore struct {
	redisClient *redis.Client
	namespace   string
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		namespace:   cfg.Namespace,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Get retrieves the value for a key, mapping redis.Nil to ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.redisClient.Get(ctx, s.namespace+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return "", fmt.Errorf("redis get for %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value for a key.
func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := s.redisClient.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set key in Redis.")
		return fmt.Errorf("redis set for %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("redis del for %s: %w", key, err)
	}
	return nil
}

// Keys scans for every stored key that begins with prefix.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.redisClient.Scan(ctx, 0, s.namespace+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.namespace):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan for prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
