package routestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"prefix-gateway/internal/config"
)

// RedisStore reads routing entries with HGET through a pooled go-redis client.
type RedisStore struct {
	rdb     *redis.Client
	hashKey string
}

// NewRedisStore creates a RedisStore. No connection is made until first use.
func NewRedisStore(cfg config.StoreConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})
	return &RedisStore{rdb: rdb, hashKey: cfg.HashKey}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.HGet(ctx, s.hashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s %s: %w", s.hashKey, key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Backend() string {
	return config.BackendRedis
}
