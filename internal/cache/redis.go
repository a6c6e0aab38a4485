// Package cache локальное хранилище снимков переписки в Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/flippy-market/internal/config"
)

// RedisStore хранилище ключ-значение с TTL поверх Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect создает клиента Redis и проверяет соединение
func Connect(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	return NewRedisStore(client, cfg.CacheTTL), nil
}

// NewRedisStore оборачивает готовый клиент
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get возвращает значение; found == false, если ключа нет
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set перезаписывает значение целиком и продлевает TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

// Close закрывает клиента
func (s *RedisStore) Close() error {
	return s.client.Close()
}
