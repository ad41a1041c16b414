package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/relaybot/relaybot/internal/config"
)

const defaultRedisPrefix = "relaybot"

// RedisStore keeps each namespace in one redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix), nil
}

func (s *RedisStore) LoadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("store is not initialized")
	}
	if err := validNamespace(namespace); err != nil {
		return nil, err
	}

	values, err := s.client.HGetAll(ctx, s.key(namespace)).Result()
	if err != nil {
		return map[string][]byte{}, fmt.Errorf("load %s: %w", namespace, err)
	}

	entries := make(map[string][]byte, len(values))
	for key, value := range values {
		entries[key] = []byte(value)
	}
	return entries, nil
}

func (s *RedisStore) SaveAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	if s == nil || s.client == nil {
		return errors.New("store is not initialized")
	}
	if err := validNamespace(namespace); err != nil {
		return err
	}

	key := s.key(namespace)
	fields := make(map[string]interface{}, len(entries))
	for field, value := range entries {
		fields[field] = string(value)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(namespace string) string {
	return s.prefix + ":" + strings.TrimSpace(namespace)
}
