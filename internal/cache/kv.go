package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在（或已损坏，按未命中处理）
var ErrCacheMiss = errors.New("cache miss")

// ErrQuotaExceeded 本地存储空间不足（Redis maxmemory / OOM）
var ErrQuotaExceeded = errors.New("cache quota exceeded")

// KVStore 抽象的本地 KV 存储（用于在单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisKVStore 基于 go-redis 的 KV 实现
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil && isOOM(err) {
		return ErrQuotaExceeded
	}
	return err
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func isOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM")
}
