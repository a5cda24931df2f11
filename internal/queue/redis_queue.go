package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisQueue 基于 Redis Hash 的持久队列：field = 消息 ID，value = JSON
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue 创建 Redis 队列，key 如 "push:queue:{namespace}"
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg QueuedMessage) error {
	if strings.TrimSpace(msg.ID) == "" {
		return ErrInvalidMessage
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queued message: %w", err)
	}
	// HSETNX：重复投递的同一条消息不会覆盖已有记录
	if err := q.client.HSetNX(ctx, q.key, msg.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) ListAll(ctx context.Context) ([]QueuedMessage, error) {
	values, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queued messages: %w", err)
	}

	msgs := make([]QueuedMessage, 0, len(values))
	for id, raw := range values {
		var msg QueuedMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			// 无法解析的条目保留原始内容交给上层处理（上层会按无效负载丢弃）
			msg = QueuedMessage{ID: id, Payload: json.RawMessage(nil)}
		}
		if msg.ID == "" {
			msg.ID = id
		}
		msgs = append(msgs, msg)
	}
	sortByReceivedAt(msgs)
	return msgs, nil
}

func (q *RedisQueue) RemoveMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.key, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove queued messages: %w", err)
	}
	return nil
}

// Depth 当前队列长度
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return nil
}
