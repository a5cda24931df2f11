package queue

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Options 队列后端选择
type Options struct {
	Backend  string // "redis" 或 "file"
	RedisKey string
	FilePath string
}

// New 按配置创建持久队列
func New(opts Options, client *redis.Client) (MessageQueue, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "redis":
		if client == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		key := opts.RedisKey
		if key == "" {
			key = "push:queue:default"
		}
		return NewRedisQueue(client, key), nil
	case "file":
		return NewFileQueue(opts.FilePath)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", opts.Backend)
	}
}
