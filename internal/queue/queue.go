package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrInvalidMessage 消息缺少 ID
var ErrInvalidMessage = errors.New("queued message requires an id")

// QueuedMessage 后台推送处理器暂存的消息；ID 来自推送通道的消息 ID
// TargetUserID 为推送主题对应的收件用户，为空表示未按用户投递
type QueuedMessage struct {
	ID           string          `json:"id"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	ReceivedAt   time.Time       `json:"receivedAt"`
}

// MessageQueue 持久化消息队列
// Enqueue 按 ID 幂等；RemoveMany 要么全部删除要么全部不删
type MessageQueue interface {
	Enqueue(ctx context.Context, msg QueuedMessage) error
	ListAll(ctx context.Context) ([]QueuedMessage, error)
	RemoveMany(ctx context.Context, ids []string) error
	Close() error
}

// DepthReporter 可选接口：返回队列长度（Redis / 文件后端均实现）
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

func sortByReceivedAt(msgs []QueuedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
	})
}
