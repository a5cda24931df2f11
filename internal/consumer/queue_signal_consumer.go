package consumer

import (
	"context"
	"fmt"
	"time"

	rediscommon "bloodbank-sync/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// QueueChangedEvent 推送中继写入持久队列后发布的信号
type QueueChangedEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PublishQueueChanged 发布队列变更信号
func PublishQueueChanged(ctx context.Context, client *redis.Client, stream string, event QueueChangedEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, client, stream, event); err != nil {
		return fmt.Errorf("failed to publish queue changed event: %w", err)
	}
	return nil
}

// QueueSignalConsumer 消费队列变更信号（Redis Streams 消费者组）
type QueueSignalConsumer struct {
	redisClient  *redis.Client
	onChanged    func(ctx context.Context)
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

// NewQueueSignalConsumer 创建队列变更信号消费者
func NewQueueSignalConsumer(
	redisClient *redis.Client,
	onChanged func(ctx context.Context),
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
) *QueueSignalConsumer {
	return &QueueSignalConsumer{
		redisClient:  redisClient,
		onChanged:    onChanged,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    32,
		block:        5 * time.Second,
	}
}

// Start 启动消费循环（失败时指数退避）
func (c *QueueSignalConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Queue signal consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Queue signal consumer stopped")
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume queue signals",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 读取一批信号；一批内多条信号只触发一次回调
func (c *QueueSignalConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	c.logger.Debug("Queue changed signals received", zap.Int("count", len(messages)))
	c.onChanged(ctx)

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, ids...); err != nil {
		c.logger.Warn("Failed to ack queue signals", zap.Strings("message_ids", ids), zap.Error(err))
	}
	return nil
}
