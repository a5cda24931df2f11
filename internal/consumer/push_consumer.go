package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttcommon "bloodbank-sync/common/mqtt"
	"bloodbank-sync/internal/notification"
	"bloodbank-sync/internal/queue"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const relayTimeout = 5 * time.Second

// Subscriber MQTT 订阅能力（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ForegroundHandler 前台推送处理（notification.Bridge 实现）
type ForegroundHandler interface {
	HandleForeground(ctx context.Context, userID string, raw []byte) error
}

// PushConsumer 前台推送消费者：订阅当前登录用户的推送主题
type PushConsumer struct {
	client      Subscriber
	handler     ForegroundHandler
	topicPrefix string
	qos         byte
	logger      *zap.Logger

	mu    sync.Mutex
	topic string
}

// NewPushConsumer 创建前台推送消费者
func NewPushConsumer(client Subscriber, handler ForegroundHandler, topicPrefix string, qos byte, logger *zap.Logger) *PushConsumer {
	return &PushConsumer{
		client:      client,
		handler:     handler,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Attach 订阅 userID 的推送主题；之前的订阅先取消
func (c *PushConsumer) Attach(ctx context.Context, userID string) error {
	c.Detach()

	topic := c.topicPrefix + userID
	if err := c.client.Subscribe(topic, c.qos, func(_ string, payload []byte) error {
		return c.handler.HandleForeground(ctx, userID, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe push topic: %w", err)
	}

	c.mu.Lock()
	c.topic = topic
	c.mu.Unlock()

	c.logger.Info("Push consumer attached", zap.String("topic", topic))
	return nil
}

// Detach 取消当前订阅
func (c *PushConsumer) Detach() {
	c.mu.Lock()
	topic := c.topic
	c.topic = ""
	c.mu.Unlock()

	if topic == "" {
		return
	}
	if err := c.client.Unsubscribe(topic); err != nil {
		c.logger.Error("Failed to unsubscribe push topic", zap.String("topic", topic), zap.Error(err))
		return
	}
	c.logger.Info("Push consumer detached", zap.String("topic", topic))
}

// PushRelay 后台推送中继：没有前台会话时把推送写入持久队列并发布队列变更信号
type PushRelay struct {
	client      Subscriber
	queue       queue.MessageQueue
	redisClient *redis.Client
	stream      string
	topicPrefix string
	qos         byte
	logger      *zap.Logger
	now         func() time.Time
}

// NewPushRelay 创建推送中继
func NewPushRelay(
	client Subscriber,
	q queue.MessageQueue,
	redisClient *redis.Client,
	stream string,
	topicPrefix string,
	qos byte,
	logger *zap.Logger,
) *PushRelay {
	return &PushRelay{
		client:      client,
		queue:       q,
		redisClient: redisClient,
		stream:      stream,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *PushRelay) topic() string {
	return r.topicPrefix + "+"
}

// Start 订阅全部用户的推送主题，直到 ctx 取消
func (r *PushRelay) Start(ctx context.Context) error {
	if err := r.client.Subscribe(r.topic(), r.qos, r.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe relay topic: %w", err)
	}

	r.logger.Info("Push relay started", zap.String("topic", r.topic()))

	<-ctx.Done()

	if err := r.client.Unsubscribe(r.topic()); err != nil {
		r.logger.Error("Failed to unsubscribe relay topic", zap.Error(err))
	}
	r.logger.Info("Push relay stopped")
	return nil
}

// handleMessage 入队（按消息 ID 幂等）后发布队列变更信号
func (r *PushRelay) handleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	id := notification.MessageID(payload)
	userID := strings.TrimPrefix(topic, r.topicPrefix)
	if err := r.queue.Enqueue(ctx, queue.QueuedMessage{
		ID:           id,
		TargetUserID: userID,
		Payload:      append([]byte(nil), payload...),
		ReceivedAt:   r.now(),
	}); err != nil {
		return fmt.Errorf("failed to enqueue push message %s: %w", id, err)
	}

	if err := PublishQueueChanged(ctx, r.redisClient, r.stream, QueueChangedEvent{
		MessageID: id,
		UserID:    userID,
	}); err != nil {
		// 消息已持久化，下一次可见 / 聚焦时仍会被排空
		r.logger.Warn("Failed to signal queue change", zap.String("message_id", id), zap.Error(err))
	}

	r.logger.Debug("Push message queued",
		zap.String("message_id", id),
		zap.String("user_id", userID),
	)
	return nil
}
