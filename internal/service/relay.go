package service

import (
	"context"
	"fmt"

	mqttcommon "bloodbank-sync/common/mqtt"
	rediscommon "bloodbank-sync/common/redis"
	"bloodbank-sync/internal/config"
	"bloodbank-sync/internal/consumer"
	"bloodbank-sync/internal/queue"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RelayService 后台推送中继服务
type RelayService struct {
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	queue       queue.MessageQueue
	relay       *consumer.PushRelay
	logger      *zap.Logger
}

// NewRelayService 创建推送中继服务
func NewRelayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*RelayService, error) {
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	q, err := queue.New(queue.Options{
		Backend:  cfg.Queue.Backend,
		RedisKey: cfg.Queue.RedisKey,
		FilePath: cfg.Queue.FilePath,
	}, redisClient)
	if err != nil {
		_ = rediscommon.Close(redisClient)
		return nil, fmt.Errorf("failed to create push queue: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		_ = q.Close()
		_ = rediscommon.Close(redisClient)
		return nil, err
	}

	relay := consumer.NewPushRelay(
		mqttClient,
		q,
		redisClient,
		cfg.Queue.SignalStream,
		cfg.Notify.TopicPrefix,
		cfg.MQTT.QoS,
		logger,
	)

	return &RelayService{
		redisClient: redisClient,
		mqttClient:  mqttClient,
		queue:       q,
		relay:       relay,
		logger:      logger,
	}, nil
}

// Start 启动中继
func (s *RelayService) Start(ctx context.Context) error {
	s.logger.Info("Starting push relay service")
	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start push relay: %w", err)
	}
	return nil
}

// Stop 停止中继
func (s *RelayService) Stop() error {
	s.logger.Info("Stopping push relay service")

	s.mqttClient.Disconnect()
	if err := s.queue.Close(); err != nil {
		s.logger.Error("Failed to close push queue", zap.Error(err))
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	return nil
}
