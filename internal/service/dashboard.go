package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bloodbank-sync/common/database"
	mqttcommon "bloodbank-sync/common/mqtt"
	rediscommon "bloodbank-sync/common/redis"
	"bloodbank-sync/internal/cache"
	"bloodbank-sync/internal/config"
	"bloodbank-sync/internal/consumer"
	"bloodbank-sync/internal/dashboard"
	httpapi "bloodbank-sync/internal/http"
	"bloodbank-sync/internal/notification"
	"bloodbank-sync/internal/presence"
	"bloodbank-sync/internal/queue"
	"bloodbank-sync/internal/repository"
	"bloodbank-sync/internal/scheduler"
	"bloodbank-sync/internal/session"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// pushAttacher 前台推送订阅（consumer.PushConsumer 实现）
type pushAttacher interface {
	Attach(ctx context.Context, userID string) error
	Detach()
}

// readMarker 通知已读标记（repository.NotificationRepository 实现）
type readMarker interface {
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// DashboardService 看板同步服务（整合各层）
type DashboardService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	hub            *consumer.SnapshotHub
	signalConsumer *consumer.QueueSignalConsumer
	queue          queue.MessageQueue
	server         *http.Server

	engine  *dashboard.Engine
	bridge  *notification.Bridge
	tracker *presence.Tracker
	push    pushAttacher
	reads   readMarker

	mu           sync.Mutex
	sess         *session.Session
	stopPresence func()
}

// NewDashboardService 创建看板同步服务
func NewDashboardService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DashboardService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（前台推送）
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		_ = rediscommon.Close(redisClient)
		_ = database.Close(db)
		return nil, err
	}

	// 4. 持久队列
	q, err := queue.New(queue.Options{
		Backend:  cfg.Queue.Backend,
		RedisKey: cfg.Queue.RedisKey,
		FilePath: cfg.Queue.FilePath,
	}, redisClient)
	if err != nil {
		mqttClient.Disconnect()
		_ = rediscommon.Close(redisClient)
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to create push queue: %w", err)
	}

	// 5. Repository / 快照订阅
	dashboardRepo := repository.NewDashboardRepository(db, logger)
	notificationRepo := repository.NewNotificationRepository(db, logger)
	hub := consumer.NewSnapshotHub(database.NewListener(&cfg.Database, logger), logger)
	subs := dashboard.NewSubscriptionManager(dashboardRepo, hub, cfg.Dashboard.HistoryLimit, logger)

	// 6. 引擎 / 通知桥接
	activity := scheduler.NewActivity()
	tracker := presence.NewTracker()
	cacheManager := cache.NewManager(cache.NewRedisKVStore(redisClient), cfg.Cache.KeyPrefix, cfg.Cache.TTL, logger)

	engine := dashboard.NewEngine(dashboard.Deps{
		Source:     subs,
		Cache:      cacheManager,
		Scheduler:  scheduler.New(activity),
		Visibility: tracker,
		Logger:     logger,
	}, dashboard.Options{
		CacheFreshness:    cfg.Dashboard.CacheFreshness,
		SecondaryInterval: cfg.Dashboard.SecondaryInterval,
		IdleTimeout:       cfg.Dashboard.IdleTimeout,
	})
	bridge := notification.NewBridge(q, notificationRepo, cfg.AllowedRoleSet(), logger)

	s := newDashboardService(engine, bridge, tracker, logger)
	s.config = cfg
	s.db = db
	s.redisClient = redisClient
	s.mqttClient = mqttClient
	s.hub = hub
	s.queue = q
	s.reads = notificationRepo
	s.push = consumer.NewPushConsumer(mqttClient, bridge, cfg.Notify.TopicPrefix, cfg.MQTT.QoS, logger)
	s.signalConsumer = consumer.NewQueueSignalConsumer(
		redisClient,
		bridge.OnQueueChanged,
		logger,
		cfg.Queue.SignalStream,
		cfg.Queue.SignalGroup,
		cfg.Queue.Consumer,
	)

	// 7. HTTP
	router := httpapi.NewRouter(logger)
	router.TrackActivity(activity)
	router.RegisterDashboardRoutes(httpapi.NewDashboardHandler(s, logger))
	router.RegisterHealthRoutes(func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := rediscommon.Ping(pingCtx, redisClient); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if !mqttClient.IsConnected() {
			return errors.New("mqtt: not connected")
		}
		return nil
	})
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func newDashboardService(engine *dashboard.Engine, bridge *notification.Bridge, tracker *presence.Tracker, logger *zap.Logger) *DashboardService {
	s := &DashboardService{
		engine:  engine,
		bridge:  bridge,
		tracker: tracker,
		logger:  logger,
	}
	s.stopPresence = bridge.WatchPresence(tracker.Subscribe)
	return s
}

// Start 启动服务：快照订阅中心 / 队列变更信号消费者 / HTTP
func (s *DashboardService) Start(ctx context.Context) error {
	s.logger.Info("Starting dashboard sync service", zap.String("http_addr", s.server.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Start(gctx)
	})
	g.Go(func() error {
		return s.signalConsumer.Start(gctx)
	})
	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Stop 停止服务
func (s *DashboardService) Stop() error {
	s.logger.Info("Stopping dashboard sync service")

	s.SignOut()
	if s.stopPresence != nil {
		s.stopPresence()
	}
	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			s.logger.Error("Failed to close listener", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("Failed to close push queue", zap.Error(err))
		}
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	return nil
}

// SignIn 登录：替换旧会话，绑定通知桥接和前台推送，按租户启动看板引擎
func (s *DashboardService) SignIn(_ context.Context, userID, role, tenantID string) (*session.Session, error) {
	sess, err := session.Begin(context.Background(), userID, role, tenantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.sess
	s.sess = sess
	s.mu.Unlock()
	if prev != nil {
		prev.End()
	}

	s.bridge.SetSession(sess)
	if s.push != nil {
		if s.bridge.Eligible() {
			if err := s.push.Attach(sess.Context(), sess.UserID); err != nil {
				s.logger.Warn("Failed to attach push consumer", zap.String("user_id", sess.UserID), zap.Error(err))
			}
		} else {
			s.push.Detach()
		}
	}
	s.engine.SetTenant(sess.TenantID)

	s.logger.Info("User signed in",
		zap.String("user_id", sess.UserID),
		zap.String("role", sess.Role),
		zap.String("tenant_id", sess.TenantID),
	)
	return sess, nil
}

// SignOut 退出登录：拆除引擎、解绑通知
func (s *DashboardService) SignOut() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}
	sess.End()
	s.bridge.ClearSession()
	if s.push != nil {
		s.push.Detach()
	}
	s.engine.Detach()
	s.logger.Info("User signed out", zap.String("user_id", sess.UserID))
}

func (s *DashboardService) activeSession() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Dashboard 当前读模型
func (s *DashboardService) Dashboard() (dashboard.State, error) {
	if !s.activeSession().Active() {
		return dashboard.State{}, session.ErrNoSession
	}
	return s.engine.State(), nil
}

// Refresh 手动刷新
func (s *DashboardService) Refresh(ctx context.Context) (dashboard.State, error) {
	if !s.activeSession().Active() {
		return dashboard.State{}, session.ErrNoSession
	}
	if err := s.engine.RefreshData(ctx); err != nil {
		return dashboard.State{}, err
	}
	return s.engine.State(), nil
}

// SetVisible 页面可见性上报
func (s *DashboardService) SetVisible(visible bool) {
	s.tracker.SetVisible(visible)
}

// Focus 窗口焦点上报
func (s *DashboardService) Focus() {
	s.tracker.Focus()
}

// QueueStatus 通知队列状态
func (s *DashboardService) QueueStatus(ctx context.Context) (notification.Status, error) {
	return s.bridge.Status(ctx)
}

// MarkNotificationRead 当前用户标记通知已读
func (s *DashboardService) MarkNotificationRead(ctx context.Context, notificationID string) error {
	sess := s.activeSession()
	if !sess.Active() {
		return session.ErrNoSession
	}
	if s.reads == nil {
		return errors.New("notification store unavailable")
	}
	return s.reads.MarkNotificationRead(ctx, sess.UserID, notificationID)
}
