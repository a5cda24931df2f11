package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bloodbank-sync/internal/models"
	"bloodbank-sync/internal/presence"
	"bloodbank-sync/internal/queue"
	"bloodbank-sync/internal/session"

	"go.uber.org/zap"
)

// ErrNotEligible 当前会话不允许接收通知（未登录 / 角色不在允许集合内）
var ErrNotEligible = errors.New("session is not eligible for notifications")

// Store 通知记录的远端存储，按记录 ID 幂等
type Store interface {
	UpsertNotification(ctx context.Context, rec models.NotificationRecord) (bool, error)
}

// FlushResult 一次排空的结果
type FlushResult struct {
	Skipped   bool      `json:"skipped"`
	Persisted int       `json:"persisted"`
	Disposed  int       `json:"disposed"`
	Retained  int       `json:"retained"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

// Bridge 把持久队列中的离线推送写入通知表（idle → flushing → idle）
type Bridge struct {
	queue   queue.MessageQueue
	store   Store
	allowed map[string]bool
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	sess      *session.Session
	flushing  bool
	lastFlush *FlushResult
}

// NewBridge 创建通知桥接
func NewBridge(q queue.MessageQueue, store Store, allowedRoles map[string]bool, logger *zap.Logger) *Bridge {
	return &Bridge{
		queue:   q,
		store:   store,
		allowed: allowedRoles,
		logger:  logger,
		now:     time.Now,
	}
}

// SetSession 登录后绑定会话；会话满足条件时立即触发一次排空
func (b *Bridge) SetSession(s *session.Session) {
	b.mu.Lock()
	b.sess = s
	b.mu.Unlock()

	if b.eligible(s) {
		b.Trigger("eligible")
	}
}

// ClearSession 退出登录
func (b *Bridge) ClearSession() {
	b.mu.Lock()
	b.sess = nil
	b.mu.Unlock()
}

// Eligible 当前会话是否可接收通知
func (b *Bridge) Eligible() bool {
	return b.eligible(b.currentSession())
}

func (b *Bridge) eligible(s *session.Session) bool {
	return s.Active() && s.UserID != "" && s.HasRole(b.allowed)
}

func (b *Bridge) currentSession() *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// Trigger 异步请求一次排空；已有排空进行中时合并
func (b *Bridge) Trigger(reason string) {
	s := b.currentSession()
	if !b.eligible(s) {
		return
	}
	go func() {
		res, err := b.Flush(s.Context())
		if err != nil {
			b.logger.Warn("Notification flush failed", zap.String("reason", reason), zap.Error(err))
			return
		}
		if !res.Skipped {
			b.logger.Debug("Notification flush finished",
				zap.String("reason", reason),
				zap.Int("persisted", res.Persisted),
				zap.Int("disposed", res.Disposed),
				zap.Int("retained", res.Retained),
				zap.Int("failed", res.Failed),
			)
		}
	}()
}

// OnQueueChanged 推送通道发出的队列变更信号
func (b *Bridge) OnQueueChanged(_ context.Context) {
	b.Trigger("queue_changed")
}

// WatchPresence 页面重新可见 / 窗口重新聚焦时触发排空，返回取消函数
func (b *Bridge) WatchPresence(subscribe func(func(presence.Event)) func()) func() {
	return subscribe(func(ev presence.Event) {
		switch ev.Type {
		case presence.EventVisible:
			b.Trigger("visible")
		case presence.EventFocus:
			b.Trigger("focus")
		}
	})
}

// Flush 排空持久队列；同一时刻只允许一个排空，其余请求直接返回 Skipped
func (b *Bridge) Flush(ctx context.Context) (FlushResult, error) {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return FlushResult{Skipped: true}, nil
	}
	s := b.sess
	if !b.eligible(s) {
		b.mu.Unlock()
		return FlushResult{}, ErrNotEligible
	}
	b.flushing = true
	b.mu.Unlock()

	res, err := b.drain(ctx, s.UserID)

	b.mu.Lock()
	b.flushing = false
	if err == nil {
		b.lastFlush = &res
	}
	b.mu.Unlock()
	return res, err
}

func (b *Bridge) drain(ctx context.Context, userID string) (FlushResult, error) {
	res := FlushResult{At: b.now()}

	msgs, err := b.queue.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list queued messages: %w", err)
	}
	if len(msgs) == 0 {
		return res, nil
	}

	done := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}

		// 投递给其他用户的消息留在队列里，等该用户登录后排空
		if msg.TargetUserID != "" && msg.TargetUserID != userID {
			res.Retained++
			continue
		}

		p := DecodePayload(msg.Payload)
		p.MessageID = msg.ID
		if !p.IsFor(userID) {
			b.logger.Debug("Disposing notification for another user",
				zap.String("message_id", msg.ID),
				zap.String("target_user_id", p.TargetUserID),
			)
			done = append(done, msg.ID)
			res.Disposed++
			continue
		}

		createdAt := msg.ReceivedAt
		if createdAt.IsZero() {
			createdAt = b.now()
		}
		if _, err := b.store.UpsertNotification(ctx, p.Record(userID, createdAt)); err != nil {
			b.logger.Warn("Failed to persist queued notification",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			res.Failed++
			continue
		}
		done = append(done, msg.ID)
		res.Persisted++
	}

	if len(done) > 0 {
		if err := b.queue.RemoveMany(ctx, done); err != nil {
			return res, fmt.Errorf("failed to remove flushed messages: %w", err)
		}
	}
	return res, nil
}

// HandleForeground 前台收到的推送直接写入（同样校验目标用户）
// userID 为订阅主题对应的用户；会话不可用或已切换到其他用户时放入持久队列
func (b *Bridge) HandleForeground(ctx context.Context, userID string, raw []byte) error {
	p := DecodePayload(raw)
	s := b.currentSession()
	if !b.eligible(s) || (userID != "" && userID != s.UserID) {
		return b.queue.Enqueue(ctx, queue.QueuedMessage{
			ID:           p.MessageID,
			TargetUserID: userID,
			Payload:      append([]byte(nil), raw...),
			ReceivedAt:   b.now(),
		})
	}
	if !p.IsFor(s.UserID) {
		b.logger.Debug("Ignoring foreground notification for another user",
			zap.String("message_id", p.MessageID),
		)
		return nil
	}
	if _, err := b.store.UpsertNotification(ctx, p.Record(s.UserID, b.now())); err != nil {
		return fmt.Errorf("failed to persist foreground notification: %w", err)
	}
	return nil
}

// Status 队列深度与最近一次排空结果
type Status struct {
	Eligible  bool         `json:"eligible"`
	Flushing  bool         `json:"flushing"`
	Depth     int64        `json:"depth"`
	LastFlush *FlushResult `json:"lastFlush,omitempty"`
}

// Status 查询桥接状态
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	b.mu.Lock()
	st := Status{
		Eligible:  b.eligible(b.sess),
		Flushing:  b.flushing,
		LastFlush: b.lastFlush,
	}
	b.mu.Unlock()

	if dr, ok := b.queue.(queue.DepthReporter); ok {
		depth, err := dr.Depth(ctx)
		if err != nil {
			return st, fmt.Errorf("failed to read queue depth: %w", err)
		}
		st.Depth = depth
	}
	return st, nil
}
