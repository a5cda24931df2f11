package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// 远端库 NOTIFY 通道，payload 为租户 ID
const (
	ChannelInventory     = "inventory_changed"
	ChannelBloodRequests = "blood_requests_changed"
)

// Listener LISTEN/NOTIFY 连接（*pq.Listener 实现该接口）
type Listener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

type hubSubscriber struct {
	channel  string
	tenantID string
	fn       func()
}

// SnapshotHub 把 NOTIFY 扇出给按 (通道, 租户) 注册的订阅者
// 连接重建（收到 nil 通知）时通知全部订阅者重新拉取快照
type SnapshotHub struct {
	listener Listener
	logger   *zap.Logger

	mu          sync.Mutex
	nextID      int
	subscribers map[int]hubSubscriber
	listening   map[string]int
}

// NewSnapshotHub 创建快照订阅中心
func NewSnapshotHub(listener Listener, logger *zap.Logger) *SnapshotHub {
	return &SnapshotHub{
		listener:    listener,
		logger:      logger,
		subscribers: make(map[int]hubSubscriber),
		listening:   make(map[string]int),
	}
}

// Subscribe 注册订阅者；同一通道首个订阅者触发 LISTEN，最后一个退订时 UNLISTEN
func (h *SnapshotHub) Subscribe(channel, tenantID string, fn func()) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listening[channel] == 0 {
		if err := h.listener.Listen(channel); err != nil && err != pq.ErrChannelAlreadyOpen {
			return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
	}
	h.listening[channel]++

	id := h.nextID
	h.nextID++
	h.subscribers[id] = hubSubscriber{channel: channel, tenantID: tenantID, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}, nil
}

func (h *SnapshotHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)

	h.listening[sub.channel]--
	if h.listening[sub.channel] > 0 {
		return
	}
	delete(h.listening, sub.channel)
	if err := h.listener.Unlisten(sub.channel); err != nil && err != pq.ErrChannelNotOpen {
		h.logger.Warn("Failed to unlisten channel",
			zap.String("channel", sub.channel),
			zap.Error(err),
		)
	}
}

// Start 分发通知直到 ctx 取消
func (h *SnapshotHub) Start(ctx context.Context) error {
	h.logger.Info("Snapshot hub started")

	notifications := h.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Snapshot hub stopped")
			return nil
		case n, ok := <-notifications:
			if !ok {
				return fmt.Errorf("listener notification channel closed")
			}
			h.dispatch(n)
		}
	}
}

func (h *SnapshotHub) dispatch(n *pq.Notification) {
	h.mu.Lock()
	var fns []func()
	for _, sub := range h.subscribers {
		if n == nil || (sub.channel == n.Channel && matchesTenant(sub.tenantID, n.Extra)) {
			fns = append(fns, sub.fn)
		}
	}
	h.mu.Unlock()

	if n == nil {
		h.logger.Info("Listener reconnected, refreshing all snapshots", zap.Int("subscribers", len(fns)))
	}
	for _, fn := range fns {
		fn()
	}
}

// 空 payload 视为所有租户都有变化
func matchesTenant(tenantID, payload string) bool {
	payload = strings.TrimSpace(payload)
	return payload == "" || payload == tenantID
}

// Close 关闭底层监听连接
func (h *SnapshotHub) Close() error {
	return h.listener.Close()
}
