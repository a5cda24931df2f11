package consumer

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Notifier 变更通知来源（SnapshotHub 实现）
type Notifier interface {
	Subscribe(channel, tenantID string, fn func()) (func(), error)
}

// Feed 单个快照订阅：启动时立即拉取一次，之后每次变更通知重新拉取
// 拉取串行执行，执行期间到达的多次通知合并为一次
type Feed struct {
	cancel      context.CancelFunc
	unsubscribe func()
	once        sync.Once
}

// StartFeed 启动快照订阅；fetch 负责查询并投递快照
func StartFeed(notifier Notifier, channel, tenantID string, fetch func(ctx context.Context), logger *zap.Logger) (*Feed, error) {
	ctx, cancel := context.WithCancel(context.Background())
	kick := make(chan struct{}, 1)
	signal := func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	unsubscribe, err := notifier.Subscribe(channel, tenantID, signal)
	if err != nil {
		cancel()
		return nil, err
	}

	signal()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				fetch(ctx)
			}
		}
	}()

	logger.Debug("Snapshot feed started",
		zap.String("channel", channel),
		zap.String("tenant_id", tenantID),
	)
	return &Feed{cancel: cancel, unsubscribe: unsubscribe}, nil
}

// Stop 同步退订；正在执行的 fetch 通过 ctx 感知取消
func (f *Feed) Stop() {
	f.once.Do(func() {
		f.unsubscribe()
		f.cancel()
	})
}
