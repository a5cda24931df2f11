package dashboard

import (
	"context"

	"bloodbank-sync/internal/consumer"
	"bloodbank-sync/internal/models"
	"bloodbank-sync/internal/repository"

	"go.uber.org/zap"
)

// Repository 看板数据的远端读取（repository.DashboardRepository 实现）
type Repository interface {
	ListInventory(ctx context.Context, tenantID string) ([]models.InventoryItem, error)
	ListRequests(ctx context.Context, tenantID string, statuses []models.RequestStatus) ([]models.BloodRequest, error)
	ListAppointments(ctx context.Context, tenantID string, limit int) ([]models.Appointment, error)
	ListDonations(ctx context.Context, tenantID string, limit int) ([]models.Donation, error)
}

// SubscriptionManager 库存 / 用血申请走实时快照订阅，预约 / 献血记录走一次性读取
type SubscriptionManager struct {
	repo         Repository
	notifier     consumer.Notifier
	historyLimit int
	logger       *zap.Logger
}

// NewSubscriptionManager 创建订阅管理器
func NewSubscriptionManager(repo Repository, notifier consumer.Notifier, historyLimit int, logger *zap.Logger) *SubscriptionManager {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &SubscriptionManager{
		repo:         repo,
		notifier:     notifier,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// SubscribeInventory 实现 Source
func (m *SubscriptionManager) SubscribeInventory(tenantID string, next func([]models.InventoryItem), fail func(error)) (Subscription, error) {
	feed, err := consumer.StartFeed(m.notifier, consumer.ChannelInventory, tenantID, func(ctx context.Context) {
		items, err := m.repo.ListInventory(ctx, tenantID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
			return
		}
		next(items)
	}, m.logger)
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// SubscribeRequests 实现 Source
func (m *SubscriptionManager) SubscribeRequests(tenantID string, next func([]models.BloodRequest), fail func(error)) (Subscription, error) {
	feed, err := consumer.StartFeed(m.notifier, consumer.ChannelBloodRequests, tenantID, func(ctx context.Context) {
		requests, err := m.repo.ListRequests(ctx, tenantID, repository.SubscribedRequestStatuses)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
			return
		}
		next(requests)
	}, m.logger)
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// FetchInventory 实现 Source
func (m *SubscriptionManager) FetchInventory(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	return m.repo.ListInventory(ctx, tenantID)
}

// FetchRequests 实现 Source
func (m *SubscriptionManager) FetchRequests(ctx context.Context, tenantID string) ([]models.BloodRequest, error) {
	return m.repo.ListRequests(ctx, tenantID, repository.SubscribedRequestStatuses)
}

// FetchAppointments 实现 Source
func (m *SubscriptionManager) FetchAppointments(ctx context.Context, tenantID string) ([]models.Appointment, error) {
	return m.repo.ListAppointments(ctx, tenantID, m.historyLimit)
}

// FetchDonations 实现 Source
func (m *SubscriptionManager) FetchDonations(ctx context.Context, tenantID string) ([]models.Donation, error) {
	return m.repo.ListDonations(ctx, tenantID, m.historyLimit)
}
