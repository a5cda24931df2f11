package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// 旧版本信封中可能存在、必须在读取时清除的字段
var (
	forbiddenTopLevelFields = []string{"appointments", "donations"}
	forbiddenStatsFields    = []string{"todayAppointments", "todayDonations", "monthDonations", "monthDonationUnits"}
	forbiddenResponderPII   = []string{"donorName", "name", "phone", "email"}
)

// Manager 仪表盘本地缓存管理器（按租户存储非敏感快照）
type Manager struct {
	kv        KVStore
	logger    *zap.Logger
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewManager 创建缓存管理器；ttl 为 0 表示不过期
func NewManager(kv KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Manager {
	if keyPrefix == "" {
		keyPrefix = "dashboard:cache:"
	}
	return &Manager{
		kv:        kv,
		logger:    logger,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Key 租户缓存键
func (m *Manager) Key(tenantID string) string {
	return m.keyPrefix + tenantID
}

// Load 读取租户快照；任何本地存储错误都记录日志并按 ErrCacheMiss 返回
func (m *Manager) Load(ctx context.Context, tenantID string) (*Snapshot, error) {
	key := m.Key(tenantID)

	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("Failed to read dashboard cache",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
		return nil, ErrCacheMiss
	}

	cleaned, changed, err := Sanitize([]byte(raw))
	if err != nil {
		m.logger.Warn("Corrupt dashboard cache entry, discarding",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		if delErr := m.kv.Delete(ctx, key); delErr != nil {
			m.logger.Debug("Failed to delete corrupt cache entry", zap.Error(delErr))
		}
		return nil, ErrCacheMiss
	}

	if changed {
		// 自愈：旧版本写入的敏感字段立即从存储中移除
		if err := m.kv.Set(ctx, key, string(cleaned), m.ttl); err != nil {
			m.logger.Warn("Failed to rewrite sanitized dashboard cache",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		} else {
			m.logger.Info("Migrated legacy dashboard cache entry",
				zap.String("tenant_id", tenantID),
			)
		}
	}

	var env Envelope
	if err := json.Unmarshal(cleaned, &env); err != nil {
		m.logger.Warn("Failed to decode dashboard cache",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return nil, ErrCacheMiss
	}

	snap := Hydrate(env, m.now())
	return &snap, nil
}

// Save 写入租户快照
func (m *Manager) Save(ctx context.Context, tenantID string, snap Snapshot) error {
	data, err := json.Marshal(Serialize(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard cache: %w", err)
	}

	if err := m.kv.Set(ctx, m.Key(tenantID), string(data), m.ttl); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("failed to set dashboard cache: %w", err)
	}

	m.logger.Debug("Updated dashboard cache",
		zap.String("tenant_id", tenantID),
		zap.Int("inventory_count", len(snap.Inventory)),
		zap.Int("request_count", len(snap.BloodRequests)),
	)
	return nil
}

// Clear 删除租户快照（退出登录时调用）
func (m *Manager) Clear(ctx context.Context, tenantID string) error {
	return m.kv.Delete(ctx, m.Key(tenantID))
}

// Sanitize 删除信封中的敏感字段；changed 表示原始数据被修改过
func Sanitize(raw []byte) ([]byte, bool, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, errors.New("cache entry is not an object")
	}

	changed := deleteKeys(doc, forbiddenTopLevelFields)

	if stats, ok := doc["stats"].(map[string]interface{}); ok {
		if deleteKeys(stats, forbiddenStatsFields) {
			changed = true
		}
	}

	if requests, ok := doc["bloodRequests"].([]interface{}); ok {
		for _, r := range requests {
			req, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			donors, ok := req["respondedDonors"].([]interface{})
			if !ok {
				continue
			}
			for _, d := range donors {
				if donor, ok := d.(map[string]interface{}); ok && deleteKeys(donor, forbiddenResponderPII) {
					changed = true
				}
			}
		}
	}

	if !changed {
		return raw, false, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func deleteKeys(m map[string]interface{}, keys []string) bool {
	removed := false
	for _, k := range keys {
		if _, ok := m[k]; ok {
			delete(m, k)
			removed = true
		}
	}
	return removed
}
