package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bloodbank-sync/internal/models"

	"go.uber.org/zap"
)

// ErrNotificationNotFound 通知不存在或不属于该用户
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository 通知记录仓库
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository 创建通知记录仓库
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertNotification 按消息 ID 幂等写入；已存在时不覆盖（不会把已读重置为未读）
// 返回值 inserted 表示本次是否真正新增
func (r *NotificationRepository) UpsertNotification(ctx context.Context, rec models.NotificationRecord) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("notification id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var dataJSON []byte
	if len(rec.Data) > 0 {
		b, err := json.Marshal(rec.Data)
		if err != nil {
			return false, fmt.Errorf("failed to marshal notification data: %w", err)
		}
		dataJSON = b
	}

	query := `
		INSERT INTO notifications (
			notification_id, user_id, title, body, type, data, read, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (notification_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Title,
		rec.Body,
		rec.Type,
		dataJSON,
		rec.Read,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert notification %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		r.logger.Debug("Notification already stored", zap.String("notification_id", rec.ID))
	}
	return n > 0, nil
}

// MarkNotificationRead 合并更新已读标记
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	query := `
		UPDATE notifications
		SET read = TRUE
		WHERE notification_id = $1 AND user_id = $2
	`

	res, err := r.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
	}
	return nil
}
