package models

import "time"

// NotificationRecord 写入远端通知表的记录；ID 为推送通道的消息 ID（幂等键）
type NotificationRecord struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"createdAt"`
}
