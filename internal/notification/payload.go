package notification

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bloodbank-sync/internal/models"

	"github.com/google/uuid"
)

// DefaultType 未声明类型的推送
const DefaultType = "general"

// 推送 data 中目标用户 / 类型字段的历史别名，按优先级排列
var (
	targetUserKeys = []string{"targetUserId", "target_user_id", "userId", "recipientId", "uid"}
	typeKeys       = []string{"type", "notificationType", "kind"}
	messageIDKeys  = []string{"messageId", "message_id", "fcmMessageId"}
)

// Payload 归一化后的推送消息
type Payload struct {
	MessageID    string
	TargetUserID string
	Title        string
	Body         string
	Type         string
	Data         map[string]interface{}
}

type rawPayload struct {
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]interface{} `json:"data"`
}

// DecodePayload 解析推送消息并归一化字段别名
// 无法识别的结构返回缺省值记录，不报错
func DecodePayload(raw []byte) Payload {
	p := Payload{Type: DefaultType}

	var top map[string]interface{}
	if err := json.Unmarshal(raw, &top); err != nil {
		p.MessageID = fallbackMessageID(raw)
		return p
	}

	var rp rawPayload
	_ = json.Unmarshal(raw, &rp)

	p.Title = strings.TrimSpace(rp.Notification.Title)
	p.Body = strings.TrimSpace(rp.Notification.Body)
	p.Data = rp.Data
	if p.Title == "" {
		p.Title = firstString(rp.Data, "title")
	}
	if p.Body == "" {
		p.Body = firstString(rp.Data, "body")
	}

	p.MessageID = firstString(top, messageIDKeys...)
	if p.MessageID == "" {
		p.MessageID = firstString(rp.Data, messageIDKeys...)
	}
	if p.MessageID == "" {
		p.MessageID = fallbackMessageID(raw)
	}

	p.TargetUserID = firstString(rp.Data, targetUserKeys...)
	if p.TargetUserID == "" {
		p.TargetUserID = firstString(top, targetUserKeys...)
	}

	if t := firstString(rp.Data, typeKeys...); t != "" {
		p.Type = t
	}
	return p
}

// MessageID 推送消息的稳定 ID；缺失时由内容派生，同一内容重复投递得到相同 ID
func MessageID(raw []byte) string {
	return DecodePayload(raw).MessageID
}

// IsFor 目标用户标记缺失或与 userID 一致
func (p Payload) IsFor(userID string) bool {
	return p.TargetUserID == "" || p.TargetUserID == userID
}

// Record 转换为通知记录
func (p Payload) Record(userID string, now time.Time) models.NotificationRecord {
	return models.NotificationRecord{
		ID:        p.MessageID,
		UserID:    userID,
		Title:     p.Title,
		Body:      p.Body,
		Type:      p.Type,
		Data:      p.Data,
		Read:      false,
		CreatedAt: now.UTC(),
	}
}

func fallbackMessageID(raw []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64, bool, json.Number:
			s = fmt.Sprint(val)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
