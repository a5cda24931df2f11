package models

import "time"

// AppointmentStatus 预约状态
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no-show"
)

// IsTerminal completed / cancelled / no-show 为终态
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// Appointment 献血预约（含献血者联系方式，不允许进入本地缓存）
type Appointment struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	DonorID     string            `json:"donorId"`
	DonorName   string            `json:"donorName,omitempty"`
	DonorPhone  string            `json:"donorPhone,omitempty"`
	ScheduledAt time.Time         `json:"scheduledAt"`
	Status      AppointmentStatus `json:"status"`
}
