package models

import "time"

// RequestStatus 用血申请状态
type RequestStatus string

const (
	RequestActive             RequestStatus = "active"
	RequestPartiallyFulfilled RequestStatus = "partially_fulfilled"
	RequestFulfilled          RequestStatus = "fulfilled"
	RequestExpired            RequestStatus = "expired"
	RequestCancelled          RequestStatus = "cancelled"
)

// IsTerminal fulfilled / expired / cancelled 为终态
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestFulfilled, RequestExpired, RequestCancelled:
		return true
	}
	return false
}

// IsOpen active / partially_fulfilled 计入"进行中"
func (s RequestStatus) IsOpen() bool {
	return s == RequestActive || s == RequestPartiallyFulfilled
}

// ResponderStatus 响应献血者的子状态
type ResponderStatus string

const (
	ResponderPending   ResponderStatus = "pending"
	ResponderConfirmed ResponderStatus = "confirmed"
	ResponderRejected  ResponderStatus = "rejected"
)

// RespondedDonor 响应某个用血申请的献血者
type RespondedDonor struct {
	DonorID     string          `json:"donorId"`
	DonorName   string          `json:"donorName,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Status      ResponderStatus `json:"status"`
	RespondedAt time.Time       `json:"respondedAt"`
}

// BloodRequest 用血申请
type BloodRequest struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenantId"`
	RequesterID     string           `json:"requesterId"`
	BloodType       string           `json:"bloodType"`
	Units           int              `json:"units"`
	UnitsReceived   int              `json:"unitsReceived"`
	Urgency         string           `json:"urgency"`
	Status          RequestStatus    `json:"status"`
	RespondedDonors []RespondedDonor `json:"respondedDonors"`
	RequestedAt     time.Time        `json:"requestedAt"`
	NeededBy        time.Time        `json:"neededBy"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Normalize 已完成的申请 unitsReceived 不超过 units
func (r *BloodRequest) Normalize() {
	if r.Status == RequestFulfilled && r.UnitsReceived > r.Units {
		r.UnitsReceived = r.Units
	}
	if r.UnitsReceived < 0 {
		r.UnitsReceived = 0
	}
}
