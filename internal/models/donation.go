package models

import "time"

// DonationStatus 献血记录状态
type DonationStatus string

const (
	DonationCompleted DonationStatus = "completed"
	DonationPending   DonationStatus = "pending"
	DonationRejected  DonationStatus = "rejected"
)

// Donation 献血记录（追加为主，不会回到进行中状态）
type Donation struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	DonorID      string         `json:"donorId"`
	DonorName    string         `json:"donorName,omitempty"`
	BloodType    string         `json:"bloodType"`
	Units        int            `json:"units"`
	DonationDate time.Time      `json:"donationDate"`
	Status       DonationStatus `json:"status"`
}
