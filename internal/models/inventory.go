package models

import "time"

// InventoryStatus 血型库存等级（由 units 与阈值推导，不可信任缓存中的值）
type InventoryStatus string

const (
	InventoryCritical InventoryStatus = "critical"
	InventoryLow      InventoryStatus = "low"
	InventoryAdequate InventoryStatus = "adequate"
	InventorySurplus  InventoryStatus = "surplus"
)

// BatchStatus 批次生命周期
type BatchStatus string

const (
	BatchAvailable BatchStatus = "available"
	BatchReserved  BatchStatus = "reserved"
	BatchUsed      BatchStatus = "used"
	BatchExpired   BatchStatus = "expired"
)

// 阈值缺省值（库存记录未配置阈值时使用）
const (
	DefaultCriticalThreshold = 5
	DefaultLowThreshold      = 10
	// units >= SurplusFactor * lowThreshold 视为富余
	SurplusFactor = 3
)

// InventoryItem 某租户某血型的库存桶
type InventoryItem struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	BloodType         string          `json:"bloodType"`
	Units             int             `json:"units"`
	Status            InventoryStatus `json:"status"`
	LowThreshold      int             `json:"lowThreshold"`
	CriticalThreshold int             `json:"criticalThreshold"`
	LastRestocked     time.Time       `json:"lastRestocked"`
	Batches           []Batch         `json:"batches"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Batch 库存批次，只归属于一个 InventoryItem
type Batch struct {
	BatchID        string      `json:"batchId"`
	Units          int         `json:"units"`
	CollectionDate time.Time   `json:"collectionDate"`
	ExpiryDate     time.Time   `json:"expiryDate"`
	Status         BatchStatus `json:"status"`
	ReservationID  string      `json:"reservationId,omitempty"`
	RequestID      string      `json:"requestId,omitempty"`
	DonorID        string      `json:"donorId,omitempty"`
}

// CountsTowardOnHand available / reserved 批次计入在库量
func (b Batch) CountsTowardOnHand() bool {
	return b.Status == BatchAvailable || b.Status == BatchReserved
}

// Thresholds 返回生效阈值（未配置时使用缺省值）
func (i InventoryItem) Thresholds() (critical, low int) {
	critical, low = i.CriticalThreshold, i.LowThreshold
	if critical <= 0 {
		critical = DefaultCriticalThreshold
	}
	if low <= 0 {
		low = DefaultLowThreshold
	}
	if low < critical {
		low = critical
	}
	return critical, low
}
