package cache

import (
	"time"

	"bloodbank-sync/internal/models"
)

// Snapshot 缓存中可恢复的仪表盘状态（非敏感子集）
type Snapshot struct {
	Timestamp     time.Time
	Inventory     []models.InventoryItem
	BloodRequests []models.BloodRequest
	Stats         CachedStats
}

// IsFresh 判断快照是否仍在新鲜度窗口内
func (s *Snapshot) IsFresh(now time.Time, window time.Duration) bool {
	if s == nil || s.Timestamp.IsZero() {
		return false
	}
	age := now.Sub(s.Timestamp)
	return age >= 0 && age <= window
}

// CachedStats 可缓存的统计子集：不含任何由预约 / 献血记录推导的字段
type CachedStats struct {
	TotalUnits        int `json:"totalUnits"`
	CriticalTypes     int `json:"criticalTypes"`
	LowTypes          int `json:"lowTypes"`
	AdequateTypes     int `json:"adequateTypes"`
	SurplusTypes      int `json:"surplusTypes"`
	ExpiringIn7Days   int `json:"expiringIn7Days"`
	ExpiringIn30Days  int `json:"expiringIn30Days"`
	ReservedUnits     int `json:"reservedUnits"`
	AvailableUnits    int `json:"availableUnits"`
	ActiveRequests    int `json:"activeRequests"`
	FulfilledRequests int `json:"fulfilledRequests"`
}

// StatsSubset 从完整统计中取可缓存部分
func StatsSubset(s models.DerivedStats) CachedStats {
	return CachedStats{
		TotalUnits:        s.TotalUnits,
		CriticalTypes:     s.CriticalTypes,
		LowTypes:          s.LowTypes,
		AdequateTypes:     s.AdequateTypes,
		SurplusTypes:      s.SurplusTypes,
		ExpiringIn7Days:   s.ExpiringIn7Days,
		ExpiringIn30Days:  s.ExpiringIn30Days,
		ReservedUnits:     s.ReservedUnits,
		AvailableUnits:    s.AvailableUnits,
		ActiveRequests:    s.ActiveRequests,
		FulfilledRequests: s.FulfilledRequests,
	}
}

// Apply 把缓存统计写回完整统计（Today* / Month* 保持原值）
func (c CachedStats) Apply(s *models.DerivedStats) {
	s.TotalUnits = c.TotalUnits
	s.CriticalTypes = c.CriticalTypes
	s.LowTypes = c.LowTypes
	s.AdequateTypes = c.AdequateTypes
	s.SurplusTypes = c.SurplusTypes
	s.ExpiringIn7Days = c.ExpiringIn7Days
	s.ExpiringIn30Days = c.ExpiringIn30Days
	s.ReservedUnits = c.ReservedUnits
	s.AvailableUnits = c.AvailableUnits
	s.ActiveRequests = c.ActiveRequests
	s.FulfilledRequests = c.FulfilledRequests
}

// Envelope 持久化格式：日期全部转为 RFC 3339 字符串
type Envelope struct {
	Timestamp     int64             `json:"timestamp"`
	Inventory     []cachedInventory `json:"inventory"`
	BloodRequests []cachedRequest   `json:"bloodRequests"`
	Stats         CachedStats       `json:"stats"`
}

type cachedInventory struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenantId"`
	BloodType         string        `json:"bloodType"`
	Units             int           `json:"units"`
	Status            string        `json:"status"`
	LowThreshold      int           `json:"lowThreshold"`
	CriticalThreshold int           `json:"criticalThreshold"`
	LastRestocked     string        `json:"lastRestocked"`
	UpdatedAt         string        `json:"updatedAt"`
	Batches           []cachedBatch `json:"batches"`
}

type cachedBatch struct {
	BatchID        string `json:"batchId"`
	Units          int    `json:"units"`
	CollectionDate string `json:"collectionDate"`
	ExpiryDate     string `json:"expiryDate"`
	Status         string `json:"status"`
	ReservationID  string `json:"reservationId,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	DonorID        string `json:"donorId,omitempty"`
}

type cachedRequest struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenantId"`
	RequesterID     string            `json:"requesterId"`
	BloodType       string            `json:"bloodType"`
	Units           int               `json:"units"`
	UnitsReceived   int               `json:"unitsReceived"`
	Urgency         string            `json:"urgency"`
	Status          string            `json:"status"`
	RequestedAt     string            `json:"requestedAt"`
	NeededBy        string            `json:"neededBy"`
	UpdatedAt       string            `json:"updatedAt"`
	RespondedDonors []cachedResponder `json:"respondedDonors"`
}

// cachedResponder 只保留 ID 与状态，姓名 / 电话不落本地缓存
type cachedResponder struct {
	DonorID     string `json:"donorId"`
	Status      string `json:"status"`
	RespondedAt string `json:"respondedAt"`
}

// Serialize 快照 -> 持久化信封
func Serialize(s Snapshot) Envelope {
	env := Envelope{
		Timestamp:     s.Timestamp.UnixMilli(),
		Inventory:     make([]cachedInventory, 0, len(s.Inventory)),
		BloodRequests: make([]cachedRequest, 0, len(s.BloodRequests)),
		Stats:         s.Stats,
	}

	for _, item := range s.Inventory {
		ci := cachedInventory{
			ID:                item.ID,
			TenantID:          item.TenantID,
			BloodType:         item.BloodType,
			Units:             item.Units,
			Status:            string(item.Status),
			LowThreshold:      item.LowThreshold,
			CriticalThreshold: item.CriticalThreshold,
			LastRestocked:     formatTime(item.LastRestocked),
			UpdatedAt:         formatTime(item.UpdatedAt),
			Batches:           make([]cachedBatch, 0, len(item.Batches)),
		}
		for _, b := range item.Batches {
			ci.Batches = append(ci.Batches, cachedBatch{
				BatchID:        b.BatchID,
				Units:          b.Units,
				CollectionDate: formatTime(b.CollectionDate),
				ExpiryDate:     formatTime(b.ExpiryDate),
				Status:         string(b.Status),
				ReservationID:  b.ReservationID,
				RequestID:      b.RequestID,
				DonorID:        b.DonorID,
			})
		}
		env.Inventory = append(env.Inventory, ci)
	}

	for _, r := range s.BloodRequests {
		cr := cachedRequest{
			ID:              r.ID,
			TenantID:        r.TenantID,
			RequesterID:     r.RequesterID,
			BloodType:       r.BloodType,
			Units:           r.Units,
			UnitsReceived:   r.UnitsReceived,
			Urgency:         r.Urgency,
			Status:          string(r.Status),
			RequestedAt:     formatTime(r.RequestedAt),
			NeededBy:        formatTime(r.NeededBy),
			UpdatedAt:       formatTime(r.UpdatedAt),
			RespondedDonors: make([]cachedResponder, 0, len(r.RespondedDonors)),
		}
		for _, d := range r.RespondedDonors {
			cr.RespondedDonors = append(cr.RespondedDonors, cachedResponder{
				DonorID:     d.DonorID,
				Status:      string(d.Status),
				RespondedAt: formatTime(d.RespondedAt),
			})
		}
		env.BloodRequests = append(env.BloodRequests, cr)
	}

	return env
}

// Hydrate 持久化信封 -> 快照；缺失或无法解析的日期回落为 now
func Hydrate(env Envelope, now time.Time) Snapshot {
	s := Snapshot{
		Inventory:     make([]models.InventoryItem, 0, len(env.Inventory)),
		BloodRequests: make([]models.BloodRequest, 0, len(env.BloodRequests)),
		Stats:         env.Stats,
	}
	if env.Timestamp > 0 {
		s.Timestamp = time.UnixMilli(env.Timestamp)
	}

	for _, ci := range env.Inventory {
		item := models.InventoryItem{
			ID:                ci.ID,
			TenantID:          ci.TenantID,
			BloodType:         ci.BloodType,
			Units:             ci.Units,
			Status:            models.InventoryStatus(ci.Status),
			LowThreshold:      ci.LowThreshold,
			CriticalThreshold: ci.CriticalThreshold,
			LastRestocked:     parseTime(ci.LastRestocked, now),
			UpdatedAt:         parseTime(ci.UpdatedAt, now),
			Batches:           make([]models.Batch, 0, len(ci.Batches)),
		}
		for _, b := range ci.Batches {
			item.Batches = append(item.Batches, models.Batch{
				BatchID:        b.BatchID,
				Units:          b.Units,
				CollectionDate: parseTime(b.CollectionDate, now),
				ExpiryDate:     parseTime(b.ExpiryDate, now),
				Status:         models.BatchStatus(b.Status),
				ReservationID:  b.ReservationID,
				RequestID:      b.RequestID,
				DonorID:        b.DonorID,
			})
		}
		s.Inventory = append(s.Inventory, item)
	}

	for _, cr := range env.BloodRequests {
		r := models.BloodRequest{
			ID:              cr.ID,
			TenantID:        cr.TenantID,
			RequesterID:     cr.RequesterID,
			BloodType:       cr.BloodType,
			Units:           cr.Units,
			UnitsReceived:   cr.UnitsReceived,
			Urgency:         cr.Urgency,
			Status:          models.RequestStatus(cr.Status),
			RequestedAt:     parseTime(cr.RequestedAt, now),
			NeededBy:        parseTime(cr.NeededBy, now),
			UpdatedAt:       parseTime(cr.UpdatedAt, now),
			RespondedDonors: make([]models.RespondedDonor, 0, len(cr.RespondedDonors)),
		}
		for _, d := range cr.RespondedDonors {
			r.RespondedDonors = append(r.RespondedDonors, models.RespondedDonor{
				DonorID:     d.DonorID,
				Status:      models.ResponderStatus(d.Status),
				RespondedAt: parseTime(d.RespondedAt, now),
			})
		}
		s.BloodRequests = append(s.BloodRequests, r)
	}

	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t
}
