package aggregator

import (
	"time"

	"bloodbank-sync/internal/models"
)

// 批次临期统计的两个窗口
const (
	ShortExpiryHorizon = 7 * 24 * time.Hour
	LongExpiryHorizon  = 30 * 24 * time.Hour
)

// ComputeStats 从四个内存集合推导统计；纯函数，允许任意集合为空
// inventory 需已经过 NormalizeInventory
func ComputeStats(
	inventory []models.InventoryItem,
	requests []models.BloodRequest,
	appointments []models.Appointment,
	donations []models.Donation,
	now time.Time,
) models.DerivedStats {
	var s models.DerivedStats

	shortEdge := now.Add(ShortExpiryHorizon)
	longEdge := now.Add(LongExpiryHorizon)

	for _, item := range inventory {
		s.TotalUnits += item.Units
		switch item.Status {
		case models.InventoryCritical:
			s.CriticalTypes++
		case models.InventoryLow:
			s.LowTypes++
		case models.InventorySurplus:
			s.SurplusTypes++
		default:
			s.AdequateTypes++
		}

		for _, b := range item.Batches {
			if !b.CountsTowardOnHand() || b.Units <= 0 {
				continue
			}
			if b.Status == models.BatchReserved {
				s.ReservedUnits += b.Units
			} else {
				s.AvailableUnits += b.Units
			}
			if b.ExpiryDate.IsZero() || !b.ExpiryDate.After(now) {
				continue
			}
			if !b.ExpiryDate.After(shortEdge) {
				s.ExpiringIn7Days += b.Units
			}
			if !b.ExpiryDate.After(longEdge) {
				s.ExpiringIn30Days += b.Units
			}
		}
	}

	for _, r := range requests {
		switch {
		case r.Status.IsOpen():
			s.ActiveRequests++
		case r.Status == models.RequestFulfilled:
			s.FulfilledRequests++
		}
	}

	dayStart, dayEnd := LocalDay(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	for _, a := range appointments {
		if within(a.ScheduledAt, dayStart, dayEnd) {
			s.TodayAppointments++
		}
	}

	for _, d := range donations {
		if d.Status != models.DonationCompleted {
			continue
		}
		if within(d.DonationDate, dayStart, dayEnd) {
			s.TodayDonations++
		}
		if within(d.DonationDate, monthStart, monthEnd) {
			s.MonthDonations++
			s.MonthDonationUnits += d.Units
		}
	}

	return s
}

// LocalDay 返回 now 所在本地日的 [00:00, 次日00:00)
func LocalDay(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

func within(t, from, to time.Time) bool {
	if t.IsZero() {
		return false
	}
	t = t.In(from.Location())
	return !t.Before(from) && t.Before(to)
}
