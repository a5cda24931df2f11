package aggregator

import "bloodbank-sync/internal/models"

// NormalizeInventory 按批次重算在库量并重新推导库存等级
// 返回新切片，不修改入参
func NormalizeInventory(items []models.InventoryItem) []models.InventoryItem {
	out := make([]models.InventoryItem, 0, len(items))
	for _, item := range items {
		item.Batches = append([]models.Batch(nil), item.Batches...)
		item.Units = OnHandUnits(item.Batches)
		item.Status = ClassifyStatus(item)
		out = append(out, item)
	}
	return out
}

// OnHandUnits available + reserved 批次的单位数之和
func OnHandUnits(batches []models.Batch) int {
	total := 0
	for _, b := range batches {
		if b.CountsTowardOnHand() && b.Units > 0 {
			total += b.Units
		}
	}
	return total
}

// ClassifyStatus 根据 units 与阈值推导库存等级
func ClassifyStatus(item models.InventoryItem) models.InventoryStatus {
	critical, low := item.Thresholds()
	switch {
	case item.Units <= critical:
		return models.InventoryCritical
	case item.Units <= low:
		return models.InventoryLow
	case item.Units >= low*models.SurplusFactor:
		return models.InventorySurplus
	default:
		return models.InventoryAdequate
	}
}
