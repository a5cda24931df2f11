package models

// DerivedStats 由四个集合推导出的仪表盘统计
// Today* / Month* 字段依赖预约和献血记录，不写入本地缓存
type DerivedStats struct {
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

	TodayAppointments  int `json:"todayAppointments"`
	TodayDonations     int `json:"todayDonations"`
	MonthDonations     int `json:"monthDonations"`
	MonthDonationUnits int `json:"monthDonationUnits"`
}
