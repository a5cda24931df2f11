package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bloodbank-sync/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SubscribedRequestStatuses 实时订阅的用血申请状态（进行中 + 已完成，用于统计 fulfilled 数）
var SubscribedRequestStatuses = []models.RequestStatus{
	models.RequestActive,
	models.RequestPartiallyFulfilled,
	models.RequestFulfilled,
}

// DashboardRepository 看板数据仓库（库存 / 用血申请 / 预约 / 献血记录）
type DashboardRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDashboardRepository 创建看板数据仓库
func NewDashboardRepository(db *sql.DB, logger *zap.Logger) *DashboardRepository {
	return &DashboardRepository{
		db:     db,
		logger: logger,
	}
}

// ListInventory 查询租户全部血型库存（含 batches JSONB）
func (r *DashboardRepository) ListInventory(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	query := `
		SELECT
			inventory_id,
			tenant_id,
			blood_type,
			units,
			status,
			low_threshold,
			critical_threshold,
			last_restocked,
			batches,
			updated_at
		FROM blood_inventory
		WHERE tenant_id = $1
		ORDER BY blood_type
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var items []models.InventoryItem
	for rows.Next() {
		var (
			item          models.InventoryItem
			status        string
			lastRestocked sql.NullTime
			batchesJSON   []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.TenantID,
			&item.BloodType,
			&item.Units,
			&status,
			&item.LowThreshold,
			&item.CriticalThreshold,
			&lastRestocked,
			&batchesJSON,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		item.Status = models.InventoryStatus(status)
		if lastRestocked.Valid {
			item.LastRestocked = lastRestocked.Time
		}
		if len(batchesJSON) > 0 {
			if err := json.Unmarshal(batchesJSON, &item.Batches); err != nil {
				return nil, fmt.Errorf("failed to unmarshal batches for %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory: %w", err)
	}
	return items, nil
}

// ListRequests 查询租户指定状态的用血申请，按申请时间倒序
func (r *DashboardRepository) ListRequests(ctx context.Context, tenantID string, statuses []models.RequestStatus) ([]models.BloodRequest, error) {
	query := `
		SELECT
			request_id,
			tenant_id,
			requester_id,
			blood_type,
			units,
			units_received,
			urgency,
			status,
			responded_donors,
			requested_at,
			needed_by,
			updated_at
		FROM blood_requests
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
	`

	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}

	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to query blood requests: %w", err)
	}
	defer rows.Close()

	var requests []models.BloodRequest
	for rows.Next() {
		var (
			req        models.BloodRequest
			status     string
			donorsJSON []byte
			neededBy   sql.NullTime
		)
		if err := rows.Scan(
			&req.ID,
			&req.TenantID,
			&req.RequesterID,
			&req.BloodType,
			&req.Units,
			&req.UnitsReceived,
			&req.Urgency,
			&status,
			&donorsJSON,
			&req.RequestedAt,
			&neededBy,
			&req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		req.Status = models.RequestStatus(status)
		if neededBy.Valid {
			req.NeededBy = neededBy.Time
		}
		if len(donorsJSON) > 0 {
			if err := json.Unmarshal(donorsJSON, &req.RespondedDonors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal responded donors for %s: %w", req.ID, err)
			}
		}
		req.Normalize()
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blood requests: %w", err)
	}
	return requests, nil
}

// ListAppointments 一次性读取最近的预约
func (r *DashboardRepository) ListAppointments(ctx context.Context, tenantID string, limit int) ([]models.Appointment, error) {
	query := `
		SELECT
			appointment_id,
			tenant_id,
			donor_id,
			COALESCE(donor_name, ''),
			COALESCE(donor_phone, ''),
			scheduled_at,
			status
		FROM appointments
		WHERE tenant_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		var (
			a      models.Appointment
			status string
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.DonorID, &a.DonorName, &a.DonorPhone, &a.ScheduledAt, &status); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.Status = models.AppointmentStatus(status)
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

// ListDonations 一次性读取最近的献血记录
func (r *DashboardRepository) ListDonations(ctx context.Context, tenantID string, limit int) ([]models.Donation, error) {
	query := `
		SELECT
			donation_id,
			tenant_id,
			donor_id,
			COALESCE(donor_name, ''),
			blood_type,
			units,
			donation_date,
			status
		FROM donations
		WHERE tenant_id = $1
		ORDER BY donation_date DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	var donations []models.Donation
	for rows.Next() {
		var (
			d      models.Donation
			status string
		)
		if err := rows.Scan(&d.ID, &d.TenantID, &d.DonorID, &d.DonorName, &d.BloodType, &d.Units, &d.DonationDate, &status); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		d.Status = models.DonationStatus(status)
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donations: %w", err)
	}
	return donations, nil
}
