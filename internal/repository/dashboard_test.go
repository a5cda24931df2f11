package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"bloodbank-sync/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDashboardRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DashboardRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewDashboardRepository(db, zap.NewNop())
}

func TestListInventory_Success(t *testing.T) {
	db, mock, repo := setupDashboardRepo(t)
	defer db.Close()

	updated := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	batches := `[{"batchId":"b-1","units":4,"status":"available","expiryDate":"2026-03-05T00:00:00Z"}]`

	rows := sqlmock.NewRows([]string{
		"inventory_id", "tenant_id", "blood_type", "units", "status",
		"low_threshold", "critical_threshold", "last_restocked", "batches", "updated_at",
	}).
		AddRow("inv-1", "bank-1", "O+", 4, "critical", 10, 5, updated, []byte(batches), updated).
		AddRow("inv-2", "bank-1", "A-", 0, "critical", 10, 5, nil, nil, updated)

	mock.ExpectQuery(`FROM blood_inventory`).
		WithArgs("bank-1").
		WillReturnRows(rows)

	items, err := repo.ListInventory(context.Background(), "bank-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "O+", items[0].BloodType)
	assert.Equal(t, models.InventoryCritical, items[0].Status)
	assert.Equal(t, updated, items[0].LastRestocked)
	require.Len(t, items[0].Batches, 1)
	assert.Equal(t, "b-1", items[0].Batches[0].BatchID)
	assert.Equal(t, models.BatchAvailable, items[0].Batches[0].Status)

	assert.True(t, items[1].LastRestocked.IsZero())
	assert.Empty(t, items[1].Batches)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListInventory_BadBatchesJSON(t *testing.T) {
	db, mock, repo := setupDashboardRepo(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"inventory_id", "tenant_id", "blood_type", "units", "status",
		"low_threshold", "critical_threshold", "last_restocked", "batches", "updated_at",
	}).AddRow("inv-1", "bank-1", "O+", 4, "low", 10, 5, now, []byte(`{not json`), now)

	mock.ExpectQuery(`FROM blood_inventory`).WithArgs("bank-1").WillReturnRows(rows)

	_, err := repo.ListInventory(context.Background(), "bank-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "inv-1")
}

func TestListInventory_QueryError(t *testing.T) {
	db, mock, repo := setupDashboardRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM blood_inventory`).WithArgs("bank-1").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListInventory(context.Background(), "bank-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestListRequests_NormalizesFulfilled(t *testing.T) {
	db, mock, repo := setupDashboardRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	donors := `[{"donorId":"d-1","donorName":"Ana","status":"confirmed","respondedAt":"2026-03-01T07:00:00Z"}]`

	rows := sqlmock.NewRows([]string{
		"request_id", "tenant_id", "requester_id", "blood_type", "units", "units_received",
		"urgency", "status", "responded_donors", "requested_at", "needed_by", "updated_at",
	}).
		AddRow("req-1", "bank-1", "hosp-1", "B+", 3, 5, "urgent", "fulfilled", []byte(donors), now, now, now).
		AddRow("req-2", "bank-1", "hosp-2", "O-", 2, 0, "normal", "active", nil, now, nil, now)

	mock.ExpectQuery(`FROM blood_requests`).
		WithArgs("bank-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	requests, err := repo.ListRequests(context.Background(), "bank-1", SubscribedRequestStatuses)
	require.NoError(t, err)
	require.Len(t, requests, 2)

	assert.Equal(t, 3, requests[0].UnitsReceived)
	require.Len(t, requests[0].RespondedDonors, 1)
	assert.Equal(t, models.ResponderConfirmed, requests[0].RespondedDonors[0].Status)
	assert.Equal(t, models.RequestActive, requests[1].Status)
	assert.True(t, requests[1].NeededBy.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppointmentsAndDonations(t *testing.T) {
	db, mock, repo := setupDashboardRepo(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM appointments`).
		WithArgs("bank-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"appointment_id", "tenant_id", "donor_id", "donor_name", "donor_phone", "scheduled_at", "status",
		}).AddRow("apt-1", "bank-1", "d-1", "Ana", "+1-555-0100", now, "no-show"))

	mock.ExpectQuery(`FROM donations`).
		WithArgs("bank-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"donation_id", "tenant_id", "donor_id", "donor_name", "blood_type", "units", "donation_date", "status",
		}).AddRow("don-1", "bank-1", "d-1", "Ana", "A+", 1, now, "completed"))

	appointments, err := repo.ListAppointments(context.Background(), "bank-1", 50)
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	assert.Equal(t, models.AppointmentNoShow, appointments[0].Status)
	assert.True(t, appointments[0].Status.IsTerminal())

	donations, err := repo.ListDonations(context.Background(), "bank-1", 50)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.Equal(t, models.DonationCompleted, donations[0].Status)
	assert.Equal(t, 1, donations[0].Units)

	require.NoError(t, mock.ExpectationsWereMet())
}
