package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bloodbank-sync/internal/dashboard"
	"bloodbank-sync/internal/notification"
	"bloodbank-sync/internal/repository"
	"bloodbank-sync/internal/session"

	"go.uber.org/zap"
)

// Backend 看板服务（service.DashboardService 实现）
type Backend interface {
	SignIn(ctx context.Context, userID, role, tenantID string) (*session.Session, error)
	SignOut()
	Dashboard() (dashboard.State, error)
	Refresh(ctx context.Context) (dashboard.State, error)
	SetVisible(visible bool)
	Focus()
	QueueStatus(ctx context.Context) (notification.Status, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
}

// DashboardHandler 看板 HTTP 接口
type DashboardHandler struct {
	backend Backend
	logger  *zap.Logger
}

func NewDashboardHandler(backend Backend, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{backend: backend, logger: logger}
}

func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Dashboard()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Refresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

type signInRequest struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId"`
}

type signInResponse struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	TenantID  string `json:"tenantId"`
	StartedAt int64  `json:"startedAt"`
}

func (h *DashboardHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("userId is required"))
		return
	}

	s, err := h.backend.SignIn(r.Context(), req.UserID, req.Role, req.TenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(signInResponse{
		UserID:    s.UserID,
		Role:      s.Role,
		TenantID:  s.TenantID,
		StartedAt: s.StartedAt.UnixMilli(),
	}))
}

func (h *DashboardHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.backend.SignOut()
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (h *DashboardHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.Visible == nil {
		writeJSON(w, http.StatusBadRequest, Fail("visible is required"))
		return
	}
	h.backend.SetVisible(*req.Visible)
	writeJSON(w, http.StatusOK, Ok(map[string]bool{"visible": *req.Visible}))
}

func (h *DashboardHandler) Focus(w http.ResponseWriter, r *http.Request) {
	h.backend.Focus()
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *DashboardHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.QueueStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

type markReadRequest struct {
	NotificationID string `json:"notificationId"`
}

func (h *DashboardHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || strings.TrimSpace(req.NotificationID) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("notificationId is required"))
		return
	}
	if err := h.backend.MarkNotificationRead(r.Context(), req.NotificationID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"notificationId": req.NotificationID}))
}

func (h *DashboardHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, dashboard.ErrNoTenant):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidSession):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotificationNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("Dashboard request failed", zap.Error(err))
	}
	writeJSON(w, status, Fail(err.Error()))
}
