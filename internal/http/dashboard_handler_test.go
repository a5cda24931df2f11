package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bloodbank-sync/internal/dashboard"
	"bloodbank-sync/internal/notification"
	"bloodbank-sync/internal/repository"
	"bloodbank-sync/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBackend struct {
	sess       *session.Session
	state      dashboard.State
	refreshErr error
	visible    []bool
	focus      int
	signedOut  bool
	read       []string
}

func (b *stubBackend) SignIn(ctx context.Context, userID, role, tenantID string) (*session.Session, error) {
	s, err := session.Begin(ctx, userID, role, tenantID)
	if err != nil {
		return nil, err
	}
	b.sess = s
	b.state = dashboard.State{TenantID: tenantID, Loading: true}
	return s, nil
}

func (b *stubBackend) SignOut() {
	b.signedOut = true
	b.sess = nil
}

func (b *stubBackend) Dashboard() (dashboard.State, error) {
	if b.sess == nil {
		return dashboard.State{}, session.ErrNoSession
	}
	return b.state, nil
}

func (b *stubBackend) Refresh(context.Context) (dashboard.State, error) {
	if b.refreshErr != nil {
		return dashboard.State{}, b.refreshErr
	}
	return b.state, nil
}

func (b *stubBackend) SetVisible(v bool) { b.visible = append(b.visible, v) }

func (b *stubBackend) Focus() { b.focus++ }

func (b *stubBackend) QueueStatus(context.Context) (notification.Status, error) {
	return notification.Status{Eligible: b.sess != nil, Depth: 3}, nil
}

func (b *stubBackend) MarkNotificationRead(_ context.Context, id string) error {
	if b.sess == nil {
		return session.ErrNoSession
	}
	if id == "missing" {
		return repository.ErrNotificationNotFound
	}
	b.read = append(b.read, id)
	return nil
}

func newTestRouter(b Backend) *Router {
	r := NewRouter(zap.NewNop())
	r.RegisterDashboardRoutes(NewDashboardHandler(b, zap.NewNop()))
	r.RegisterHealthRoutes(nil)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestDashboard_RequiresSession(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	rec, out := do(t, r, http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(ResultError), out["code"])
	assert.Equal(t, "no active session", out["message"])
}

func TestSessionLifecycle(t *testing.T) {
	b := &stubBackend{}
	r := newTestRouter(b)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/session", `{"role":"bloodbank"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, r, http.MethodPost, "/api/v1/session", `{"userId":"user-1","role":"BloodBank","tenantId":"bank-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ResultSuccess), out["code"])
	result := out["result"].(map[string]interface{})
	assert.Equal(t, "bloodbank", result["role"])

	rec, out = do(t, r, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := out["result"].(map[string]interface{})
	assert.Equal(t, "bank-1", state["tenantId"])
	assert.Equal(t, true, state["loading"])

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/session", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, b.signedOut)

	rec, _ = do(t, r, http.MethodPut, "/api/v1/session", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefresh_Failure(t *testing.T) {
	b := &stubBackend{refreshErr: errors.New("remote unavailable")}
	r := newTestRouter(b)

	rec, out := do(t, r, http.MethodPost, "/api/v1/dashboard/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "remote unavailable", out["message"])

	rec, _ = do(t, r, http.MethodGet, "/api/v1/dashboard/refresh", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPresenceSignals(t *testing.T) {
	b := &stubBackend{}
	r := newTestRouter(b)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/presence/visibility", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/presence/visibility", `{"visible":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, r, http.MethodPost, "/api/v1/presence/focus", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []bool{false}, b.visible)
	assert.Equal(t, 1, b.focus)
}

func TestQueueStatusAndHealth(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	rec, out := do(t, r, http.MethodGet, "/api/v1/notifications/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := out["result"].(map[string]interface{})
	assert.Equal(t, float64(3), status["depth"])
	assert.Equal(t, false, status["eligible"])

	rec, out = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["result"])

	unhealthy := NewRouter(zap.NewNop())
	unhealthy.RegisterHealthRoutes(func() error { return errors.New("redis down") })
	rec, _ = do(t, unhealthy, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMarkNotificationRead(t *testing.T) {
	b := &stubBackend{}
	r := newTestRouter(b)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/notifications/read", `{"notificationId":"m1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/session", `{"userId":"u1","role":"bloodbank","tenantId":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/notifications/read", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/notifications/read", `{"notificationId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/notifications/read", `{"notificationId":"m1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m1"}, b.read)
}
