package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ActivityTracker 在途请求计数（scheduler.Activity 实现）
type ActivityTracker interface {
	Begin()
	End()
}

// Router 使用标准库 http.ServeMux
type Router struct {
	mux      *http.ServeMux
	logger   *zap.Logger
	activity ActivityTracker
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// TrackActivity 让空闲调度感知在途请求
func (r *Router) TrackActivity(a ActivityTracker) {
	r.activity = a
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.activity != nil {
		r.activity.Begin()
		defer r.activity.End()
	}
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// RegisterDashboardRoutes 看板读模型 / 会话 / 页面信号 / 通知队列
func (r *Router) RegisterDashboardRoutes(h *DashboardHandler) {
	r.Handle("/api/v1/dashboard", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.GetDashboard(w, req)
	})
	r.Handle("/api/v1/dashboard/refresh", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.Refresh(w, req)
	})

	r.Handle("/api/v1/session", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			h.SignIn(w, req)
		case http.MethodDelete:
			h.SignOut(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/presence/visibility", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.SetVisibility(w, req)
	})
	r.Handle("/api/v1/presence/focus", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.Focus(w, req)
	})

	r.Handle("/api/v1/notifications/queue", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.QueueStatus(w, req)
	})
	r.Handle("/api/v1/notifications/read", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.MarkNotificationRead(w, req)
	})
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes(check func() error) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		if check != nil {
			if err := check(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, Fail(err.Error()))
				return
			}
		}
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}
