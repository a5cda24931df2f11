package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidSession 缺少用户 ID
	ErrInvalidSession = errors.New("session requires a user id")
	// ErrNoSession 当前没有登录会话
	ErrNoSession = errors.New("no active session")
)

// Session 已登录用户会话：登录时创建，退出时 End
// 替代全局鉴权状态，由调用方显式传递
type Session struct {
	UserID    string
	Role      string
	TenantID  string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Begin 登录时创建会话
func Begin(parent context.Context, userID, role, tenantID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidSession
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		UserID:    userID,
		Role:      strings.ToLower(strings.TrimSpace(role)),
		TenantID:  strings.TrimSpace(tenantID),
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Context 会话存活期间有效的 context
func (s *Session) Context() context.Context {
	return s.ctx
}

// Active 会话是否仍然有效
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	return s.ctx.Err() == nil
}

// End 退出登录，可重复调用
func (s *Session) End() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// HasRole 角色是否在允许集合内
func (s *Session) HasRole(allowed map[string]bool) bool {
	if s == nil {
		return false
	}
	return allowed[s.Role]
}
