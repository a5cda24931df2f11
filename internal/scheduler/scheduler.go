package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle 由 Scheduler 返回的可取消句柄，持有者负责调用 Cancel
type Handle interface {
	Cancel()
}

// Scheduler 空闲优先调度 + 周期定时
type Scheduler interface {
	// RequestIdle 在宿主空闲时执行 fn；超过 timeout 仍未空闲则直接执行
	RequestIdle(fn func(), timeout time.Duration) Handle
	// Every 每隔 interval 执行一次 fn（首次在 interval 之后）
	Every(interval time.Duration, fn func()) Handle
}

// IdleSignal 宿主空闲信号；Idle 返回的 channel 在空闲时可读
type IdleSignal interface {
	Idle() <-chan struct{}
}

// Runtime 默认调度器：有空闲信号时等待空闲，否则退化为零延迟回调
type Runtime struct {
	idle IdleSignal
}

// New 创建调度器；idle 为 nil 时使用零延迟回退
func New(idle IdleSignal) *Runtime {
	return &Runtime{idle: idle}
}

type handle struct {
	once   sync.Once
	done   chan struct{}
	timer  *time.Timer
	ticker *time.Ticker
	fired  atomic.Bool
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

func (h *handle) Cancel() {
	h.once.Do(func() {
		close(h.done)
		if h.timer != nil {
			h.timer.Stop()
		}
		if h.ticker != nil {
			h.ticker.Stop()
		}
	})
}

func (h *handle) cancelled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// RequestIdle 实现 Scheduler
func (r *Runtime) RequestIdle(fn func(), timeout time.Duration) Handle {
	h := newHandle()
	run := func() {
		if h.cancelled() || !h.fired.CompareAndSwap(false, true) {
			return
		}
		fn()
	}

	if r.idle == nil {
		h.timer = time.AfterFunc(0, run)
		return h
	}

	go func() {
		var deadline <-chan time.Time
		if timeout > 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-h.done:
		case <-r.idle.Idle():
			run()
		case <-deadline:
			run()
		}
	}()
	return h
}

// Every 实现 Scheduler
func (r *Runtime) Every(interval time.Duration, fn func()) Handle {
	h := newHandle()
	h.ticker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-h.ticker.C:
				if h.cancelled() {
					return
				}
				fn()
			}
		}
	}()
	return h
}

// Group 一组句柄，统一取消
type Group struct {
	mu      sync.Mutex
	handles []Handle
}

// Add 登记句柄
func (g *Group) Add(h Handle) {
	if h == nil {
		return
	}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// CancelAll 取消全部句柄并清空
func (g *Group) CancelAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// Activity 以在途请求数作为空闲信号：没有在途请求时视为空闲
type Activity struct {
	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

// NewActivity 创建空闲信号，初始为空闲
func NewActivity() *Activity {
	idle := make(chan struct{})
	close(idle)
	return &Activity{idle: idle}
}

// Begin 请求开始
func (a *Activity) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight == 0 {
		a.idle = make(chan struct{})
	}
	a.inflight++
}

// End 请求结束
func (a *Activity) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight == 0 {
		return
	}
	a.inflight--
	if a.inflight == 0 {
		close(a.idle)
	}
}

// Idle 实现 IdleSignal
func (a *Activity) Idle() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle
}
