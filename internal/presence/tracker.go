package presence

import (
	"sync"
	"time"
)

// EventType 宿主环境信号类型
type EventType string

const (
	EventVisible EventType = "visible"
	EventHidden  EventType = "hidden"
	EventFocus   EventType = "focus"
)

// Event 宿主环境信号
type Event struct {
	Type EventType
	At   time.Time
}

// Visibility 页面可见性查询
type Visibility interface {
	IsVisible() bool
}

// Tracker 页面可见性 / 窗口焦点信号的汇聚点（由 HTTP 上报驱动）
type Tracker struct {
	mu        sync.Mutex
	visible   bool
	nextID    int
	listeners map[int]func(Event)
	now       func() time.Time
}

// NewTracker 创建信号跟踪器，初始状态为可见
func NewTracker() *Tracker {
	return &Tracker{
		visible:   true,
		listeners: make(map[int]func(Event)),
		now:       time.Now,
	}
}

// IsVisible 实现 Visibility
func (t *Tracker) IsVisible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// SetVisible 上报可见性变化；状态未变化时不广播
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	if t.visible == visible {
		t.mu.Unlock()
		return
	}
	t.visible = visible
	t.mu.Unlock()

	ev := Event{Type: EventHidden, At: t.now()}
	if visible {
		ev.Type = EventVisible
	}
	t.emit(ev)
}

// Focus 上报窗口重新获得焦点
func (t *Tracker) Focus() {
	t.emit(Event{Type: EventFocus, At: t.now()})
}

// Subscribe 注册监听器，返回取消函数
func (t *Tracker) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) emit(ev Event) {
	t.mu.Lock()
	fns := make([]func(Event), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
