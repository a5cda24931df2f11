package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bloodbank-sync/internal/aggregator"
	"bloodbank-sync/internal/cache"
	"bloodbank-sync/internal/models"
	"bloodbank-sync/internal/presence"
	"bloodbank-sync/internal/scheduler"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoTenant 引擎尚未绑定租户
var ErrNoTenant = errors.New("dashboard engine has no tenant")

const cacheReadTimeout = 2 * time.Second

// Subscription 实时订阅句柄
type Subscription interface {
	Stop()
}

// Source 看板数据来源
type Source interface {
	SubscribeInventory(tenantID string, next func([]models.InventoryItem), fail func(error)) (Subscription, error)
	SubscribeRequests(tenantID string, next func([]models.BloodRequest), fail func(error)) (Subscription, error)
	FetchInventory(ctx context.Context, tenantID string) ([]models.InventoryItem, error)
	FetchRequests(ctx context.Context, tenantID string) ([]models.BloodRequest, error)
	FetchAppointments(ctx context.Context, tenantID string) ([]models.Appointment, error)
	FetchDonations(ctx context.Context, tenantID string) ([]models.Donation, error)
}

// Cache 本地缓存（cache.Manager 实现）
type Cache interface {
	Load(ctx context.Context, tenantID string) (*cache.Snapshot, error)
	Save(ctx context.Context, tenantID string, snap cache.Snapshot) error
}

// State 看板读模型
type State struct {
	TenantID      string                `json:"tenantId"`
	Inventory     []models.InventoryItem `json:"inventory"`
	BloodRequests []models.BloodRequest  `json:"bloodRequests"`
	Appointments  []models.Appointment   `json:"appointments"`
	Donations     []models.Donation      `json:"donations"`
	Stats         models.DerivedStats    `json:"stats"`
	Loading       bool                   `json:"loading"`
	Error         string                 `json:"error,omitempty"`
	FromCache     bool                   `json:"fromCache"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Options 引擎参数
type Options struct {
	CacheFreshness    time.Duration
	SecondaryInterval time.Duration
	IdleTimeout       time.Duration
}

// Deps 引擎依赖
type Deps struct {
	Source     Source
	Cache      Cache
	Scheduler  scheduler.Scheduler
	Visibility presence.Visibility
	Logger     *zap.Logger
}

// run 一次租户绑定的生命周期；alive 为 false 后所有迟到的回调都是空操作
type run struct {
	tenantID string
	alive    bool
	ctx      context.Context
	cancel   context.CancelFunc
	handles  scheduler.Group
	subs     []Subscription

	inventoryReady bool
	requestsReady  bool
	secondaryOn    bool

	saving      bool
	pendingSave *cache.Snapshot
}

// Engine 看板同步引擎
type Engine struct {
	deps Deps
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	run       *run
	state     State
	seq       uint64
	nextID    int
	listeners map[int]func(State)

	// emitMu 串行化监听器投递；delivered 为最近一次已投递的序号
	emitMu    sync.Mutex
	delivered uint64
}

// stateEvent 带序号的状态快照，序号在 mu 内分配
type stateEvent struct {
	seq   uint64
	state State
}

// NewEngine 创建看板同步引擎
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.CacheFreshness <= 0 {
		opts.CacheFreshness = 5 * time.Minute
	}
	if opts.SecondaryInterval <= 0 {
		opts.SecondaryInterval = 5 * time.Minute
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		deps:      deps,
		opts:      opts,
		now:       time.Now,
		listeners: make(map[int]func(State)),
	}
}

// State 返回当前读模型
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnChange 注册读模型变更监听，返回取消函数
// 回调按状态产生顺序串行执行，旧状态不会晚于新状态送达
// 回调内不能调用 SetTenant / Detach / RefreshData
func (e *Engine) OnChange(fn func(State)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// SetTenant 绑定租户并启动同步；租户变化时先拆除上一轮的订阅和定时器
// 空租户只拆除不启动
func (e *Engine) SetTenant(tenantID string) {
	e.mu.Lock()
	if e.run != nil && e.run.tenantID == tenantID {
		e.mu.Unlock()
		return
	}
	e.teardownLocked()
	e.state = State{TenantID: tenantID, Loading: tenantID != ""}
	if tenantID == "" {
		st := e.eventLocked()
		e.mu.Unlock()
		e.emit(st)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{tenantID: tenantID, alive: true, ctx: ctx, cancel: cancel}
	e.run = r
	st := e.eventLocked()
	e.mu.Unlock()

	e.deps.Logger.Info("Dashboard engine attached", zap.String("tenant_id", tenantID))
	e.emit(st)
	e.start(r)
}

// Detach 拆除当前租户的全部订阅和定时器
func (e *Engine) Detach() {
	e.mu.Lock()
	if e.run == nil {
		e.mu.Unlock()
		return
	}
	tenantID := e.run.tenantID
	e.teardownLocked()
	e.state = State{}
	st := e.eventLocked()
	e.mu.Unlock()

	e.deps.Logger.Info("Dashboard engine detached", zap.String("tenant_id", tenantID))
	e.emit(st)
}

func (e *Engine) teardownLocked() {
	r := e.run
	if r == nil {
		return
	}
	r.alive = false
	r.cancel()
	r.handles.CancelAll()
	for _, s := range r.subs {
		s.Stop()
	}
	r.subs = nil
	e.run = nil
}

// start 启动顺序：缓存快速路径 → 空闲时主订阅 → 两个主订阅都到达后空闲时次要读取 + 周期刷新
func (e *Engine) start(r *run) {
	e.readCache(r)

	h := e.deps.Scheduler.RequestIdle(func() { e.primaryFetch(r) }, e.opts.IdleTimeout)
	e.own(r, h)
}

func (e *Engine) readCache(r *run) {
	if e.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, cacheReadTimeout)
	snap, err := e.deps.Cache.Load(ctx, r.tenantID)
	cancel()
	if err != nil {
		e.deps.Logger.Debug("Dashboard cache miss", zap.String("tenant_id", r.tenantID), zap.Error(err))
		return
	}
	now := e.now()
	if !snap.IsFresh(now, e.opts.CacheFreshness) {
		e.deps.Logger.Debug("Dashboard cache is stale",
			zap.String("tenant_id", r.tenantID),
			zap.Time("cached_at", snap.Timestamp),
		)
		return
	}

	e.mu.Lock()
	if !r.alive || r.inventoryReady || r.requestsReady {
		e.mu.Unlock()
		return
	}
	e.state.Inventory = aggregator.NormalizeInventory(snap.Inventory)
	e.state.BloodRequests = snap.BloodRequests
	var stats models.DerivedStats
	snap.Stats.Apply(&stats)
	e.state.Stats = stats
	e.state.Loading = false
	e.state.FromCache = true
	e.state.UpdatedAt = snap.Timestamp
	st := e.eventLocked()
	e.mu.Unlock()

	e.deps.Logger.Info("Dashboard served from cache", zap.String("tenant_id", r.tenantID))
	e.emit(st)
}

// own 把句柄登记到 run；run 已结束时立即取消
func (e *Engine) own(r *run, h scheduler.Handle) {
	e.mu.Lock()
	alive := r.alive
	if alive {
		r.handles.Add(h)
	}
	e.mu.Unlock()
	if !alive {
		h.Cancel()
	}
}

func (e *Engine) ownSub(r *run, s Subscription) {
	e.mu.Lock()
	alive := r.alive
	if alive {
		r.subs = append(r.subs, s)
	}
	e.mu.Unlock()
	if !alive {
		s.Stop()
	}
}

func (e *Engine) isAlive(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.alive
}

func (e *Engine) primaryFetch(r *run) {
	if !e.isAlive(r) {
		return
	}

	inv, err := e.deps.Source.SubscribeInventory(r.tenantID,
		func(items []models.InventoryItem) { e.onInventory(r, items) },
		func(err error) { e.onPrimaryError(r, "inventory", err) },
	)
	if err != nil {
		e.onPrimaryError(r, "inventory", fmt.Errorf("failed to subscribe inventory: %w", err))
		return
	}
	e.ownSub(r, inv)

	req, err := e.deps.Source.SubscribeRequests(r.tenantID,
		func(requests []models.BloodRequest) { e.onRequests(r, requests) },
		func(err error) { e.onPrimaryError(r, "blood_requests", err) },
	)
	if err != nil {
		e.onPrimaryError(r, "blood_requests", fmt.Errorf("failed to subscribe blood requests: %w", err))
		return
	}
	e.ownSub(r, req)
}

func (e *Engine) onInventory(r *run, items []models.InventoryItem) {
	e.mu.Lock()
	if !r.alive {
		e.mu.Unlock()
		return
	}
	e.state.Inventory = aggregator.NormalizeInventory(items)
	r.inventoryReady = true
	st := e.applyLocked(r)
	e.mu.Unlock()
	e.emit(st)
}

func (e *Engine) onRequests(r *run, requests []models.BloodRequest) {
	e.mu.Lock()
	if !r.alive {
		e.mu.Unlock()
		return
	}
	e.state.BloodRequests = normalizeRequests(requests)
	r.requestsReady = true
	st := e.applyLocked(r)
	e.mu.Unlock()
	e.emit(st)
}

// applyLocked 实时数据到达后的统一收尾：重算统计、结束加载、调度次要读取、写缓存
func (e *Engine) applyLocked(r *run) stateEvent {
	e.state.FromCache = false
	e.state.Error = ""
	e.recomputeLocked()

	if r.inventoryReady && r.requestsReady {
		e.state.Loading = false
		if !r.secondaryOn {
			r.secondaryOn = true
			r.handles.Add(e.deps.Scheduler.RequestIdle(func() { e.secondaryFetch(r) }, 2*e.opts.IdleTimeout))
			r.handles.Add(e.deps.Scheduler.Every(e.opts.SecondaryInterval, func() {
				if e.visible() {
					e.secondaryFetch(r)
				}
			}))
		}
	}
	if !e.state.Loading {
		e.persistLocked(r)
	}
	return e.eventLocked()
}

func (e *Engine) recomputeLocked() {
	now := e.now()
	e.state.Stats = aggregator.ComputeStats(e.state.Inventory, e.state.BloodRequests, e.state.Appointments, e.state.Donations, now)
	e.state.UpdatedAt = now
}

func (e *Engine) visible() bool {
	if e.deps.Visibility == nil {
		return true
	}
	return e.deps.Visibility.IsVisible()
}

func (e *Engine) onPrimaryError(r *run, collection string, err error) {
	e.mu.Lock()
	if !r.alive {
		e.mu.Unlock()
		return
	}
	e.state.Error = err.Error()
	e.state.Loading = false
	st := e.eventLocked()
	e.mu.Unlock()

	e.deps.Logger.Error("Dashboard primary fetch failed",
		zap.String("tenant_id", r.tenantID),
		zap.String("collection", collection),
		zap.Error(err),
	)
	e.emit(st)
}

// secondaryFetch 并发读取预约和献血记录；失败只记录日志
func (e *Engine) secondaryFetch(r *run) {
	if !e.isAlive(r) {
		return
	}

	var (
		appointments []models.Appointment
		donations    []models.Donation
		aptErr       error
		donErr       error
		g            errgroup.Group
	)
	g.Go(func() error {
		appointments, aptErr = e.deps.Source.FetchAppointments(r.ctx, r.tenantID)
		return nil
	})
	g.Go(func() error {
		donations, donErr = e.deps.Source.FetchDonations(r.ctx, r.tenantID)
		return nil
	})
	_ = g.Wait()

	if aptErr != nil {
		e.deps.Logger.Warn("Failed to fetch appointments", zap.String("tenant_id", r.tenantID), zap.Error(aptErr))
	}
	if donErr != nil {
		e.deps.Logger.Warn("Failed to fetch donations", zap.String("tenant_id", r.tenantID), zap.Error(donErr))
	}
	if aptErr != nil && donErr != nil {
		return
	}

	e.mu.Lock()
	if !r.alive {
		e.mu.Unlock()
		return
	}
	if aptErr == nil {
		e.state.Appointments = appointments
	}
	if donErr == nil {
		e.state.Donations = donations
	}
	e.recomputeLocked()
	if !e.state.Loading {
		e.persistLocked(r)
	}
	st := e.eventLocked()
	e.mu.Unlock()
	e.emit(st)
}

// RefreshData 并发一次性读取四个集合并整体替换；绕过缓存，不重建订阅
func (e *Engine) RefreshData(ctx context.Context) error {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return ErrNoTenant
	}

	var (
		inventory    []models.InventoryItem
		requests     []models.BloodRequest
		appointments []models.Appointment
		donations    []models.Donation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inventory, err = e.deps.Source.FetchInventory(gctx, r.tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = e.deps.Source.FetchRequests(gctx, r.tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		appointments, err = e.deps.Source.FetchAppointments(gctx, r.tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		donations, err = e.deps.Source.FetchDonations(gctx, r.tenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		e.deps.Logger.Warn("Dashboard refresh failed", zap.String("tenant_id", r.tenantID), zap.Error(err))
		return fmt.Errorf("failed to refresh dashboard: %w", err)
	}

	e.mu.Lock()
	if !r.alive {
		e.mu.Unlock()
		return ErrNoTenant
	}
	e.state.Inventory = aggregator.NormalizeInventory(inventory)
	e.state.BloodRequests = normalizeRequests(requests)
	e.state.Appointments = appointments
	e.state.Donations = donations
	e.state.FromCache = false
	e.state.Error = ""
	e.state.Loading = false
	e.recomputeLocked()
	e.persistLocked(r)
	st := e.eventLocked()
	e.mu.Unlock()

	e.emit(st)
	return nil
}

// persistLocked 异步写缓存；同一 run 内串行写入，只保留最新一份待写快照
func (e *Engine) persistLocked(r *run) {
	if e.deps.Cache == nil {
		return
	}
	snap := cache.Snapshot{
		Timestamp:     e.now(),
		Inventory:     e.state.Inventory,
		BloodRequests: e.state.BloodRequests,
		Stats:         cache.StatsSubset(e.state.Stats),
	}
	r.pendingSave = &snap
	if r.saving {
		return
	}
	r.saving = true
	go e.saveLoop(r)
}

func (e *Engine) saveLoop(r *run) {
	for {
		e.mu.Lock()
		snap := r.pendingSave
		r.pendingSave = nil
		if snap == nil {
			r.saving = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cacheReadTimeout)
		if err := e.deps.Cache.Save(ctx, r.tenantID, *snap); err != nil {
			e.deps.Logger.Warn("Failed to save dashboard cache", zap.String("tenant_id", r.tenantID), zap.Error(err))
		}
		cancel()
	}
}

// eventLocked 为当前状态分配递增序号
func (e *Engine) eventLocked() stateEvent {
	e.seq++
	return stateEvent{seq: e.seq, state: e.state}
}

// emit 串行投递；序号不大于已投递序号的旧状态直接丢弃
func (e *Engine) emit(ev stateEvent) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if ev.seq <= e.delivered {
		return
	}
	e.delivered = ev.seq

	e.mu.Lock()
	fns := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev.state)
	}
}

func normalizeRequests(requests []models.BloodRequest) []models.BloodRequest {
	out := make([]models.BloodRequest, len(requests))
	copy(out, requests)
	for i := range out {
		out[i].Normalize()
	}
	return out
}
