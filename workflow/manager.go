package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/pool"
	"github.com/BaSui01/scenegen/types"
)

// Store persists run reports. Get returns a NOT_FOUND error for unknown ids.
type Store interface {
	Save(ctx context.Context, rep *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, limit int) ([]*Report, error)
}

const subscriberBuffer = 64

type activeRun struct {
	run    *Run
	cancel context.CancelFunc
}

// Manager runs workflows synchronously or on a bounded goroutine pool,
// tracks in-flight runs for status and cancellation and fans events out
// to subscribers.
type Manager struct {
	engine *Engine
	store  Store
	pool   *pool.Pool
	hub    *hub
	logger *zap.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu     sync.RWMutex
	active map[string]*activeRun
}

// NewManager builds the engine from deps and wraps it. deps.Events, when
// set, still receives every event.
func NewManager(cfg config.WorkflowConfig, deps Deps, store Store) (*Manager, error) {
	if store == nil {
		return nil, errors.New("workflow: store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	next := deps.Events
	if next == nil {
		next = nopSink{}
	}
	h := &hub{next: next, subs: make(map[string]map[chan Event]struct{})}
	deps.Events = h

	engine, err := NewEngine(cfg, deps)
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		engine: engine,
		store:  store,
		pool: pool.New(pool.Config{
			MaxWorkers: cfg.Workers,
			QueueSize:  cfg.QueueSize,
		}, logger),
		hub:    h,
		logger: logger.With(zap.String("component", "run_manager")),
		ctx:    ctx,
		stop:   stop,
		active: make(map[string]*activeRun),
	}, nil
}

// Engine returns the underlying engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Run executes req on the worker pool, waits for it and stores the report.
// It shares the worker bound with Submit and waits for a free queue slot.
// Cancelling ctx cancels the run, including while it is still queued.
func (m *Manager) Run(ctx context.Context, req Request) (*Report, error) {
	run := m.engine.NewRun(req)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.track(run, cancel)
	defer m.untrack(run.ID)

	// claimed 保证同一个 run 只执行一次
	var claimed atomic.Bool
	result := make(chan *Report, 1)
	err := m.pool.SubmitWait(runCtx, func(ctx context.Context) error {
		if claimed.CompareAndSwap(false, true) {
			result <- m.engine.Execute(ctx, run)
		}
		return nil
	})

	var rep *Report
	switch {
	case err == nil:
		rep = <-result
	case errors.Is(err, pool.ErrPoolClosed):
		return nil, types.NewError(types.ErrServiceUnavailable, "workflow manager is closed").WithCause(err)
	case claimed.CompareAndSwap(false, true):
		// 排队时被取消：在当前协程生成 CANCELLED 报告
		rep = m.engine.Execute(runCtx, run)
	default:
		rep = <-result
	}
	if err := m.store.Save(context.WithoutCancel(ctx), run.Report()); err != nil {
		m.logger.Error("save report failed", zap.String("run_id", run.ID), zap.Error(err))
		return rep, err
	}
	return rep, nil
}

// Submit queues req on the worker pool and returns the run id immediately.
// A saturated queue yields SERVICE_UNAVAILABLE and leaves nothing stored.
func (m *Manager) Submit(ctx context.Context, req Request) (string, error) {
	run := m.engine.NewRun(req)
	runCtx, cancel := context.WithCancel(m.ctx)
	m.track(run, cancel)

	// 排队快照写入前不开始执行，避免覆盖最终报告
	queued := make(chan struct{})
	err := m.pool.Submit(runCtx, func(ctx context.Context) error {
		defer cancel()
		defer m.untrack(run.ID)
		<-queued
		m.engine.Execute(ctx, run)
		// 运行结束后 runCtx 可能已取消，保存使用独立的上下文
		saveCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		if err := m.store.Save(saveCtx, run.Report()); err != nil {
			m.logger.Error("save report failed", zap.String("run_id", run.ID), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		m.untrack(run.ID)
		cancel()
		if errors.Is(err, pool.ErrPoolFull) || errors.Is(err, pool.ErrPoolClosed) {
			return "", types.NewError(types.ErrServiceUnavailable, "workflow queue is full").WithCause(err)
		}
		return "", err
	}

	if err := m.store.Save(ctx, run.Report()); err != nil {
		m.logger.Warn("save queued report failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	close(queued)

	m.logger.Info("workflow submitted", zap.String("run_id", run.ID))
	return run.ID, nil
}

// Status returns the live report of an in-flight run, or the stored report.
func (m *Manager) Status(ctx context.Context, id string) (*Report, error) {
	if a := m.lookup(id); a != nil {
		return a.run.Report(), nil
	}
	return m.store.Get(ctx, id)
}

// Cancel requests cancellation of an in-flight run. A finished run yields
// IMMUTABLE, an unknown one NOT_FOUND.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if a := m.lookup(id); a != nil {
		m.logger.Info("cancelling workflow", zap.String("run_id", id))
		a.cancel()
		return nil
	}
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	return types.Errorf(types.ErrImmutable, "run %s already finished", id)
}

// List returns the most recent runs, in-flight ones included, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 50
	}
	stored, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Report, len(stored))
	for _, r := range stored {
		byID[r.ID] = r
	}
	m.mu.RLock()
	for id, a := range m.active {
		byID[id] = a.run.Report()
	}
	m.mu.RUnlock()

	out := make([]*Report, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscribe streams events of run id until it finishes. The returned func
// unsubscribes. For a finished run the channel yields one final event.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	if a := m.lookup(id); a != nil {
		ch, unsubscribe := m.hub.subscribe(a.run)
		return ch, unsubscribe, nil
	}
	rep, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return finalEvent(rep), func() {}, nil
}

// Active returns the number of in-flight runs.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// PoolStats exposes worker pool counters.
func (m *Manager) PoolStats() pool.Stats { return m.pool.Stats() }

// Close cancels every in-flight run and waits for the workers to drain.
func (m *Manager) Close() {
	m.stop()
	m.mu.RLock()
	for _, a := range m.active {
		a.cancel()
	}
	m.mu.RUnlock()
	m.pool.Close()
}

func (m *Manager) track(run *Run, cancel context.CancelFunc) {
	m.mu.Lock()
	m.active[run.ID] = &activeRun{run: run, cancel: cancel}
	m.mu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *Manager) lookup(id string) *activeRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

func finalEvent(rep *Report) <-chan Event {
	ch := make(chan Event, 1)
	ev := Event{
		RunID:    rep.ID,
		Stage:    StageFinalization,
		Status:   StatusSucceeded,
		Progress: 100,
		Outcome:  rep.Outcome,
		Time:     time.Now(),
	}
	if rep.FinishedAt != nil {
		ev.Time = *rep.FinishedAt
	}
	if !rep.Terminal() {
		// 报告仍是排队快照但运行已不在本进程中
		ev.Status = StatusPending
		ev.Outcome = ""
	}
	ch <- ev
	close(ch)
	return ch
}

// hub 按运行 id 扇出事件，慢订阅者丢事件而不阻塞引擎
type hub struct {
	next EventSink

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func (h *hub) Publish(e Event) {
	h.next.Publish(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.RunID] {
		select {
		case ch <- e:
		default:
		}
	}
	if e.Final() {
		for ch := range h.subs[e.RunID] {
			close(ch)
		}
		delete(h.subs, e.RunID)
	}
}

func (h *hub) subscribe(run *Run) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if run.Done() {
		return finalEvent(run.Report()), func() {}
	}
	ch := make(chan Event, subscriberBuffer)
	if h.subs[run.ID] == nil {
		h.subs[run.ID] = make(map[chan Event]struct{})
	}
	h.subs[run.ID][ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[run.ID][ch]; ok {
			delete(h.subs[run.ID], ch)
			close(ch)
		}
	}
}
