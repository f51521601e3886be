// Package pool provides a bounded goroutine pool for background workflow runs.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig returns sensible defaults for generation workloads,
// where each task holds a backend slot for minutes.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  4,
		QueueSize:   64,
		IdleTimeout: 60 * time.Second,
	}
}

type queued struct {
	ctx  context.Context
	task Task
	done chan error
}

// Pool runs tasks on at most MaxWorkers goroutines. Workers are spawned on
// demand and exit after IdleTimeout without work, keeping one alive.
type Pool struct {
	maxWorkers  int32
	idleTimeout time.Duration
	queue       chan queued
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	workers   atomic.Int32
	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a new pool.
func New(cfg Config, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		maxWorkers:  int32(cfg.MaxWorkers),
		idleTimeout: cfg.IdleTimeout,
		queue:       make(chan queued, cfg.QueueSize),
		logger:      logger.With(zap.String("component", "pool")),
	}
}

// Submit enqueues a task without waiting for it. It fails with ErrPoolFull
// when the queue is saturated.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	_, err := p.enqueue(ctx, task, false)
	return err
}

// SubmitWait enqueues a task and blocks until it finishes or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	done, err := p.enqueue(ctx, task, true)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, task Task, wait bool) (chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	p.submitted.Add(1)
	q := queued{ctx: ctx, task: task, done: make(chan error, 1)}

	p.spawn()
	if wait {
		select {
		case p.queue <- q:
		case <-ctx.Done():
			p.rejected.Add(1)
			return nil, ctx.Err()
		}
	} else {
		select {
		case p.queue <- q:
		default:
			p.rejected.Add(1)
			return nil, ErrPoolFull
		}
	}
	p.spawn()
	return q.done, nil
}

func (p *Pool) spawn() {
	for {
		n := p.workers.Load()
		if n >= p.maxWorkers || (n > 0 && p.active.Load() < n) {
			return
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.work()
			return
		}
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case q, ok := <-p.queue:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.active.Add(1)
			err := p.run(q)
			p.active.Add(-1)

			q.done <- err
			close(q.done)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)

		case <-idle.C:
			if n := p.workers.Load(); n > 1 && p.workers.CompareAndSwap(n, n-1) {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *Pool) run(q queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return q.task(q.ctx)
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
