package mesh

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/retry"
	"github.com/BaSui01/scenegen/types"
)

// Task 异步网格任务句柄。Wait 期间由轮询循环独占，返回后调用方只读
type Task struct {
	ID          string        `json:"id"`
	Seed        int64         `json:"seed,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Interval    time.Duration `json:"poll_interval"`
	MaxInterval time.Duration `json:"max_interval"`
	Deadline    time.Time     `json:"deadline"`
	LastStatus  Status        `json:"last_status"`
	Progress    int           `json:"progress"`
	Polls       int           `json:"polls"`
}

// TaskClient 轮询循环依赖的最小接口，*Client 满足该接口
type TaskClient interface {
	Poll(ctx context.Context, task *Task) (TaskStatus, error)
	Download(ctx context.Context, task *Task) (*types.Artifact, error)
}

// Clock 可注入的时钟
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock 返回基于 time 包的时钟
func SystemClock() Clock { return systemClock{} }

// PollRecorder 接收每次轮询观测到的状态，*metrics.Collector 满足该接口
type PollRecorder interface {
	RecordPoll(status string)
}

type nopPollRecorder struct{}

func (nopPollRecorder) RecordPoll(string) {}

// PollConfig 轮询节奏
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	// Deadline 从开始等待起算的总时长
	Deadline time.Duration
}

// DefaultPollConfig 返回默认轮询配置
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    2 * time.Second,
		MaxInterval: 15 * time.Second,
		Multiplier:  1.5,
		Deadline:    10 * time.Minute,
	}
}

// PollConfigFrom 从工作流配置读取轮询节奏
func PollConfigFrom(cfg config.WorkflowConfig) PollConfig {
	return PollConfig{
		Interval:    cfg.PollInterval,
		MaxInterval: cfg.MaxPollInterval,
		Multiplier:  cfg.PollMultiplier,
		Deadline:    cfg.TaskDeadline,
	}
}

func (c PollConfig) normalize() PollConfig {
	d := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = d.Multiplier
	}
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	return c
}

// Poller 等待异步任务到达终态
type Poller struct {
	client     TaskClient
	cfg        PollConfig
	clock      Clock
	recorder   PollRecorder
	onProgress func(Task)
	logger     *zap.Logger
}

// NewPoller 创建轮询器
func NewPoller(client TaskClient, cfg PollConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:   client,
		cfg:      cfg.normalize(),
		clock:    SystemClock(),
		recorder: nopPollRecorder{},
		logger:   logger.With(zap.String("component", "mesh_poller")),
	}
}

// WithClock 替换时钟（测试用）
func (p *Poller) WithClock(c Clock) *Poller {
	if c != nil {
		p.clock = c
	}
	return p
}

// WithRecorder 设置轮询观测
func (p *Poller) WithRecorder(r PollRecorder) *Poller {
	if r != nil {
		p.recorder = r
	}
	return p
}

// WithProgress 每次成功轮询后回调任务快照
func (p *Poller) WithProgress(fn func(Task)) *Poller {
	p.onProgress = fn
	return p
}

// Config 返回生效的轮询配置
func (p *Poller) Config() PollConfig { return p.cfg }

// Wait 轮询直到任务完成、失败、超过 Deadline 或 ctx 结束。
// 第一次轮询立即发生；每次等待都被截断到 Deadline，到点后再轮询一次才判定 TIMEOUT。
func (p *Poller) Wait(ctx context.Context, task *Task) (*types.Artifact, error) {
	start := p.clock.Now()
	deadline := start.Add(p.cfg.Deadline)
	task.Interval = p.cfg.Interval
	task.MaxInterval = p.cfg.MaxInterval
	task.Deadline = deadline

	backoff := retry.Backoff{
		Initial:    p.cfg.Interval,
		Max:        p.cfg.MaxInterval,
		Multiplier: p.cfg.Multiplier,
	}
	logger := p.logger.With(zap.String("task_id", task.ID))

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, backend.ContextError(ctx, BackendName)
		}

		st, err := p.client.Poll(ctx, task)
		task.Polls++
		if err != nil {
			if ctx.Err() != nil {
				return nil, backend.ContextError(ctx, BackendName).WithCause(err)
			}
			p.recorder.RecordPoll("error_transient")
			logger.Warn("transient poll failure", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			task.LastStatus = st.Status
			task.Progress = st.Progress
			p.recorder.RecordPoll(string(st.Status))
			if p.onProgress != nil {
				p.onProgress(*task)
			}

			switch st.Status {
			case StatusCompleted:
				logger.Info("mesh task completed",
					zap.Int("polls", task.Polls),
					zap.Duration("waited", p.clock.Now().Sub(start)),
				)
				if st.Artifact != nil {
					return st.Artifact, nil
				}
				return p.client.Download(ctx, task)
			case StatusError:
				msg := st.Message
				if msg == "" {
					msg = "mesh task failed"
				}
				return nil, types.NewError(types.ErrGenerationFailed, msg).WithBackend(BackendName)
			}
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			logger.Warn("mesh task deadline exceeded",
				zap.Int("polls", task.Polls),
				zap.String("last_status", string(task.LastStatus)),
			)
			return nil, types.NewError(types.ErrTimeout,
				fmt.Sprintf("task %s not completed within %s", task.ID, p.cfg.Deadline)).
				WithBackend(BackendName)
		}

		wait := backoff.Next(attempt)
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, backend.ContextError(ctx, BackendName)
		case <-p.clock.After(wait):
		}
	}
}
