// Package circuitbreaker 为单个后端提供熔断保护，连续的可用性故障会让后续调用快速失败。
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int

	// ResetTimeout 从 Open 到 HalfOpen 的等待时间
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开状态下允许的最大试探请求数
	HalfOpenMaxCalls int

	// IsFailure 判定错误是否计入熔断（默认仅 SERVICE_UNAVAILABLE 与 TIMEOUT）
	IsFailure func(err error) bool

	// OnStateChange 状态变更回调
	OnStateChange func(backend string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker 熔断器
type Breaker struct {
	backend string
	config  Config
	logger  *zap.Logger
	now     func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// New 为指定后端创建熔断器
func New(backend string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := *config
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}
	return &Breaker{
		backend: backend,
		config:  c,
		logger:  logger.With(zap.String("component", "circuit_breaker"), zap.String("backend", backend)),
		now:     time.Now,
		state:   StateClosed,
	}
}

// countsAsFailure 生成失败、参数错误属于请求本身的问题，不代表后端不可用
func countsAsFailure(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrServiceUnavailable, types.ErrTimeout:
		return true
	default:
		return false
	}
}

// Call 执行调用，熔断器打开时直接返回 SERVICE_UNAVAILABLE
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			return types.NewError(types.ErrServiceUnavailable, "circuit open").WithBackend(b.backend)
		}
		b.setState(StateHalfOpen)
		b.halfOpenCalls = 0
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return types.NewError(types.ErrServiceUnavailable, "circuit half-open, trial call in flight").WithBackend(b.backend)
		}
		b.halfOpenCalls++
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.config.IsFailure(err) {
		if b.state == StateHalfOpen {
			b.logger.Info("熔断器恢复正常")
			b.setState(StateClosed)
		}
		b.failures = 0
		b.halfOpenCalls = 0
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.config.Threshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failures),
				zap.Int("threshold", b.config.Threshold),
				zap.Error(err),
			)
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态试探失败，重新打开", zap.Error(err))
		b.openedAt = b.now()
		b.halfOpenCalls = 0
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil && from != to {
		go b.config.OnStateChange(b.backend, from, to)
	}
}

// State 返回当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenCalls = 0
	b.setState(StateClosed)
}
