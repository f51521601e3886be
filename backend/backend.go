package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/scenegen/internal/circuitbreaker"
	"github.com/BaSui01/scenegen/internal/retry"
	"github.com/BaSui01/scenegen/internal/telemetry"
	"github.com/BaSui01/scenegen/types"
)

// Recorder 接收每次后端调用的观测结果，*metrics.Collector 满足该接口
type Recorder interface {
	RecordBackendCall(backend, operation, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendCall(string, string, string, time.Duration) {}

// NopRecorder 返回丢弃所有观测的 Recorder
func NopRecorder() Recorder { return nopRecorder{} }

// GuardConfig 配置单个后端的调用约束
type GuardConfig struct {
	Name          string
	MaxConcurrent int
	Retry         *retry.Policy
	Breaker       *circuitbreaker.Config
	Recorder      Recorder
	Logger        *zap.Logger
}

// Guard 为单个后端组合并发上限、熔断、重试与观测
type Guard struct {
	name     string
	sem      *semaphore.Weighted
	retryer  retry.Retryer
	breaker  *circuitbreaker.Breaker
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewGuard 创建 Guard
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = NopRecorder()
	}
	return &Guard{
		name:     cfg.Name,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		retryer:  retry.NewBackoffRetryer(cfg.Retry, logger),
		breaker:  circuitbreaker.New(cfg.Name, cfg.Breaker, logger),
		recorder: recorder,
		tracer:   telemetry.Tracer(),
		logger:   logger,
	}
}

// Name 返回后端名称
func (g *Guard) Name() string { return g.name }

// Breaker 返回底层熔断器
func (g *Guard) Breaker() *circuitbreaker.Breaker { return g.breaker }

// Do 在并发上限、熔断与重试保护下执行 fn
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.run(ctx, op, modeRetry, fn)
}

// Once 与 Do 相同但不重试，用于非幂等调用（如异步提交）
func (g *Guard) Once(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.run(ctx, op, modeOnce, fn)
}

// Observe 只记录观测，不占用并发槽位也不经过熔断，用于健康检查与状态轮询
func (g *Guard) Observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.run(ctx, op, modeObserve, fn)
}

// Fetch 与 Do 相同，并返回最后一次成功调用的结果
//
//	data, err := backend.Fetch(ctx, guard, "download", func(ctx context.Context) ([]byte, error) {
//	    raw, _, err := backend.DoBytes(ctx, client, http.MethodGet, url, nil, name)
//	    return raw, err
//	})
func Fetch[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return invoke(ctx, g, op, modeRetry, fn)
}

type callMode int

const (
	modeRetry callMode = iota
	modeOnce
	modeObserve
)

func (g *Guard) run(ctx context.Context, op string, mode callMode, fn func(ctx context.Context) error) error {
	_, err := invoke(ctx, g, op, mode, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func invoke[T any](ctx context.Context, g *Guard, op string, mode callMode, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := g.tracer.Start(ctx, g.name+"."+op, trace.WithAttributes(
		telemetry.BackendKey.String(g.name),
		telemetry.OperationKey.String(op),
	))
	defer span.End()

	start := time.Now()
	var (
		out T
		err error
	)
	if mode == modeObserve {
		out, err = fn(ctx)
	} else {
		out, err = guarded(ctx, g, mode == modeRetry, fn)
	}
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
		if status == "" {
			status = "error"
		}
		telemetry.FailSpan(span, err)
		g.logger.Debug("backend call failed",
			zap.String("backend", g.name),
			zap.String("operation", op),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	g.recorder.RecordBackendCall(g.name, op, status, duration)
	return out, err
}

func guarded[T any](ctx context.Context, g *Guard, withRetry bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return zero, ContextError(ctx, g.name)
	}
	defer g.sem.Release(1)

	attempt := func() (T, error) {
		var out T
		err := g.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		return out, err
	}
	var (
		out T
		err error
	)
	if withRetry {
		out, err = retry.DoTyped(g.retryer, ctx, attempt)
	} else {
		out, err = attempt()
	}
	if err != nil {
		if ctx.Err() != nil && !types.IsCode(err, types.ErrCancelled) {
			return zero, ContextError(ctx, g.name).WithCause(err)
		}
		return zero, err
	}
	return out, nil
}

// ContextError 将 ctx 的终止原因转换为结构化错误
func ContextError(ctx context.Context, backend string) *types.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "request deadline exceeded").WithBackend(backend)
	}
	return types.NewError(types.ErrCancelled, "request cancelled").WithBackend(backend)
}

// MapHTTPError 将非成功 HTTP 状态映射为结构化错误
func MapHTTPError(status int, msg, backend string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 {
		return types.NewError(types.ErrServiceUnavailable, msg).
			WithHTTPStatus(status).
			WithBackend(backend)
	}
	return types.NewError(types.ErrGenerationFailed, msg).
		WithHTTPStatus(status).
		WithBackend(backend)
}

// TransportError 将网络层错误映射为结构化错误
func TransportError(ctx context.Context, err error, backend string) *types.Error {
	if ctx.Err() != nil {
		return ContextError(ctx, backend).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrServiceUnavailable, "request timed out").
			WithBackend(backend).
			WithCause(err)
	}
	return types.NewError(types.ErrServiceUnavailable, "backend unreachable").
		WithBackend(backend).
		WithCause(err)
}

// ReadErrorMessage 读取响应体中的错误消息
// 依次尝试 FastAPI 的 detail、error、message 与 Hunyuan3D 的 text 字段，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if s := stringify(errResp.Detail); s != "" {
			return s
		}
		if s := stringify(errResp.Error); s != "" {
			return s
		}
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Text != "" {
			return errResp.Text
		}
	}

	return strings.TrimSpace(string(data))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if m, ok := t["message"].(string); ok {
			return m
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Check 将一次健康探测的结果整理为 ServiceStatus
func Check(backend string, start time.Time, err error, capabilities ...string) types.ServiceStatus {
	st := types.ServiceStatus{
		Backend:   backend,
		Reachable: err == nil,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Capabilities = capabilities
	return st
}
