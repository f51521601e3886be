// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 后端适配器与工作流测试共用的上下文、错误码断言与等待工具
//
// 使用方法:
//
//	testutil.AssertErrorCode(t, err, types.ErrTimeout)
//	testutil.AssertBackendError(t, err, types.ErrServiceUnavailable, "hunyuan3d")
//	rep, ok := testutil.WaitForChannel(done, 2*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/scenegen/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回 30 秒超时的测试上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文，用于验证 CANCELLED 路径
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 错误断言
// =============================================================================

// AssertErrorCode 断言 err 链中携带指定的错误码
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error with code %s, got nil", code)
		return
	}
	if got := types.GetErrorCode(err); got != code {
		t.Errorf("error code mismatch: expected %s, got %q (%v)", code, got, err)
	}
}

// AssertBackendError 断言 err 为指定后端返回的 types.Error，并返回它供后续检查
func AssertBackendError(t *testing.T, err error, code types.ErrorCode, backend string) *types.Error {
	t.Helper()

	te, ok := types.AsError(err)
	if !ok {
		t.Errorf("expected *types.Error from %s, got %T (%v)", backend, err, err)
		return nil
	}
	if te.Code != code {
		t.Errorf("error code mismatch: expected %s, got %s (%v)", code, te.Code, err)
	}
	if te.Backend != backend {
		t.Errorf("backend mismatch: expected %q, got %q", backend, te.Backend)
	}
	return te
}

// =============================================================================
// ⏱️ 等待辅助
// =============================================================================

// AssertEventuallyTrue 每 10ms 检查一次条件，超时则失败
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
