package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scenegen/internal/circuitbreaker"
	"github.com/BaSui01/scenegen/internal/retry"
	"github.com/BaSui01/scenegen/types"
)

type recordedCall struct {
	backend, op, status string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordBackendCall(backend, op, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{backend, op, status})
}

func fastPolicy(retries int) *retry.Policy {
	return &retry.Policy{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestGuard_RetriesOnlyRetryable(t *testing.T) {
	rec := &fakeRecorder{}
	g := NewGuard(GuardConfig{Name: "sdwebui", MaxConcurrent: 1, Retry: fastPolicy(2), Recorder: rec})

	var calls int32
	err := g.Do(context.Background(), "txt2img", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return types.NewError(types.ErrServiceUnavailable, "busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)

	calls = 0
	err = g.Do(context.Background(), "txt2img", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return types.NewError(types.ErrGenerationFailed, "bad prompt")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))

	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCall{"sdwebui", "txt2img", "ok"}, rec.calls[0])
	assert.Equal(t, recordedCall{"sdwebui", "txt2img", "GENERATION_FAILED"}, rec.calls[1])
}

func TestFetch_ReturnsResultOfSuccessfulAttempt(t *testing.T) {
	rec := &fakeRecorder{}
	g := NewGuard(GuardConfig{Name: "hunyuan3d", Retry: fastPolicy(2), Recorder: rec})

	var calls int32
	data, err := Fetch(context.Background(), g, "download", func(ctx context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return []byte("partial"), types.NewError(types.ErrServiceUnavailable, "busy")
		}
		return []byte("glTF"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF"), data)
	assert.Equal(t, int32(2), calls)

	data, err = Fetch(context.Background(), g, "download", func(ctx context.Context) ([]byte, error) {
		return []byte("junk"), types.NewError(types.ErrGenerationFailed, "corrupt")
	})
	assert.Nil(t, data)
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCall{"hunyuan3d", "download", "ok"}, rec.calls[0])
}

func TestGuard_OnceDoesNotRetry(t *testing.T) {
	g := NewGuard(GuardConfig{Name: "hunyuan3d", Retry: fastPolicy(3)})

	var calls int32
	err := g.Once(context.Background(), "submit", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return types.NewError(types.ErrServiceUnavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestGuard_BreakerOpens(t *testing.T) {
	g := NewGuard(GuardConfig{
		Name:    "hunyuan3d",
		Retry:   fastPolicy(0),
		Breaker: &circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Hour},
	})

	down := func(ctx context.Context) error { return types.NewError(types.ErrServiceUnavailable, "down") }
	_ = g.Do(context.Background(), "generate", down)
	_ = g.Do(context.Background(), "generate", down)
	assert.Equal(t, circuitbreaker.StateOpen, g.Breaker().State())

	var called bool
	err := g.Do(context.Background(), "generate", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, types.IsCode(err, types.ErrServiceUnavailable))
}

func TestGuard_ConcurrencyBound(t *testing.T) {
	g := NewGuard(GuardConfig{Name: "hunyuan3d", MaxConcurrent: 2, Retry: fastPolicy(0)})

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), "generate", func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, int32(2))
}

func TestGuard_CancelledWhileWaitingForSlot(t *testing.T) {
	g := NewGuard(GuardConfig{Name: "hunyuan3d", MaxConcurrent: 1, Retry: fastPolicy(0)})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), "generate", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, "generate", func(ctx context.Context) error { return nil })
	close(release)

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCancelled))
}

func TestMapHTTPError(t *testing.T) {
	err := MapHTTPError(http.StatusServiceUnavailable, "loading model", "sdwebui")
	assert.Equal(t, types.ErrServiceUnavailable, err.Code)
	assert.True(t, err.Retryable)
	assert.Equal(t, 503, err.HTTPStatus)

	err = MapHTTPError(http.StatusUnprocessableEntity, "", "sdwebui")
	assert.Equal(t, types.ErrGenerationFailed, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, "Unprocessable Entity", err.Message)
}

func TestTransportError(t *testing.T) {
	err := TransportError(context.Background(), errors.New("connection refused"), "hunyuan3d")
	assert.Equal(t, types.ErrServiceUnavailable, err.Code)
	assert.True(t, err.Retryable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = TransportError(ctx, errors.New("context canceled"), "hunyuan3d")
	assert.Equal(t, types.ErrCancelled, err.Code)
}

func TestReadErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail": "Not Found"}`, "Not Found"},
		{`{"error": "OutOfMemoryError"}`, "OutOfMemoryError"},
		{`{"error": {"message": "bad size"}}`, "bad size"},
		{`{"message": "invalid image"}`, "invalid image"},
		{`{"text": "NETWORK ERROR DUE TO HIGH TRAFFIC", "error_code": 1}`, "NETWORK ERROR DUE TO HIGH TRAFFIC"},
		{"  plain text  ", "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReadErrorMessage(strings.NewReader(tt.body)))
	}
}

func TestCheck(t *testing.T) {
	st := Check("sdwebui", time.Now(), nil, types.CapabilityTxt2Img)
	assert.True(t, st.Reachable)
	assert.True(t, st.Has(types.CapabilityTxt2Img))

	st = Check("sdwebui", time.Now(), errors.New("refused"), types.CapabilityTxt2Img)
	assert.False(t, st.Reachable)
	assert.Empty(t, st.Capabilities)
	assert.Equal(t, "refused", st.Error)
}

func TestGuard_ObserveBypassesBreaker(t *testing.T) {
	g := NewGuard(GuardConfig{
		Name:    "sdwebui",
		Retry:   fastPolicy(0),
		Breaker: &circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour},
	})
	_ = g.Do(context.Background(), "txt2img", func(ctx context.Context) error {
		return types.NewError(types.ErrServiceUnavailable, "down")
	})
	require.Equal(t, circuitbreaker.StateOpen, g.Breaker().State())

	var called bool
	err := g.Observe(context.Background(), "health", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
