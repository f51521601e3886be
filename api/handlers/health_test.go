package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/types"
)

type fakeBackend struct {
	status types.ServiceStatus
	calls  atomic.Int32
}

func (p *fakeBackend) Health(ctx context.Context) types.ServiceStatus {
	p.calls.Add(1)
	return p.status
}

func backendOf(backend string, reachable bool) *fakeBackend {
	return &fakeBackend{status: types.ServiceStatus{
		Backend:   backend,
		Reachable: reachable,
		CheckedAt: time.Now(),
	}}
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var hs HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&hs))
	return hs
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	// 存活检查不受依赖影响
	h.RegisterCheck(NewPingCheck("store", func(context.Context) error { return errors.New("down") }))

	for _, handle := range []http.HandlerFunc{h.HandleHealth, h.HandleHealthz} {
		w := httptest.NewRecorder()
		handle(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decodeHealth(t, w).Status)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checkErr   error
		reachable  bool
		wantCode   int
		wantStatus string
	}{
		{"all healthy", nil, true, http.StatusOK, "healthy"},
		{"backend unreachable", nil, false, http.StatusOK, "degraded"},
		{"store down", errors.New("connection refused"), true, http.StatusServiceUnavailable, "unhealthy"},
		{"store down and backend unreachable", errors.New("connection refused"), false, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			h.RegisterCheck(NewPingCheck("store", func(context.Context) error { return tt.checkErr }))
			h.RegisterBackend(backendOf("comfyui", true))
			h.RegisterBackend(backendOf("hunyuan3d", tt.reachable))

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			hs := decodeHealth(t, w)
			assert.Equal(t, tt.wantStatus, hs.Status)
			require.Contains(t, hs.Checks, "store")
			if tt.checkErr != nil {
				assert.Equal(t, "fail", hs.Checks["store"].Status)
				assert.Equal(t, "connection refused", hs.Checks["store"].Message)
			} else {
				assert.Equal(t, "pass", hs.Checks["store"].Status)
			}
			require.Len(t, hs.Services, 2)
			assert.Equal(t, "comfyui", hs.Services[0].Backend)
			assert.Equal(t, "hunyuan3d", hs.Services[1].Backend)
		})
	}
}

func TestHealthHandler_Services(t *testing.T) {
	h := NewHealthHandler(nil)
	backends := []*fakeBackend{backendOf("sd-webui", true), backendOf("tripo", false), backendOf("blender", true)}
	for _, p := range backends {
		h.RegisterBackend(p)
	}

	w := httptest.NewRecorder()
	h.HandleServices(w, httptest.NewRequest(http.MethodGet, "/api/v1/services", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                  `json:"success"`
		Data    []types.ServiceStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 3)
	for i, p := range backends {
		assert.Equal(t, p.status.Backend, resp.Data[i].Backend)
		assert.Equal(t, p.status.Reachable, resp.Data[i].Reachable)
		assert.EqualValues(t, 1, p.calls.Load())
	}
}

func TestHealthHandler_Version(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.2.0", "2026-10-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, map[string]any{
		"version":    "1.2.0",
		"build_time": "2026-10-01T00:00:00Z",
		"git_commit": "abc123",
	}, resp.Data)
}

func TestPingCheck(t *testing.T) {
	called := false
	c := NewPingCheck("redis", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, "redis", c.Name())
	assert.NoError(t, c.Check(context.Background()))
	assert.True(t, called)
}
