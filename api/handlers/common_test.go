package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusTeapot, []int{1, 2, 3})

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `[1,2,3]`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"key": "value"}, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
	}{
		{"validation", types.NewError(types.ErrValidation, "description is required"), http.StatusBadRequest, types.ErrValidation},
		{"not found", types.NewError(types.ErrNotFound, "run x not found"), http.StatusNotFound, types.ErrNotFound},
		{"immutable", types.NewError(types.ErrImmutable, "run already finished"), http.StatusConflict, types.ErrImmutable},
		{"duplicate", types.NewError(types.ErrDuplicateName, "preset exists"), http.StatusConflict, types.ErrDuplicateName},
		{"missing input", types.NewError(types.ErrMissingInput, "no image"), http.StatusUnprocessableEntity, types.ErrMissingInput},
		{"unavailable", types.NewError(types.ErrServiceUnavailable, "queue full"), http.StatusServiceUnavailable, types.ErrServiceUnavailable},
		{"generation", types.NewError(types.ErrGenerationFailed, "mesh failed"), http.StatusBadGateway, types.ErrGenerationFailed},
		{"timeout", types.NewError(types.ErrTimeout, "poll deadline"), http.StatusGatewayTimeout, types.ErrTimeout},
		{"cancelled", types.NewError(types.ErrCancelled, "cancelled"), 499, types.ErrCancelled},
		{"invalid goal", types.NewError(types.ErrInvalidGoal, "bad goal"), http.StatusBadRequest, types.ErrInvalidGoal},
		{"wrapped", errors.Join(errors.New("ctx"), types.NewError(types.ErrNotFound, "gone")), http.StatusNotFound, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.expectedCode), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_BackendStatusIgnored(t *testing.T) {
	// HTTPStatus 记录的是后端返回的状态，不影响 API 状态码
	err := types.NewError(types.ErrServiceUnavailable, "webui down").
		WithHTTPStatus(http.StatusInternalServerError).
		WithBackend("sd-webui")

	w := httptest.NewRecorder()
	WriteError(w, err, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "sd-webui", resp.Error.Backend)
}

func TestWriteError_PlainErrorHidesMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("dial tcp 10.0.0.3:5432: connection refused"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.Equal(t, "internal error", resp.Error.Message)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"test","value":123}`},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: "invalid JSON body"},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: "invalid JSON body"},
		{name: "trailing object", body: `{"name":"a"}{"name":"b"}`, wantErr: "single JSON object"},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, wantErr: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result payload
			err := DecodeJSONBody(w, r, &result, zap.NewNop())
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, payload{Name: "test", Value: 123}, result)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeResponse(t, w).Error.Message, tt.wantErr)
		})
	}
}

func TestDecodeJSONBody_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)

	var v map[string]any
	err := DecodeJSONBody(w, r, &v, zap.NewNop())
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/json; charset=UTF-8", true},
		{"text/plain", false},
		{"", false},
		{"application/jsonp", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?async=true&limit=5&bad=nope&neg=-1", nil)

	b, err := QueryBool(r, "async")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, *b)

	b, err = QueryBool(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = QueryBool(r, "bad")
	assert.True(t, types.IsCode(err, types.ErrValidation))

	n, err := QueryInt(r, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = QueryInt(r, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	_, err = QueryInt(r, "neg", 50)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

// =============================================================================
// 🧪 ResponseWriter 测试
// =============================================================================

func TestResponseWriter_CapturesFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Same(t, rec, rw.Unwrap())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("x"))
	rw.Flush()
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	_, _, err := NewResponseWriter(httptest.NewRecorder()).Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")

	hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := NewResponseWriter(hr)
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, hr.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rw.StatusCode)
}
