package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api"
	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/testutil/mocks"
	"github.com/BaSui01/scenegen/types"
)

func imageMux(t *testing.T, sd *mocks.SDWebUI) *http.ServeMux {
	t.Helper()
	cfg := config.DefaultImageConfig()
	cfg.BaseURL = sd.URL()
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond

	h := NewImageHandler(image.New(cfg, nil, zap.NewNop()), optimizer.TierMedium, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/services/image", h.HandleInfo)
	mux.HandleFunc("POST /api/v1/images/enhance", h.HandleEnhance)
	return mux
}

func newSD(t *testing.T) *mocks.SDWebUI {
	sd := mocks.NewSDWebUI()
	t.Cleanup(sd.Close)
	return sd
}

func TestImageHandler_Info(t *testing.T) {
	sd := newSD(t)
	w := httptest.NewRecorder()
	imageMux(t, sd).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/image", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    api.ImageServiceInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data.Models, 1)
	assert.Equal(t, "sd_xl_base_1.0", resp.Data.Models[0].ModelName)
	assert.Equal(t, []string{"Euler a", "DPM++ 2M Karras", "DPM++ 2M SDE Karras"}, resp.Data.Samplers)
	assert.Equal(t, 1, sd.Calls("/sdapi/v1/sd-models"))
}

func TestImageHandler_InfoUnavailable(t *testing.T) {
	sd := newSD(t)
	sd.Close()

	w := httptest.NewRecorder()
	imageMux(t, sd).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/image", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrServiceUnavailable), resp.Error.Code)
}

func TestImageHandler_Enhance(t *testing.T) {
	sd := newSD(t)
	initB64 := base64.StdEncoding.EncodeToString(mocks.PNGStub)
	body := `{"prompt":"a bronze statue","image":"data:image/png;base64,` + initB64 + `","denoising_strength":0.3}`

	w := postWorkflow(t, imageMux(t, sd), "/api/v1/images/enhance", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool                `json:"success"`
		Data    api.EnhanceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	out, err := base64.StdEncoding.DecodeString(resp.Data.Image)
	require.NoError(t, err)
	assert.Equal(t, mocks.PNGStub, out)
	assert.InDelta(t, 0.3, resp.Data.Params.DenoisingStrength, 1e-9)
	require.NotNil(t, resp.Data.Artifact)
	assert.Equal(t, types.ArtifactImage, resp.Data.Artifact.Kind)

	assert.Equal(t, 1, sd.Calls("/sdapi/v1/img2img"))
	sent := sd.LastRequest("/sdapi/v1/img2img")
	assert.Equal(t, []any{initB64}, sent["init_images"])
	assert.Equal(t, "a bronze statue", sent["prompt"])
	assert.InDelta(t, 0.3, sent["denoising_strength"], 1e-9)
}

func TestImageHandler_EnhanceErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   types.ErrorCode
	}{
		{"no prompt", `{"image":"aGVsbG8="}`, http.StatusBadRequest, types.ErrValidation},
		{"no image", `{"prompt":"x"}`, http.StatusUnprocessableEntity, types.ErrMissingInput},
		{"bad base64", `{"prompt":"x","image":"%%%"}`, http.StatusBadRequest, types.ErrValidation},
		{"bad goal", `{"prompt":"x","image":"aGVsbG8=","goal":"cheap"}`, http.StatusBadRequest, types.ErrInvalidGoal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd := newSD(t)
			w := postWorkflow(t, imageMux(t, sd), "/api/v1/images/enhance", tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Zero(t, sd.Calls("/sdapi/v1/img2img"))
		})
	}
}
