package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/testutil"
	"github.com/BaSui01/scenegen/types"
)

func intPtr(v int) *int { return &v }

func TestResolve_PresetDefaults(t *testing.T) {
	reg := preset.NewRegistry(zap.NewNop())

	res, err := resolve(Request{Description: "a red apple", Preset: "Quality "}, reg, optimizer.TierMedium, true)
	require.NoError(t, err)

	assert.Equal(t, types.MethodImageFirst, res.Method)
	assert.Equal(t, "quality", res.Preset)
	assert.Equal(t, types.QualityHigh, res.ImageQuality)
	assert.Equal(t, optimizer.GoalQuality, res.Goal)
	assert.True(t, res.EnableOptimization)
	assert.True(t, res.EnablePostProcessing)
	assert.True(t, res.Async)
	assert.Equal(t, 15*time.Minute, res.Budget)
	assert.Positive(t, res.EstimatedImageTime)
	assert.Equal(t, optimizer.TierMedium, res.HardwareTier)
}

func TestResolve_RequestFieldsWin(t *testing.T) {
	reg := preset.NewRegistry(zap.NewNop())

	res, err := resolve(Request{
		Description:        "a red apple",
		Preset:             "quality",
		Method:             types.MethodHybrid,
		ImageQuality:       types.QualityLow,
		Goal:               optimizer.GoalSpeed,
		EnableOptimization: Bool(false),
		Async:              Bool(false),
	}, reg, optimizer.TierMedium, true)
	require.NoError(t, err)

	assert.Equal(t, types.MethodHybrid, res.Method)
	assert.Equal(t, types.QualityLow, res.ImageQuality)
	assert.Equal(t, types.QualityHigh, res.ModelQuality, "unset fields keep the preset value")
	assert.Equal(t, optimizer.GoalSpeed, res.Goal)
	assert.False(t, res.EnableOptimization)
	assert.False(t, res.Async)
}

func TestResolve_OverridesLayering(t *testing.T) {
	reg := preset.NewRegistry(zap.NewNop())
	require.NoError(t, reg.Register("tuned", preset.Preset{
		Template: preset.Template{
			Method:    types.MethodImageFirst,
			Overrides: &optimizer.Overrides{Image: optimizer.ImageOverrides{Steps: intPtr(25), Width: intPtr(640)}},
		},
		EstimatedMinutes: 6,
	}))

	res, err := resolve(Request{
		Description: "a lamp",
		Preset:      "tuned",
		Overrides:   &optimizer.Overrides{Image: optimizer.ImageOverrides{Steps: intPtr(33)}},
	}, reg, optimizer.TierMedium, false)
	require.NoError(t, err)

	assert.Equal(t, 33, res.Params.Image.Steps, "request overrides apply after the preset")
	assert.Equal(t, 640, res.Params.Image.Width)
	assert.Equal(t, 6*time.Minute, res.Budget)
}

func TestResolve_ImageTypeAndBudget(t *testing.T) {
	reg := preset.NewRegistry(zap.NewNop())

	res, err := resolve(Request{Description: "portrait of a sea captain", Preset: "balanced"}, reg, optimizer.TierHigh, false)
	require.NoError(t, err)
	assert.Equal(t, optimizer.ImagePortrait, res.ImageType, "derived from the description")
	assert.Less(t, res.Params.Image.Width, res.Params.Image.Height)

	res, err = resolve(Request{
		Description:            "portrait of a sea captain",
		Preset:                 "balanced",
		ImageType:              "Landscape",
		ImageTimeBudgetSeconds: 10,
	}, reg, optimizer.TierHigh, false)
	require.NoError(t, err)
	assert.Equal(t, optimizer.ImageLandscape, res.ImageType)
	assert.Greater(t, res.Params.Image.Width, res.Params.Image.Height)
	assert.Equal(t, "Euler a", res.Params.Image.Sampler)
	assert.False(t, res.Params.Image.EnableHR)
}

func TestResolve_PostProcessingOff(t *testing.T) {
	res, err := resolve(Request{
		Description:          "a lamp",
		Method:               types.MethodModelFirst,
		EnablePostProcessing: Bool(false),
		Scene:                scene.Metadata{CameraPreset: "Front"},
	}, nil, optimizer.TierLow, false)
	require.NoError(t, err)

	assert.Equal(t, scene.LightingNone, res.Scene.LightingPreset)
	assert.Equal(t, scene.CameraFront, res.Scene.CameraPreset, "explicit presets are kept")
	assert.Zero(t, res.Budget)
}

func TestResolve_Errors(t *testing.T) {
	reg := preset.NewRegistry(zap.NewNop())
	tests := []struct {
		name string
		req  Request
	}{
		{"blank description", Request{Description: "   ", Preset: "fast"}},
		{"missing preset", Request{Description: "x", Preset: "nope"}},
		{"no preset or method", Request{Description: "x"}},
		{"bad complexity", Request{Description: "x", Preset: "fast", Complexity: "galactic"}},
		{"bad goal", Request{Description: "x", Preset: "fast", Goal: "cheapest"}},
		{"bad camera", Request{Description: "x", Preset: "fast", Scene: scene.Metadata{CameraPreset: "drone"}}},
		{"bad image type", Request{Description: "x", Preset: "fast", ImageType: "abstract"}},
		{"negative image budget", Request{Description: "x", Preset: "fast", ImageTimeBudgetSeconds: -5}},
		{"bad sampler override", Request{Description: "x", Preset: "fast", Overrides: &optimizer.Overrides{
			Image: optimizer.ImageOverrides{Sampler: func() *string { s := "Quantum"; return &s }()},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(tt.req, reg, optimizer.TierMedium, false)
			testutil.AssertErrorCode(t, err, types.ErrValidation)
		})
	}
}

func TestResolve_PresetWithoutRegistry(t *testing.T) {
	_, err := resolve(Request{Description: "x", Preset: "fast"}, nil, optimizer.TierMedium, false)
	testutil.AssertErrorCode(t, err, types.ErrValidation)
}

func TestRequest_Clone(t *testing.T) {
	orig := Request{
		Description:        "a chair",
		EnableOptimization: Bool(true),
		Overrides:          &optimizer.Overrides{Image: optimizer.ImageOverrides{Steps: intPtr(20)}},
		Scene:              scene.Metadata{TextureImage: []byte{1, 2, 3}},
	}
	c := orig.Clone()

	*c.EnableOptimization = false
	*c.Overrides.Image.Steps = 99
	c.Scene.TextureImage[0] = 9

	assert.True(t, *orig.EnableOptimization)
	assert.Equal(t, 20, *orig.Overrides.Image.Steps)
	assert.Equal(t, byte(1), orig.Scene.TextureImage[0])
	assert.Nil(t, Request{}.Clone().Async)
}
