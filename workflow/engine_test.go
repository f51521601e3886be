package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/backend/mesh"
	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/testutil"
	"github.com/BaSui01/scenegen/testutil/mocks"
	"github.com/BaSui01/scenegen/types"
)

// services 基于 testutil/mocks 的真实适配器
type services struct {
	sd      *mocks.SDWebUI
	hy      *mocks.Hunyuan3D
	blender *mocks.Blender
	deps    Deps
}

func newServices(t *testing.T, textTo3D bool) *services {
	t.Helper()
	s := &services{
		sd:      mocks.NewSDWebUI(),
		hy:      mocks.NewHunyuan3D().WithPendingPolls(1),
		blender: mocks.NewBlender(),
	}
	t.Cleanup(func() {
		s.sd.Close()
		s.hy.Close()
		s.blender.Close()
	})

	imgCfg := config.DefaultImageConfig()
	imgCfg.BaseURL = s.sd.URL()
	imgCfg.MaxRetries = 1
	imgCfg.RetryDelay = time.Millisecond

	meshCfg := config.DefaultMeshConfig()
	meshCfg.BaseURL = s.hy.URL()
	meshCfg.TextTo3D = textTo3D
	meshCfg.MaxRetries = 1
	meshCfg.RetryDelay = time.Millisecond

	sceneCfg := config.DefaultSceneConfig()
	sceneCfg.Host = s.blender.Host()
	sceneCfg.Port = s.blender.Port()
	sceneCfg.Timeout = 2 * time.Second

	logger := zap.NewNop()
	s.deps = Deps{
		Image:   image.New(imgCfg, nil, logger),
		Mesh:    mesh.New(meshCfg, nil, logger),
		Scene:   scene.NewAssembler(scene.New(sceneCfg, nil, logger), logger),
		Presets: preset.NewRegistry(logger),
		Logger:  logger,
	}
	return s
}

func (s *services) engine(t *testing.T, mutate ...func(*config.WorkflowConfig)) *Engine {
	t.Helper()
	cfg := testWorkflowConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	e, err := NewEngine(cfg, s.deps)
	require.NoError(t, err)
	return e
}

func TestEngine_FastPresetModelFirst(t *testing.T) {
	svc := newServices(t, true)
	e := svc.engine(t)

	rep := e.Run(testutil.TestContext(t), Request{Description: "a red apple", Preset: "fast"})
	require.Equal(t, OutcomeSucceeded, rep.Outcome, describe(rep))

	st := statuses(rep)
	assert.Equal(t, StatusSucceeded, st[StageInitialization])
	assert.Equal(t, StatusSkipped, st[StageImageGeneration])
	assert.Equal(t, StatusSucceeded, st[StageModelGeneration])
	assert.Equal(t, StatusSucceeded, st[StageSceneAssembly])
	assert.Equal(t, StatusSkipped, st[StageOptimization], "fast preset disables optimization")
	assert.Equal(t, StatusSucceeded, st[StageFinalization])
	assert.Equal(t, types.MethodModelFirst, rep.Method)
	assert.Equal(t, "fast", rep.Preset)
	assert.Nil(t, rep.Error)

	assert.Zero(t, svc.sd.Calls("/sdapi/v1/txt2img"))
	assert.Zero(t, svc.sd.Calls("/sdapi/v1/options"), "MODEL_FIRST does not health-check the image service")
	assert.Equal(t, "a red apple", svc.hy.LastRequest("generate")["text"])

	require.NotNil(t, rep.Scene)
	assert.Equal(t, rep.Scene.Ref, rep.Stage(StageSceneAssembly).Artifact.Ref)
	// fast 关闭后处理，不补灯光与相机
	assert.Equal(t, []string{scene.CmdGetSceneInfo, scene.CmdImportModel}, svc.blender.CommandTypes()[1:])
	assert.Len(t, rep.Services, 2)
}

func TestEngine_QualityImageFirstImageUnavailable(t *testing.T) {
	svc := newServices(t, false)
	svc.sd.WithFailure(http.StatusServiceUnavailable, "CUDA device busy", -1)
	e := svc.engine(t)

	rep := e.Run(testutil.TestContext(t), Request{
		Description: "a medieval castle",
		Preset:      "quality",
		Method:      types.MethodImageFirst,
	})
	require.Equal(t, OutcomeFailed, rep.Outcome, describe(rep))
	require.NotNil(t, rep.Error)
	assert.Equal(t, types.ErrServiceUnavailable, rep.Error.Code)
	assert.Equal(t, StageImageGeneration, rep.Error.Stage)
	assert.Equal(t, image.BackendName, rep.Error.Backend)

	st := statuses(rep)
	assert.Equal(t, StatusSucceeded, st[StageInitialization])
	assert.Equal(t, StatusFailed, st[StageImageGeneration])
	assert.Equal(t, StatusSkipped, st[StageModelGeneration])
	assert.Equal(t, StatusSkipped, st[StageSceneAssembly])
	assert.Equal(t, StatusSkipped, st[StageOptimization])
	assert.Equal(t, StatusSucceeded, st[StageFinalization])

	assert.Equal(t, 2, svc.sd.Calls("/sdapi/v1/txt2img"), "one retry")
	assert.Zero(t, svc.hy.Calls("generate"))
	assert.Zero(t, svc.hy.Calls("send"))
	assert.NotContains(t, svc.blender.CommandTypes(), scene.CmdImportModel)
}

func TestEngine_ImageFirstFeedsImageToModel(t *testing.T) {
	svc := newServices(t, false)
	e := svc.engine(t, func(c *config.WorkflowConfig) { c.DefaultAsync = true })

	rep := e.Run(testutil.TestContext(t), Request{Description: "a wooden chair", Method: types.MethodImageFirst})
	require.Equal(t, OutcomeSucceeded, rep.Outcome, describe(rep))

	assert.Equal(t, 1, svc.sd.Calls("/sdapi/v1/txt2img"))
	assert.Equal(t, 1, svc.hy.Calls("send"), "async path submits a task")
	assert.Equal(t, 1, svc.hy.Calls("download"))
	assert.NotEmpty(t, svc.hy.LastRequest("send")["image"])

	model := rep.Stage(StageModelGeneration)
	require.NotNil(t, model.Task)
	assert.Equal(t, mesh.StatusCompleted, model.Task.LastStatus)
	assert.Equal(t, mocks.GLBStub, mustArtifactData(t, model))

	// 图像已作为主输入，不再绑定材质
	for _, code := range svc.blender.ExecutedCode() {
		assert.NotContains(t, code, "ShaderNodeTexImage")
	}
	require.NotNil(t, rep.Scene)
	assert.False(t, rep.Scene.MaterialBound)
}

func mustArtifactData(t *testing.T, sr *StageResult) []byte {
	t.Helper()
	require.NotNil(t, sr.Artifact)
	return sr.Artifact.Data
}

func TestEngine_ModelFirstWithoutTextTo3D(t *testing.T) {
	f := newFakes()
	f.mesh.textTo3D = false
	e := newTestEngine(t, f)

	rep := e.Run(testutil.TestContext(t), Request{Description: "a teapot", Method: types.MethodModelFirst})
	require.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrMissingInput, rep.Error.Code)
	assert.Equal(t, StageModelGeneration, rep.Error.Stage)
	assert.Zero(t, f.mesh.Calls())
	assert.Equal(t, StatusSkipped, statuses(rep)[StageSceneAssembly])
}

func TestEngine_InitializationFailures(t *testing.T) {
	cases := []struct {
		name    string
		req     Request
		setup   func(*fakes)
		code    types.ErrorCode
		checked bool
	}{
		{name: "empty description", req: Request{Preset: "fast"}, code: types.ErrValidation},
		{name: "unknown preset", req: Request{Description: "x", Preset: "ultra-max"}, code: types.ErrValidation},
		{name: "no preset or method", req: Request{Description: "x"}, code: types.ErrValidation},
		{name: "unknown method", req: Request{Description: "x", Method: "SIDEWAYS"}, code: types.ErrValidation},
		{name: "bad quality", req: Request{Description: "x", Preset: "fast", ImageQuality: "insane"}, code: types.ErrValidation},
		{name: "bad lighting", req: Request{Description: "x", Preset: "fast", Scene: scene.Metadata{LightingPreset: "disco"}}, code: types.ErrValidation},
		{
			name:    "scene host unreachable",
			req:     Request{Description: "x", Preset: "fast"},
			setup:   func(f *fakes) { f.scene.unreachable = true },
			code:    types.ErrServiceUnavailable,
			checked: true,
		},
		{
			name:    "image service unreachable for hybrid",
			req:     Request{Description: "x", Preset: "balanced"},
			setup:   func(f *fakes) { f.image.unreachable = true },
			code:    types.ErrServiceUnavailable,
			checked: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakes()
			if tc.setup != nil {
				tc.setup(f)
			}
			rep := newTestEngine(t, f).Run(testutil.TestContext(t), tc.req)

			require.Equal(t, OutcomeFailed, rep.Outcome)
			assert.Equal(t, tc.code, rep.Error.Code)
			assert.Equal(t, StageInitialization, rep.Error.Stage)
			st := statuses(rep)
			assert.Equal(t, StatusFailed, st[StageInitialization])
			for _, s := range []Stage{StageImageGeneration, StageModelGeneration, StageSceneAssembly, StageOptimization} {
				assert.Equal(t, StatusSkipped, st[s], s)
			}
			assert.Equal(t, StatusSucceeded, st[StageFinalization])
			assert.Zero(t, f.image.Calls())
			assert.Zero(t, f.mesh.Calls())
			assert.Equal(t, tc.checked, len(rep.Services) > 0)
		})
	}
}

func TestEngine_OverridesAndPostProcessing(t *testing.T) {
	f := newFakes()
	e := newTestEngine(t, f)

	steps := 42
	rep := e.Run(testutil.TestContext(t), Request{
		Description:          "a lantern",
		Method:               types.MethodImageFirst,
		ImageQuality:         types.QualityHigh,
		EnablePostProcessing: Bool(false),
		EnableOptimization:   Bool(false),
		NegativePrompt:       "blurry",
		Overrides:            &optimizer.Overrides{Image: optimizer.ImageOverrides{Steps: &steps}},
	})
	require.Equal(t, OutcomeSucceeded, rep.Outcome, describe(rep))

	assert.Equal(t, 42, f.image.last.Params.Steps)
	assert.Equal(t, "blurry", f.image.last.NegativePrompt)
	assert.Equal(t, "a lantern", f.image.last.Prompt)
	assert.Equal(t, testImage, f.mesh.Last().Image)
	assert.Empty(t, f.mesh.Last().Text)

	md, _ := f.scene.Last()
	assert.Equal(t, scene.LightingNone, md.LightingPreset)
	assert.Equal(t, scene.CameraNone, md.CameraPreset)
	assert.Equal(t, StatusSkipped, statuses(rep)[StageOptimization])
	assert.Nil(t, rep.Suggestion)
	require.NotNil(t, rep.Resolved)
	assert.Equal(t, 42, rep.Resolved.Params.Image.Steps)
}

func TestEngine_OptimizationIsAdvisory(t *testing.T) {
	f := newFakes()
	e := newTestEngine(t, f)

	rep := e.Run(testutil.TestContext(t), Request{Description: "a kite", Preset: "fast", EnableOptimization: Bool(true)})
	require.Equal(t, OutcomeSucceeded, rep.Outcome, describe(rep))
	assert.Equal(t, StatusSucceeded, statuses(rep)[StageOptimization])
	require.NotNil(t, rep.Suggestion)
	assert.False(t, rep.Suggestion.Changed, "a fake run finishes well within the preset budget")
	assert.Equal(t, 3*time.Minute, rep.Resolved.Budget)
}

func TestEngine_SceneAssemblyFailure(t *testing.T) {
	f := newFakes()
	f.scene.err = types.NewError(types.ErrAssembly, "import_hunyuan3d_model: Failed to import GLB").WithBackend(scene.BackendName)
	rep := newTestEngine(t, f).Run(testutil.TestContext(t), Request{Description: "a boat", Preset: "fast"})

	require.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrAssembly, rep.Error.Code)
	assert.Equal(t, StageSceneAssembly, rep.Error.Stage)
	assert.Equal(t, StatusSucceeded, statuses(rep)[StageModelGeneration])
	assert.Equal(t, StatusSkipped, statuses(rep)[StageOptimization])
	assert.NotNil(t, rep.Stage(StageModelGeneration).Artifact, "partial results are kept")
}

func TestEngine_AsyncTaskTimeout(t *testing.T) {
	f := newFakes()
	f.mesh.neverFinish = true
	e := newTestEngine(t, f, func(c *config.WorkflowConfig) {
		c.DefaultAsync = true
		c.TaskDeadline = 30 * time.Millisecond
	})

	rep := e.Run(testutil.TestContext(t), Request{Description: "a bridge", Preset: "fast"})
	require.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrTimeout, rep.Error.Code)
	assert.Equal(t, StageModelGeneration, rep.Error.Stage)

	model := rep.Stage(StageModelGeneration)
	require.NotNil(t, model.Task)
	assert.Equal(t, mesh.StatusProcessing, model.Task.LastStatus)
	assert.Greater(t, model.Task.Polls, 1)
}

func TestEngine_CancelDuringModelGeneration(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	e := newTestEngine(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Report, 1)
	go func() { done <- e.Run(ctx, Request{Description: "a tower", Preset: "fast"}) }()

	testutil.AssertEventuallyTrue(t, func() bool { return f.mesh.Calls() == 1 }, 2*time.Second)
	cancel()

	rep, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)
	assert.Equal(t, StageModelGeneration, rep.Error.Stage)
	st := statuses(rep)
	assert.Equal(t, StatusFailed, st[StageModelGeneration])
	assert.Equal(t, StatusSkipped, st[StageSceneAssembly])
	_, sceneCalls := f.scene.Last()
	assert.Zero(t, sceneCalls)
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	f := newFakes()
	rep := newTestEngine(t, f).Run(testutil.CancelledContext(), Request{Description: "a tower", Preset: "fast"})

	require.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)
	assert.Equal(t, StageInitialization, rep.Error.Stage)
	assert.Empty(t, rep.Services)
}

func TestEngine_Events(t *testing.T) {
	f := newFakes()
	rep := newTestEngine(t, f).Run(testutil.TestContext(t), Request{Description: "a lamp", Preset: "fast"})
	require.Equal(t, OutcomeSucceeded, rep.Outcome)

	events := f.events.Events()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, rep.ID, ev.RunID)
	}
	assert.Equal(t, StageInitialization, events[0].Stage)
	assert.Equal(t, StatusRunning, events[0].Status)

	last := events[len(events)-1]
	assert.True(t, last.Final())
	assert.Equal(t, OutcomeSucceeded, last.Outcome)

	var skipped []Stage
	for _, ev := range events {
		if ev.Status == StatusSkipped {
			skipped = append(skipped, ev.Stage)
		}
	}
	assert.Equal(t, []Stage{StageImageGeneration, StageOptimization}, skipped)
}

func TestEngine_WritesReport(t *testing.T) {
	dir := t.TempDir()
	f := newFakes()
	rep := newTestEngine(t, f, func(c *config.WorkflowConfig) { c.ReportDir = dir }).
		Run(testutil.TestContext(t), Request{Description: "a vase", Preset: "fast"})
	require.Equal(t, OutcomeSucceeded, rep.Outcome)

	data, err := os.ReadFile(filepath.Join(dir, "workflow_report_"+rep.ID+".json"))
	require.NoError(t, err)
	var stored Report
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, rep.ID, stored.ID)
	assert.Equal(t, OutcomeSucceeded, stored.Outcome)
	assert.Len(t, stored.Stages, len(Stages))
}

func TestEngine_ReportWriteFailureIsWarning(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	f := newFakes()
	rep := newTestEngine(t, f, func(c *config.WorkflowConfig) { c.ReportDir = blocker }).
		Run(testutil.TestContext(t), Request{Description: "a vase", Preset: "fast"})

	assert.Equal(t, OutcomeSucceeded, rep.Outcome)
	assert.Equal(t, StatusSucceeded, statuses(rep)[StageFinalization])
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "write report")
}

func TestNewEngine_Validation(t *testing.T) {
	f := newFakes()
	_, err := NewEngine(testWorkflowConfig(), Deps{Image: f.image})
	assert.Error(t, err)

	cfg := testWorkflowConfig()
	cfg.HardwareTier = "quantum"
	_, err = NewEngine(cfg, f.deps())
	assert.Error(t, err)

	deps := f.deps()
	deps.Image = nil
	e, err := NewEngine(testWorkflowConfig(), deps)
	require.NoError(t, err)
	rep := e.Run(testutil.TestContext(t), Request{Description: "x", Method: types.MethodImageFirst})
	assert.Equal(t, types.ErrServiceUnavailable, rep.Error.Code)
}

func TestEngine_ImageProgressAndInterrupt(t *testing.T) {
	svc := newServices(t, false)
	svc.sd.WithDelay(5 * time.Second)

	imgCfg := config.DefaultImageConfig()
	imgCfg.BaseURL = svc.sd.URL()
	imgCfg.MaxRetries = 0
	imgCfg.ProgressPoll = 10 * time.Millisecond
	svc.deps.Image = image.New(imgCfg, nil, zap.NewNop())
	events := &eventLog{}
	svc.deps.Events = events
	e := svc.engine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan *Report, 1)
	go func() {
		done <- e.Run(ctx, Request{Description: "a stone bridge", Method: types.MethodImageFirst})
	}()

	testutil.AssertEventuallyTrue(t, func() bool { return svc.sd.Calls("/sdapi/v1/progress") >= 2 }, 3*time.Second)
	cancel()

	rep, ok := testutil.WaitForChannel(done, 3*time.Second)
	require.True(t, ok)
	require.Equal(t, OutcomeFailed, rep.Outcome, describe(rep))
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)
	assert.Equal(t, StageImageGeneration, rep.Error.Stage)
	assert.Equal(t, 1, svc.sd.Calls("/sdapi/v1/interrupt"))

	var progress []Event
	for _, ev := range events.Events() {
		if ev.Stage == StageImageGeneration && ev.Status == StatusRunning && ev.Progress == 50 {
			progress = append(progress, ev)
		}
	}
	require.NotEmpty(t, progress)
	assert.Equal(t, "step 10/20", progress[0].Message)
}

func TestEngine_ImageSuccessDoesNotInterrupt(t *testing.T) {
	svc := newServices(t, false)
	e := svc.engine(t)

	rep := e.Run(testutil.TestContext(t), Request{Description: "a stone bridge", Method: types.MethodImageFirst})
	require.Equal(t, OutcomeSucceeded, rep.Outcome, describe(rep))
	assert.Zero(t, svc.sd.Calls("/sdapi/v1/interrupt"))
}
