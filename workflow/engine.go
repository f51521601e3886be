package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/backend/mesh"
	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/ctxkeys"
	"github.com/BaSui01/scenegen/internal/telemetry"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// ImageGenerator is the image service adapter. *image.Client satisfies it.
type ImageGenerator interface {
	GenerateSync(ctx context.Context, req image.Request) (*types.Artifact, error)
	Health(ctx context.Context) types.ServiceStatus
}

// ImageMonitor is optionally implemented by an ImageGenerator that can
// report sampling progress and abort the job in flight.
type ImageMonitor interface {
	WatchProgress(ctx context.Context, fn func(image.Progress))
	Interrupt(ctx context.Context) error
}

// MeshGenerator is the mesh service adapter. *mesh.Client satisfies it.
type MeshGenerator interface {
	mesh.TaskClient
	GenerateSync(ctx context.Context, req mesh.Request) (*types.Artifact, error)
	Submit(ctx context.Context, req mesh.Request) (*mesh.Task, error)
	Health(ctx context.Context) types.ServiceStatus
}

// SceneAssembler is the authoring host adapter. *scene.Assembler satisfies it.
type SceneAssembler interface {
	Assemble(ctx context.Context, mesh *types.Artifact, md scene.Metadata) (*scene.Handle, error)
	Health(ctx context.Context) types.ServiceStatus
}

// Deps are the collaborators of an Engine. Mesh and Scene are mandatory;
// Image may be nil when only MODEL_FIRST runs are expected.
type Deps struct {
	Image   ImageGenerator
	Mesh    MeshGenerator
	Scene   SceneAssembler
	Presets PresetSource
	Metrics Metrics
	Events  EventSink
	Tracer  trace.Tracer
	Clock   mesh.Clock
	Logger  *zap.Logger
}

// Engine executes runs through the fixed stage table. One Engine serves
// many concurrent runs; it holds no per-run state.
type Engine struct {
	deps Deps
	cfg  config.WorkflowConfig
	tier optimizer.HardwareTier
	poll mesh.PollConfig

	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg config.WorkflowConfig, deps Deps) (*Engine, error) {
	if deps.Mesh == nil || deps.Scene == nil {
		return nil, errors.New("workflow: mesh and scene adapters are required")
	}
	tierName := cfg.HardwareTier
	if tierName == "" {
		tierName = string(optimizer.TierMedium)
	}
	tier, err := optimizer.ParseHardwareTier(tierName)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	if cfg.HybridImageWindow <= 0 {
		cfg.HybridImageWindow = config.DefaultWorkflowConfig().HybridImageWindow
	}
	if cfg.TaskDeadline <= 0 {
		cfg.TaskDeadline = config.DefaultWorkflowConfig().TaskDeadline
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	if deps.Clock == nil {
		deps.Clock = mesh.SystemClock()
	}

	return &Engine{
		deps:   deps,
		cfg:    cfg,
		tier:   tier,
		poll:   mesh.PollConfigFrom(cfg),
		logger: deps.Logger.With(zap.String("component", "workflow_engine")),
	}, nil
}

// NewRun allocates a run with every stage pending.
func (e *Engine) NewRun(req Request) *Run {
	return newRun(uuid.NewString(), req)
}

// Run executes req to completion and returns its report. Failures are
// reported through Report.Outcome and Report.Error, never as a Go error.
func (e *Engine) Run(ctx context.Context, req Request) *Report {
	return e.Execute(ctx, e.NewRun(req))
}

// Execute drives an allocated run through every stage.
func (e *Engine) Execute(ctx context.Context, run *Run) *Report {
	ctx = ctxkeys.WithRunID(ctx, run.ID)
	ctx, span := e.deps.Tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		telemetry.RunIDKey.String(run.ID),
	))
	defer span.End()

	x := &execution{
		e:      e,
		run:    run,
		logger: e.logger.With(zap.String("run_id", run.ID)),
	}
	run.start(time.Now())
	e.deps.Metrics.RunStarted()
	x.logger.Info("workflow started", zap.String("preset", run.Request.Preset))

	x.execute(ctx)
	rep := x.finalize()

	span.SetAttributes(
		telemetry.MethodKey.String(string(rep.Method)),
		telemetry.OutcomeKey.String(string(rep.Outcome)),
	)
	if rep.Error != nil {
		span.SetAttributes(telemetry.ErrorCodeKey.String(string(rep.Error.Code)))
		span.SetStatus(codes.Error, rep.Error.Message)
	}
	return rep
}

// execution 单次运行的私有状态
type execution struct {
	e      *Engine
	run    *Run
	logger *zap.Logger

	res      Resolved
	plan     Plan
	textTo3D bool

	// image 由图像阶段写入；HYBRID 下模型分支只在 imageDone 关闭后读取
	image      *types.Artifact
	imageInput bool
	mesh       *types.Artifact
}

type stageFunc func(ctx context.Context, sr *StageResult) error

func (x *execution) execute(ctx context.Context) {
	if !x.do(ctx, StageInitialization, x.initialize) {
		return
	}
	if x.plan.Method == types.MethodHybrid {
		if !x.hybrid(ctx) {
			return
		}
	} else {
		if !x.do(ctx, StageImageGeneration, x.generateImage) {
			return
		}
		if !x.do(ctx, StageModelGeneration, func(ctx context.Context, sr *StageResult) error {
			return x.generateModel(ctx, sr, x.image)
		}) {
			return
		}
	}
	if !x.do(ctx, StageSceneAssembly, x.assemble) {
		return
	}
	x.do(ctx, StageOptimization, x.optimize)
}

// skip 报告阶段是否按计划跳过
func (x *execution) skip(s Stage) (bool, string) {
	switch {
	case s == StageInitialization:
		return false, ""
	case !x.plan.Runs(s):
		return true, fmt.Sprintf("not part of the %s plan", x.plan.Method)
	case s == StageSceneAssembly && !x.mesh.Usable():
		return true, "no mesh artifact"
	case s == StageOptimization && !x.res.EnableOptimization:
		return true, "optimization disabled"
	}
	return false, ""
}

// do 执行一个阶段。返回 false 表示运行必须终止，其余阶段将被跳过
func (x *execution) do(ctx context.Context, s Stage, fn stageFunc) bool {
	if skip, reason := x.skip(s); skip {
		sr := x.run.Result(s)
		sr.Status = StatusSkipped
		x.run.commit(sr)
		x.e.deps.Metrics.RecordStage(string(s), string(StatusSkipped), 0)
		x.emit(s, StatusSkipped, reason, 0)
		return true
	}
	if ctx.Err() != nil {
		fn = func(ctx context.Context, _ *StageResult) error { return runContextError(ctx) }
	}

	ctx, span := x.e.deps.Tracer.Start(ctx, "workflow.stage."+strings.ToLower(string(s)), trace.WithAttributes(
		telemetry.StageKey.String(string(s)),
	))
	defer span.End()

	start := time.Now()
	x.run.begin(s, start)
	x.emit(s, StatusRunning, "", 0)

	sr := x.run.Result(s)
	err := fn(ctx, &sr)
	sr.Duration = time.Since(start)
	fatal := false
	if err != nil {
		err = stamp(err, s)
		sr.Status = StatusFailed
		sr.Error = detailOf(err, s)
		sr.err = err
		fatal = s == StageInitialization || x.plan.Requires(s) || types.IsCode(err, types.ErrCancelled)
		if !fatal {
			// 降级信息同时记在阶段结果与运行报告上
			sr.Warnings = append(sr.Warnings, fmt.Sprintf("%s failed: %s", s, sr.Error.Message))
		}
	} else if sr.Status == StatusRunning {
		sr.Status = StatusSucceeded
	}
	x.run.commit(sr)
	x.e.deps.Metrics.RecordStage(string(s), string(sr.Status), sr.Duration)
	span.SetAttributes(telemetry.StageStatusKey.String(string(sr.Status)))

	if err == nil {
		x.logger.Info("stage finished",
			zap.String("stage", string(s)),
			zap.String("status", string(sr.Status)),
			zap.Duration("duration", sr.Duration),
		)
		x.emit(s, sr.Status, "", 100)
		return true
	}

	telemetry.FailSpan(span, err)
	x.emit(s, StatusFailed, sr.Error.Message, 0)

	if fatal {
		x.logger.Error("stage failed",
			zap.String("stage", string(s)),
			zap.String("code", string(sr.Error.Code)),
			zap.Error(err),
		)
		return false
	}
	x.logger.Warn("optional stage failed",
		zap.String("stage", string(s)),
		zap.String("code", string(sr.Error.Code)),
		zap.Error(err),
	)
	x.run.warn(sr.Warnings[len(sr.Warnings)-1])
	return true
}

// stamp 补全错误上的阶段信息，非结构化错误归为 INTERNAL_ERROR
func stamp(err error, s Stage) error {
	te, ok := types.AsError(err)
	if !ok {
		return types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithStage(string(s))
	}
	if te.Stage == "" {
		te.WithStage(string(s))
	}
	return err
}

func runContextError(ctx context.Context) *types.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "run deadline exceeded")
	}
	return types.NewError(types.ErrCancelled, "run cancelled")
}

func (x *execution) emit(s Stage, status StageStatus, msg string, progress int) {
	x.e.deps.Events.Publish(Event{
		RunID:    x.run.ID,
		Stage:    s,
		Status:   status,
		Message:  msg,
		Progress: progress,
		Time:     time.Now(),
	})
}

// ===== INITIALIZATION =====

func (x *execution) initialize(ctx context.Context, sr *StageResult) error {
	res, err := resolve(x.run.Request, x.e.deps.Presets, x.e.tier, x.e.cfg.DefaultAsync)
	if err != nil {
		return err
	}
	if res.Budget <= 0 {
		res.Budget = x.e.cfg.TaskDeadline
	}
	plan, err := Select(res.Method)
	if err != nil {
		return err
	}
	x.res, x.plan = res, plan
	x.run.setResolved(res, plan)
	x.logger = x.logger.With(zap.String("strategy", string(res.Method)))

	x.logger.Info("request resolved",
		zap.String("preset", res.Preset),
		zap.String("goal", string(res.Goal)),
		zap.Int("width", res.Params.Image.Width),
		zap.Int("height", res.Params.Image.Height),
		zap.Int("steps", res.Params.Image.Steps),
		zap.Bool("async", res.Async),
		zap.Duration("estimated_image_time", res.EstimatedImageTime),
	)

	return x.checkServices(ctx)
}

type healthCheck struct {
	backend string
	health  func(context.Context) types.ServiceStatus
}

// checkServices 并发检查当前计划依赖的服务，任一不可达即失败
func (x *execution) checkServices(ctx context.Context) error {
	var checks []healthCheck
	if x.plan.NeedsImageService() {
		if x.e.deps.Image == nil {
			return types.NewError(types.ErrServiceUnavailable, "no image backend configured").WithBackend(image.BackendName)
		}
		checks = append(checks, healthCheck{image.BackendName, x.e.deps.Image.Health})
	}
	checks = append(checks,
		healthCheck{mesh.BackendName, x.e.deps.Mesh.Health},
		healthCheck{scene.BackendName, x.e.deps.Scene.Health},
	)

	statuses := make([]types.ServiceStatus, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range checks {
		g.Go(func() error {
			st := p.health(gctx)
			if st.Backend == "" {
				st.Backend = p.backend
			}
			statuses[i] = st
			if !st.Reachable {
				return types.Errorf(types.ErrServiceUnavailable, "%s is unreachable: %s", st.Backend, st.Error).
					WithBackend(st.Backend)
			}
			return nil
		})
	}
	err := g.Wait()
	x.run.setServices(statuses)
	if ctx.Err() != nil {
		return runContextError(ctx)
	}
	if err != nil {
		return err
	}

	for _, st := range statuses {
		if st.Backend == mesh.BackendName {
			x.textTo3D = st.Has(types.CapabilityTextTo3D)
		}
	}
	return nil
}

// ===== IMAGE_GENERATION =====

func (x *execution) generateImage(ctx context.Context, sr *StageResult) error {
	req := image.Request{
		Prompt:         x.run.Request.Description,
		NegativePrompt: x.res.NegativePrompt,
		Params:         x.res.Params.Image,
	}
	var art *types.Artifact
	var err error
	if mon, ok := x.e.deps.Image.(ImageMonitor); ok {
		art, err = x.monitorImage(ctx, mon, req)
	} else {
		art, err = x.e.deps.Image.GenerateSync(ctx, req)
	}
	if err != nil {
		return err
	}
	sr.Artifact = art
	x.image = art
	return nil
}

// monitorImage 出图期间把采样进度转成 RUNNING 事件；运行被取消时中断服务端任务
func (x *execution) monitorImage(ctx context.Context, mon ImageMonitor, req image.Request) (*types.Artifact, error) {
	watchCtx, stop := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		mon.WatchProgress(watchCtx, func(p image.Progress) {
			pct := int(p.Progress * 100)
			if pct <= 0 || pct >= 100 {
				return
			}
			x.emit(StageImageGeneration, StatusRunning,
				fmt.Sprintf("step %d/%d", p.State.SamplingStep, p.State.SamplingSteps), pct)
		})
	}()

	art, err := x.e.deps.Image.GenerateSync(ctx, req)
	stop()
	<-watched

	if err != nil && ctx.Err() != nil {
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ierr := mon.Interrupt(ictx); ierr != nil {
			x.logger.Warn("interrupt image job failed", zap.Error(ierr))
		} else {
			x.logger.Info("image job interrupted")
		}
	}
	return art, err
}

// ===== MODEL_GENERATION =====

func (x *execution) generateModel(ctx context.Context, sr *StageResult, img *types.Artifact) error {
	req := mesh.Request{Params: x.res.Params.Mesh}
	switch {
	case img.Usable():
		req.Image = img.Data
		x.imageInput = true
	case x.plan.Get(StageModelGeneration).ImageRequired:
		return types.NewError(types.ErrMissingInput, "model generation requires an image").WithBackend(mesh.BackendName)
	case !x.textTo3D:
		return types.NewError(types.ErrMissingInput, "mesh service requires an image input and no image is available").
			WithBackend(mesh.BackendName)
	default:
		req.Text = x.run.Request.Description
	}

	var (
		art *types.Artifact
		err error
	)
	if x.res.Async {
		art, err = x.waitTask(ctx, sr, req)
	} else {
		art, err = x.e.deps.Mesh.GenerateSync(ctx, req)
	}
	if err != nil {
		return err
	}
	sr.Artifact = art
	x.mesh = art
	return nil
}

func (x *execution) waitTask(ctx context.Context, sr *StageResult, req mesh.Request) (*types.Artifact, error) {
	task, err := x.e.deps.Mesh.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	x.logger.Info("mesh task submitted", zap.String("task_id", task.ID))

	poller := mesh.NewPoller(x.e.deps.Mesh, x.e.poll, x.logger).
		WithClock(x.e.deps.Clock).
		WithRecorder(x.e.deps.Metrics).
		WithProgress(func(t mesh.Task) {
			x.run.setTask(StageModelGeneration, t)
			x.emit(StageModelGeneration, StatusRunning, "task "+string(t.LastStatus), t.Progress)
		})

	art, err := poller.Wait(ctx, task)
	snapshot := *task
	sr.Task = &snapshot
	return art, err
}

// ===== SCENE_ASSEMBLY =====

func (x *execution) assemble(ctx context.Context, sr *StageResult) error {
	md := x.res.Scene
	// 未作为主输入的图像用作纹理参考
	if len(md.TextureImage) == 0 && x.image.Usable() && !x.imageInput {
		md.TextureImage = x.image.Data
	}
	h, err := x.e.deps.Scene.Assemble(ctx, x.mesh, md)
	if err != nil {
		return err
	}
	sr.Artifact = h.Artifact()
	x.run.setHandle(h)
	return nil
}

// ===== OPTIMIZATION =====

func (x *execution) optimize(_ context.Context, sr *StageResult) error {
	observed := optimizer.Timings{Model: x.run.Result(StageModelGeneration).Duration}
	if r := x.run.Result(StageImageGeneration); r.Status == StatusSucceeded {
		observed.Image = r.Duration
	}
	s, err := optimizer.Refine(x.res.Params, observed, x.res.Budget)
	if err != nil {
		return err
	}
	x.run.setSuggestion(s)
	if s.Changed {
		sr.Warnings = append(sr.Warnings, s.Notes...)
	}
	return nil
}

// ===== FINALIZATION =====

func (x *execution) finalize() *Report {
	x.run.skipPending()

	start := time.Now()
	x.run.begin(StageFinalization, start)
	x.emit(StageFinalization, StatusRunning, "", 0)

	outcome, primary := x.aggregate()
	sr := x.run.Result(StageFinalization)
	sr.Status = StatusSucceeded
	sr.Duration = time.Since(start)
	x.run.commit(sr)
	x.run.finish(outcome, primary, time.Now())

	if dir := x.e.cfg.ReportDir; dir != "" {
		if path, err := writeReport(dir, x.run.Report()); err != nil {
			msg := fmt.Sprintf("write report: %v", err)
			sr.Warnings = append(sr.Warnings, msg)
			x.run.commit(sr)
			x.run.warn(msg)
			x.logger.Warn("report not written", zap.Error(err))
		} else {
			x.logger.Debug("report written", zap.String("path", path))
		}
	}

	rep := x.run.Report()
	var code string
	if rep.Error != nil {
		code = string(rep.Error.Code)
	}
	strategy := string(x.plan.Method)
	if strategy == "" {
		strategy = "unresolved"
	}
	x.e.deps.Metrics.RecordStage(string(StageFinalization), string(StatusSucceeded), sr.Duration)
	x.e.deps.Metrics.RecordRun(strategy, string(outcome), code, rep.Duration)

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", rep.Duration),
		zap.Int("warnings", len(rep.Warnings)),
	}
	if rep.Error != nil {
		fields = append(fields, zap.String("error_code", code), zap.String("error_stage", string(rep.Error.Stage)))
	}
	x.logger.Info("workflow finished", fields...)

	x.e.deps.Events.Publish(Event{
		RunID:    x.run.ID,
		Stage:    StageFinalization,
		Status:   StatusSucceeded,
		Progress: 100,
		Outcome:  outcome,
		Time:     time.Now(),
	})
	return rep
}

// aggregate 所有必需阶段成功才算 SUCCEEDED；主错误取阶段顺序中第一个致命错误
func (x *execution) aggregate() (Outcome, error) {
	var (
		primary error
		ok      = true
		failed  Stage
	)
	for _, s := range Stages {
		if s == StageFinalization {
			continue
		}
		r := x.run.Result(s)
		required := s == StageInitialization || x.plan.Requires(s)
		if r.Status == StatusFailed && primary == nil && (required || types.IsCode(r.err, types.ErrCancelled)) {
			primary = r.err
		}
		if required && r.Status != StatusSucceeded {
			ok = false
			if failed == "" {
				failed = s
			}
		}
	}
	if ok && primary == nil {
		return OutcomeSucceeded, nil
	}
	if primary == nil {
		primary = types.Errorf(types.ErrInternalError, "required stage %s did not succeed", failed).WithStage(string(failed))
	}
	return OutcomeFailed, primary
}

func writeReport(dir string, rep *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "workflow_report_"+rep.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
