package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend"
	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/backend/mesh"
	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/metrics"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/store"
	"github.com/BaSui01/scenegen/workflow"
)

// app 是 serve 与 run 共用的运行时组件
type app struct {
	image    *image.Client
	mesh     *mesh.Client
	scene    *scene.Client
	presets  *preset.Registry
	store    store.Store
	runs     *workflow.Manager
	recorder *metrics.Collector
}

// newApp 按配置装配适配器、预设、存储与运行管理器。
// collector 为 nil 时不记录指标。
func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*app, error) {
	var rec backend.Recorder = backend.NopRecorder()
	if collector != nil {
		rec = collector
	}

	a := &app{
		image:    image.New(cfg.Image, rec, logger),
		mesh:     mesh.New(cfg.Mesh, rec, logger),
		scene:    scene.New(cfg.Scene, rec, logger),
		presets:  preset.NewRegistry(logger),
		recorder: collector,
	}
	if collector != nil {
		a.presets.WithRecorder(collector)
	}

	if path := cfg.Workflow.PresetsFile; path != "" {
		n, err := a.presets.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load presets: %w", err)
		}
		logger.Info("custom presets loaded", zap.String("path", path), zap.Int("count", n))
	}

	st, err := store.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.store = st

	deps := workflow.Deps{
		Image:   a.image,
		Mesh:    a.mesh,
		Scene:   scene.NewAssembler(a.scene, logger),
		Presets: a.presets,
		Logger:  logger,
	}
	if collector != nil {
		deps.Metrics = collector
	}

	runs, err := workflow.NewManager(cfg.Workflow, deps, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create workflow manager: %w", err)
	}
	a.runs = runs

	logger.Info("workflow runtime ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("hardware_tier", cfg.Workflow.HardwareTier),
		zap.Int("workers", cfg.Workflow.Workers),
	)
	return a, nil
}

// close 先停止运行管理器，再关闭存储
func (a *app) close() error {
	if a.runs != nil {
		a.runs.Close()
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
