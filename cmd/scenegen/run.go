package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/types"
	"github.com/BaSui01/scenegen/workflow"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

// runOptions run 命令中与请求无关的选项
type runOptions struct {
	configPath string
	output     string
	timeout    time.Duration
	persist    bool
}

// parseRunArgs 解析 run 命令参数，剩余参数拼接为描述
func parseRunArgs(args []string, stderr io.Writer) (workflow.Request, runOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts    runOptions
		req     workflow.Request
		method  string
		goal    string
		syncGen bool
		noOpt   bool
	)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.output, "output", "", "Write the report JSON to this file")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Overall run timeout")
	fs.BoolVar(&opts.persist, "persist", false, "Save the report to the configured store")
	fs.StringVar(&req.Preset, "preset", "", "Preset name")
	fs.StringVar(&method, "method", "", "IMAGE_FIRST, MODEL_FIRST or HYBRID")
	fs.StringVar(&goal, "goal", "", "speed, quality or balanced")
	fs.StringVar((*string)(&req.ImageQuality), "image-quality", "", "low, medium, high or ultra")
	fs.StringVar((*string)(&req.ModelQuality), "model-quality", "", "low, medium, high or ultra")
	fs.StringVar((*string)(&req.Complexity), "complexity", "", "simple, medium or complex")
	fs.StringVar(&req.NegativePrompt, "negative", "", "Negative prompt")
	fs.StringVar(&req.Scene.ObjectName, "object-name", "", "Name of the imported object")
	fs.StringVar(&req.Scene.LightingPreset, "lighting", "", "studio, outdoor or none")
	fs.StringVar(&req.Scene.CameraPreset, "camera", "", "front, isometric or none")
	fs.BoolVar(&syncGen, "sync-mesh", false, "Use the synchronous mesh endpoint")
	fs.BoolVar(&noOpt, "no-optimize", false, "Skip the OPTIMIZATION stage")

	if err := fs.Parse(args); err != nil {
		return req, opts, err
	}

	req.Description = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if req.Description == "" {
		return req, opts, errors.New("a scene description is required")
	}
	if method != "" {
		m, err := types.ParseMethod(method)
		if err != nil {
			return req, opts, err
		}
		req.Method = m
	}
	if goal != "" {
		g, err := optimizer.ParseGoal(goal)
		if err != nil {
			return req, opts, err
		}
		req.Goal = g
	}
	if syncGen {
		req.Async = workflow.Bool(false)
	}
	if noOpt {
		req.EnableOptimization = workflow.Bool(false)
	}
	if _, err := (scene.Metadata{
		LightingPreset: req.Scene.LightingPreset,
		CameraPreset:   req.Scene.CameraPreset,
	}).Normalize(); err != nil {
		return req, opts, err
	}
	return req, opts, nil
}

// runWorkflow 在终端执行一次工作流并打印报告，返回进程退出码
func runWorkflow(args []string) int {
	req, opts, err := parseRunArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 2
	}

	cfg := loadConfig(opts.configPath)
	if !opts.persist {
		cfg.Store.Driver = "memory"
	}
	// stdout 留给报告 JSON
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("close runtime", zap.Error(err))
		}
	}()

	rep, err := a.runs.Run(ctx, req)
	if rep == nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}
	if err != nil {
		logger.Warn("report not persisted", zap.Error(err))
	}

	if err := writeReportJSON(os.Stdout, rep); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}
	if opts.output != "" {
		if err := saveReport(opts.output, rep); err != nil {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
			return 1
		}
	}

	summarize(os.Stderr, rep)
	if rep.Outcome != workflow.OutcomeSucceeded {
		return 1
	}
	return 0
}

func writeReportJSON(w io.Writer, rep *workflow.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func saveReport(path string, rep *workflow.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := writeReportJSON(f, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	return f.Close()
}

// summarize 打印每个阶段的状态与耗时
func summarize(w io.Writer, rep *workflow.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run %s: %s (%s)\n", rep.ID, rep.Outcome, rep.Duration.Round(time.Millisecond))
	for _, st := range rep.Stages {
		line := fmt.Sprintf("  %s\t%s\t%s", st.Stage, st.Status, st.Duration.Round(time.Millisecond))
		if st.Error != nil {
			line += "\t" + string(st.Error.Code) + ": " + st.Error.Message
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

// =============================================================================
// 📚 presets 命令
// =============================================================================

func runPresets(args []string) int {
	fs := flag.NewFlagSet("presets", flag.ContinueOnError)
	file := fs.String("presets", "", "YAML file with custom presets")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	reg := preset.NewRegistry(nil)
	if *file != "" {
		if _, err := reg.LoadFile(*file); err != nil {
			fmt.Fprintf(os.Stderr, "presets: %v\n", err)
			return 1
		}
	}

	list := reg.List()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(list); err != nil {
			return 1
		}
		return 0
	}
	writePresetTable(os.Stdout, list)
	return 0
}

func writePresetTable(w io.Writer, list []preset.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMETHOD\tGOAL\tMINUTES\tSOURCE\tDESCRIPTION")
	for _, p := range list {
		source := "custom"
		if p.Builtin {
			source = "builtin"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", p.Name, p.Method, p.Goal, p.EstimatedMinutes, source, p.Description)
	}
	_ = tw.Flush()
}
