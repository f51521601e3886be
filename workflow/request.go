package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/types"
)

// Request describes one text-to-scene run. Zero-valued fields fall back to
// the named preset, pointer flags distinguish "unset" from false.
type Request struct {
	Description          string               `json:"description"`
	Preset               string               `json:"preset,omitempty"`
	Method               types.Method         `json:"method,omitempty"`
	ImageQuality         types.Quality        `json:"image_quality,omitempty"`
	ModelQuality         types.Quality        `json:"model_quality,omitempty"`
	Complexity           types.Complexity     `json:"scene_complexity,omitempty"`
	Goal                 optimizer.Goal       `json:"goal,omitempty"`
	EnableOptimization   *bool                `json:"enable_optimization,omitempty"`
	EnablePostProcessing *bool                `json:"enable_post_processing,omitempty"`
	Async                *bool                `json:"async,omitempty"`
	NegativePrompt       string               `json:"negative_prompt,omitempty"`
	// ImageType 为空时从描述推断
	ImageType optimizer.ImageType `json:"image_type,omitempty"`
	// ImageTimeBudgetSeconds 单张图像的耗时预算，0 表示不限
	ImageTimeBudgetSeconds int                  `json:"image_time_budget_seconds,omitempty"`
	Overrides              *optimizer.Overrides `json:"overrides,omitempty"`
	Scene                  scene.Metadata       `json:"scene,omitempty"`
}

// Clone returns a deep copy so a running engine never shares state with the caller.
func (r Request) Clone() Request {
	r.EnableOptimization = clonePtr(r.EnableOptimization)
	r.EnablePostProcessing = clonePtr(r.EnablePostProcessing)
	r.Async = clonePtr(r.Async)
	r.Overrides = r.Overrides.Clone()
	if r.Scene.TextureImage != nil {
		r.Scene.TextureImage = append([]byte(nil), r.Scene.TextureImage...)
	}
	return r
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Bool returns a pointer to v, for building requests literally.
func Bool(v bool) *bool { return &v }

// PresetSource resolves preset names. *preset.Registry satisfies it.
type PresetSource interface {
	Get(name string) (preset.Preset, error)
}

// Resolved is the concrete configuration a run executes with.
type Resolved struct {
	Method               types.Method           `json:"method"`
	Preset               string                 `json:"preset,omitempty"`
	ImageQuality         types.Quality          `json:"image_quality"`
	ModelQuality         types.Quality          `json:"model_quality"`
	Complexity           types.Complexity       `json:"scene_complexity"`
	Goal                 optimizer.Goal         `json:"goal"`
	HardwareTier         optimizer.HardwareTier `json:"hardware_tier"`
	EnableOptimization   bool                   `json:"enable_optimization"`
	EnablePostProcessing bool                   `json:"enable_post_processing"`
	Async                bool                   `json:"async"`
	NegativePrompt       string                 `json:"negative_prompt,omitempty"`
	ImageType            optimizer.ImageType    `json:"image_type"`
	Params               optimizer.ParameterSet `json:"params"`
	Scene                scene.Metadata         `json:"scene"`
	EstimatedImageTime   time.Duration          `json:"estimated_image_time"`
	// Budget 优化阶段比较实际耗时用的预算，取预设的预计分钟数
	Budget time.Duration `json:"budget,omitempty"`
}

// resolve 合并预设模板与请求字段，计算参数集
func resolve(req Request, presets PresetSource, tier optimizer.HardwareTier, defaultAsync bool) (Resolved, error) {
	if strings.TrimSpace(req.Description) == "" {
		return Resolved{}, types.NewError(types.ErrValidation, "description is required")
	}

	tpl := preset.Template{EnableOptimization: true, EnablePostProcessing: true}
	var (
		presetName string
		budget     time.Duration
	)
	if name := strings.TrimSpace(req.Preset); name != "" {
		if presets == nil {
			return Resolved{}, types.Errorf(types.ErrValidation, "preset %q cannot be resolved: no registry", name)
		}
		p, err := presets.Get(name)
		if err != nil {
			return Resolved{}, types.NewError(types.ErrValidation, fmt.Sprintf("unresolvable preset %q", name)).WithCause(err)
		}
		tpl, presetName = p.Template, p.Name
		budget = time.Duration(p.EstimatedMinutes) * time.Minute
	}

	if req.Method != "" {
		tpl.Method = req.Method
	}
	if req.ImageQuality != "" {
		tpl.ImageQuality = req.ImageQuality
	}
	if req.ModelQuality != "" {
		tpl.ModelQuality = req.ModelQuality
	}
	if req.Complexity != "" {
		tpl.Complexity = req.Complexity
	}
	if req.Goal != "" {
		tpl.Goal = req.Goal
	}
	if req.EnableOptimization != nil {
		tpl.EnableOptimization = *req.EnableOptimization
	}
	if req.EnablePostProcessing != nil {
		tpl.EnablePostProcessing = *req.EnablePostProcessing
	}
	if tpl.Method == "" {
		return Resolved{}, types.NewError(types.ErrValidation, "either a preset or a method is required")
	}
	if err := tpl.Validate(); err != nil {
		return Resolved{}, err
	}

	imageType := optimizer.DetectImageType(req.Description)
	if req.ImageType != "" {
		t, err := optimizer.ParseImageType(string(req.ImageType))
		if err != nil {
			return Resolved{}, err
		}
		imageType = t
	}
	if req.ImageTimeBudgetSeconds < 0 {
		return Resolved{}, types.NewError(types.ErrValidation, "image_time_budget_seconds must not be negative")
	}

	ps, err := optimizer.Optimize(tpl.Goal, tier, optimizer.Meta{
		ImageQuality: tpl.ImageQuality,
		ModelQuality: tpl.ModelQuality,
		Complexity:   tpl.Complexity,
		ImageType:    imageType,
		TimeBudget:   time.Duration(req.ImageTimeBudgetSeconds) * time.Second,
	})
	if err != nil {
		return Resolved{}, err
	}
	// 预设覆盖先于请求覆盖
	if ps, err = optimizer.Apply(ps, tpl.Overrides); err != nil {
		return Resolved{}, err
	}
	if ps, err = optimizer.Apply(ps, req.Overrides); err != nil {
		return Resolved{}, err
	}

	md, err := req.Scene.Normalize()
	if err != nil {
		return Resolved{}, err
	}
	if !tpl.EnablePostProcessing {
		if md.LightingPreset == scene.LightingDefault {
			md.LightingPreset = scene.LightingNone
		}
		if md.CameraPreset == scene.CameraDefault {
			md.CameraPreset = scene.CameraNone
		}
	}

	async := defaultAsync
	if req.Async != nil {
		async = *req.Async
	}

	return Resolved{
		Method:               tpl.Method,
		Preset:               presetName,
		ImageQuality:         tpl.ImageQuality,
		ModelQuality:         tpl.ModelQuality,
		Complexity:           tpl.Complexity,
		Goal:                 tpl.Goal,
		HardwareTier:         tier,
		EnableOptimization:   tpl.EnableOptimization,
		EnablePostProcessing: tpl.EnablePostProcessing,
		Async:                async,
		NegativePrompt:       req.NegativePrompt,
		ImageType:            imageType,
		Params:               ps,
		Scene:                md,
		EstimatedImageTime:   optimizer.Estimate(ps, tier),
		Budget:               budget,
	}, nil
}
