package workflow

import (
	"github.com/BaSui01/scenegen/types"
)

// Requirement says whether a stage must succeed for the run to succeed.
type Requirement string

const (
	Required Requirement = "required"
	Optional Requirement = "optional"
	Skipped  Requirement = "skipped"
)

// StagePlan is the per-stage entry of a Plan.
type StagePlan struct {
	Stage       Stage       `json:"stage"`
	Requirement Requirement `json:"requirement"`
	// Concurrent 与同一 Plan 中其他 Concurrent 阶段并行派发
	Concurrent bool `json:"concurrent,omitempty"`
	// ImageRequired 模型阶段必须拿到图像作为主输入
	ImageRequired bool `json:"image_required,omitempty"`
	// ImageReference 模型阶段在窗口内尽力等待图像，迟到的图像作为纹理参考
	ImageReference bool `json:"image_reference,omitempty"`
}

// Plan is the ordered stage table produced for one method.
type Plan struct {
	Method types.Method `json:"method"`
	Stages []StagePlan  `json:"stages"`
}

// Get returns the entry for s. Unknown stages are reported as skipped.
func (p Plan) Get(s Stage) StagePlan {
	for _, sp := range p.Stages {
		if sp.Stage == s {
			return sp
		}
	}
	return StagePlan{Stage: s, Requirement: Skipped}
}

// Runs reports whether s is executed under this plan.
func (p Plan) Runs(s Stage) bool {
	return p.Get(s).Requirement != Skipped
}

// Requires reports whether s must succeed.
func (p Plan) Requires(s Stage) bool {
	return p.Get(s).Requirement == Required
}

// NeedsImageService reports whether the run talks to the image service.
func (p Plan) NeedsImageService() bool {
	return p.Runs(StageImageGeneration)
}

// Select maps a generation method to its stage plan.
func Select(method types.Method) (Plan, error) {
	m, err := types.ParseMethod(string(method))
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Method: m}
	add := func(sp StagePlan) { plan.Stages = append(plan.Stages, sp) }

	add(StagePlan{Stage: StageInitialization, Requirement: Required})
	switch m {
	case types.MethodImageFirst:
		add(StagePlan{Stage: StageImageGeneration, Requirement: Required})
		add(StagePlan{Stage: StageModelGeneration, Requirement: Required, ImageRequired: true})
	case types.MethodModelFirst:
		add(StagePlan{Stage: StageImageGeneration, Requirement: Skipped})
		add(StagePlan{Stage: StageModelGeneration, Requirement: Required})
	case types.MethodHybrid:
		// 图像失败只降级为警告
		add(StagePlan{Stage: StageImageGeneration, Requirement: Optional, Concurrent: true})
		add(StagePlan{Stage: StageModelGeneration, Requirement: Required, Concurrent: true, ImageReference: true})
	}
	add(StagePlan{Stage: StageSceneAssembly, Requirement: Required})
	add(StagePlan{Stage: StageOptimization, Requirement: Optional})
	add(StagePlan{Stage: StageFinalization, Requirement: Required})
	return plan, nil
}
