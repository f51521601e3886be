package preset

import (
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

const builtinVersion = "1.0"

// Builtins 返回内置预设的新副本
func Builtins() []Preset {
	return []Preset{
		{
			Name:        "fast",
			Description: "Text-to-3D directly, lowest cost and latency",
			Version:     builtinVersion,
			Template: Template{
				Method:       types.MethodModelFirst,
				ImageQuality: types.QualityLow,
				ModelQuality: types.QualityLow,
				Complexity:   types.ComplexitySimple,
				Goal:         optimizer.GoalSpeed,
			},
			EstimatedMinutes: 3,
			Builtin:          true,
		},
		{
			Name:        "balanced",
			Description: "Image and model generated concurrently, image used as texture reference",
			Version:     builtinVersion,
			Template: Template{
				Method:             types.MethodHybrid,
				ImageQuality:       types.QualityMedium,
				ModelQuality:       types.QualityMedium,
				Complexity:         types.ComplexityMedium,
				Goal:               optimizer.GoalBalanced,
				EnableOptimization: true,
			},
			EstimatedMinutes: 8,
			Builtin:          true,
		},
		{
			Name:        "quality",
			Description: "High quality reference image first, then image-to-3D",
			Version:     builtinVersion,
			Template: Template{
				Method:               types.MethodImageFirst,
				ImageQuality:         types.QualityHigh,
				ModelQuality:         types.QualityHigh,
				Complexity:           types.ComplexityMedium,
				Goal:                 optimizer.GoalQuality,
				EnableOptimization:   true,
				EnablePostProcessing: true,
			},
			EstimatedMinutes: 15,
			Builtin:          true,
		},
		{
			Name:        "creative",
			Description: "Exploratory hybrid run with detailed imagery and complex scenes",
			Version:     builtinVersion,
			Template: Template{
				Method:               types.MethodHybrid,
				ImageQuality:         types.QualityHigh,
				ModelQuality:         types.QualityMedium,
				Complexity:           types.ComplexityComplex,
				Goal:                 optimizer.GoalQuality,
				EnableOptimization:   true,
				EnablePostProcessing: true,
			},
			EstimatedMinutes: 12,
			Builtin:          true,
		},
	}
}
