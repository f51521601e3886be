package optimizer

import (
	"fmt"
	"time"

	"github.com/BaSui01/scenegen/types"
)

const (
	// 每步基准耗时（秒）
	baseSecondsPerStep = 2.0
	// 放大倍率每增加 1.0 耗时增加 80%
	hrTimeWeight = 0.8
)

// Estimate 估算一次文生图的耗时
//
//	2.0s × steps × 档位系数 ÷ 采样器速度 × (w·h)/(512·512) × (1 + (hr-1)·0.8) × batch
func Estimate(ps ParameterSet, tier HardwareTier) time.Duration {
	limits, ok := tierTable[tier]
	if !ok {
		limits = tierTable[TierMedium]
	}
	img := ps.Image
	speed, ok := samplerSpeed[img.Sampler]
	if !ok || speed <= 0 {
		speed = 1.0
	}
	resolution := float64(img.Width*img.Height) / float64(512*512)
	hr := 1.0
	if img.EnableHR {
		hr = 1 + (img.HRScale-1)*hrTimeWeight
	}
	batch := float64(max(img.BatchSize, 1))

	seconds := baseSecondsPerStep * float64(img.Steps) * limits.timeFactor / speed * resolution * hr * batch
	return time.Duration(seconds * float64(time.Second))
}

// Timings 实际观测到的阶段耗时
type Timings struct {
	Image time.Duration `json:"image"`
	Model time.Duration `json:"model"`
}

// Total 返回总耗时
func (t Timings) Total() time.Duration { return t.Image + t.Model }

// Suggestion 优化阶段给出的建议，仅供参考
type Suggestion struct {
	Params  ParameterSet `json:"params"`
	Changed bool         `json:"changed"`
	Notes   []string     `json:"notes,omitempty"`
}

// Refine 若实际耗时超出预算，按比例降低步数给出下一次运行的建议
// 步数下限为 10（图像）与 1（网格），其余字段保持不变
func Refine(ps ParameterSet, observed Timings, budget time.Duration) (Suggestion, error) {
	if budget <= 0 {
		return Suggestion{}, types.NewError(types.ErrValidation, "refine budget must be positive")
	}
	if observed.Image < 0 || observed.Model < 0 {
		return Suggestion{}, types.NewError(types.ErrValidation, "observed timings must not be negative")
	}

	s := Suggestion{Params: ps}
	total := observed.Total()
	if total <= budget {
		s.Notes = append(s.Notes, fmt.Sprintf("completed in %s within budget %s", total.Round(time.Second), budget))
		return s, nil
	}

	ratio := float64(budget) / float64(total)
	if observed.Image > 0 && ps.Image.Steps > 10 {
		next := max(10, int(float64(ps.Image.Steps)*ratio))
		if next < ps.Image.Steps {
			s.Notes = append(s.Notes, fmt.Sprintf("image steps %d -> %d", ps.Image.Steps, next))
			s.Params.Image.Steps = next
			s.Changed = true
		}
	}
	if observed.Model > 0 && ps.Mesh.Steps > MinMeshSteps {
		next := max(MinMeshSteps, int(float64(ps.Mesh.Steps)*ratio))
		if next < ps.Mesh.Steps {
			s.Notes = append(s.Notes, fmt.Sprintf("mesh steps %d -> %d", ps.Mesh.Steps, next))
			s.Params.Mesh.Steps = next
			s.Changed = true
		}
	}
	if !s.Changed {
		s.Notes = append(s.Notes, fmt.Sprintf("over budget by %s but parameters are already at their floor", (total-budget).Round(time.Second)))
	}

	params, err := Validate(s.Params)
	if err != nil {
		return Suggestion{}, err
	}
	s.Params = params
	return s, nil
}
