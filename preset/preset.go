package preset

import (
	"strings"

	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// Template 预设展开后的请求模板
type Template struct {
	Method               types.Method         `json:"method" yaml:"method"`
	ImageQuality         types.Quality        `json:"image_quality" yaml:"image_quality"`
	ModelQuality         types.Quality        `json:"model_quality" yaml:"model_quality"`
	Complexity           types.Complexity     `json:"scene_complexity" yaml:"scene_complexity"`
	Goal                 optimizer.Goal       `json:"goal" yaml:"goal"`
	EnableOptimization   bool                 `json:"enable_optimization" yaml:"enable_optimization"`
	EnablePostProcessing bool                 `json:"enable_post_processing" yaml:"enable_post_processing"`
	Overrides            *optimizer.Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Preset 命名、带版本的预设
type Preset struct {
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description" yaml:"description"`
	Version          string `json:"version" yaml:"version"`
	Template         `yaml:",inline"`
	EstimatedMinutes int  `json:"estimated_minutes" yaml:"estimated_minutes"`
	Builtin          bool `json:"builtin" yaml:"-"`
}

// Summary 预设列表项
type Summary struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Version          string         `json:"version"`
	Method           types.Method   `json:"method"`
	Goal             optimizer.Goal `json:"goal"`
	EstimatedMinutes int            `json:"estimated_minutes"`
	Builtin          bool           `json:"builtin"`
}

// Summary 返回列表视图
func (p Preset) Summary() Summary {
	return Summary{
		Name:             p.Name,
		Description:      p.Description,
		Version:          p.Version,
		Method:           p.Method,
		Goal:             p.Goal,
		EstimatedMinutes: p.EstimatedMinutes,
		Builtin:          p.Builtin,
	}
}

// Clone 深拷贝预设
func (p Preset) Clone() Preset {
	p.Overrides = p.Overrides.Clone()
	return p
}

// Validate 检查模板字段并补全默认值
func (t *Template) Validate() error {
	m, err := types.ParseMethod(string(t.Method))
	if err != nil {
		return err
	}
	t.Method = m

	if t.ImageQuality == "" {
		t.ImageQuality = types.QualityMedium
	}
	if t.ModelQuality == "" {
		t.ModelQuality = types.QualityMedium
	}
	if t.Complexity == "" {
		t.Complexity = types.ComplexityMedium
	}
	t.ImageQuality = types.Quality(strings.ToLower(string(t.ImageQuality)))
	t.ModelQuality = types.Quality(strings.ToLower(string(t.ModelQuality)))
	t.Complexity = types.Complexity(strings.ToLower(string(t.Complexity)))

	if !t.ImageQuality.Valid() {
		return types.Errorf(types.ErrValidation, "unknown image quality %q", t.ImageQuality)
	}
	if !t.ModelQuality.Valid() {
		return types.Errorf(types.ErrValidation, "unknown model quality %q", t.ModelQuality)
	}
	if !t.Complexity.Valid() {
		return types.Errorf(types.ErrValidation, "unknown scene complexity %q", t.Complexity)
	}

	if t.Goal == "" {
		t.Goal = optimizer.GoalBalanced
	}
	g, err := optimizer.ParseGoal(string(t.Goal))
	if err != nil {
		return types.NewError(types.ErrValidation, err.Error()).WithCause(err)
	}
	t.Goal = g
	return nil
}

// normalizeName 名称查找大小写不敏感并忽略首尾空白
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
