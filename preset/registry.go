package preset

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// Recorder 接收自定义预设注册结果，*metrics.Collector 满足该接口
type Recorder interface {
	RecordPresetRegistration(result string)
}

// Registry 预设注册表，并发安全
type Registry struct {
	mu       sync.RWMutex
	presets  map[string]Preset
	recorder Recorder
	logger   *zap.Logger
}

// NewRegistry 创建注册表并写入内置预设
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		presets: make(map[string]Preset),
		logger:  logger.With(zap.String("component", "preset_registry")),
	}
	for _, p := range Builtins() {
		r.presets[p.Name] = p
	}
	return r
}

// WithRecorder 设置注册结果的指标接收方
func (r *Registry) WithRecorder(rec Recorder) *Registry {
	r.recorder = rec
	return r
}

// Get 按名称获取预设副本
func (r *Registry) Get(name string) (Preset, error) {
	key := normalizeName(name)

	r.mu.RLock()
	p, ok := r.presets[key]
	r.mu.RUnlock()

	if !ok {
		return Preset{}, types.Errorf(types.ErrNotFound, "preset %q not found", name)
	}
	return p.Clone(), nil
}

// Register 注册自定义预设
func (r *Registry) Register(name string, p Preset) error {
	err := r.register(name, p)
	r.record(err)
	return err
}

func (r *Registry) register(name string, p Preset) error {
	key := normalizeName(name)
	if key == "" {
		return types.NewError(types.ErrValidation, "preset name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.presets[key]; ok {
		if existing.Builtin {
			return types.Errorf(types.ErrImmutable, "preset %q is built-in and read-only", key)
		}
		return types.Errorf(types.ErrDuplicateName, "preset %q already exists", key)
	}

	p = p.Clone()
	if err := p.Template.Validate(); err != nil {
		return err
	}
	if err := checkOverrides(key, p.Template); err != nil {
		return err
	}
	if p.EstimatedMinutes < 0 {
		return types.NewError(types.ErrValidation, "estimated_minutes must not be negative")
	}
	if p.EstimatedMinutes == 0 {
		p.EstimatedMinutes = defaultMinutes(p.Goal)
	}
	if p.Version == "" {
		p.Version = builtinVersion
	}
	p.Name = key
	p.Builtin = false
	r.presets[key] = p

	r.logger.Info("custom preset registered",
		zap.String("preset", key),
		zap.String("method", string(p.Method)),
		zap.String("goal", string(p.Goal)),
	)
	return nil
}

func (r *Registry) record(err error) {
	if r.recorder == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(types.GetErrorCode(err))
	}
	r.recorder.RecordPresetRegistration(result)
}

// List 返回预设列表，内置在前，同类按名称排序
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Builtin != out[j].Builtin {
			return out[i].Builtin
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// presetFile 预设文件格式
//
//	presets:
//	  - name: turntable
//	    method: HYBRID
//	    image_quality: high
type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadFile 从 YAML 文件注册自定义预设，返回成功注册的数量
// 遇到第一个错误即停止，已注册的预设保留
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read preset file: %w", err)
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, types.NewError(types.ErrValidation, "invalid preset file").WithCause(err)
	}

	for i, p := range f.Presets {
		if err := r.Register(p.Name, p); err != nil {
			return i, fmt.Errorf("preset #%d (%s): %w", i+1, p.Name, err)
		}
	}
	r.logger.Info("preset file loaded", zap.String("path", path), zap.Int("count", len(f.Presets)))
	return len(f.Presets), nil
}

func defaultMinutes(goal optimizer.Goal) int {
	switch goal {
	case optimizer.GoalSpeed:
		return 3
	case optimizer.GoalQuality:
		return 15
	default:
		return 8
	}
}

// checkOverrides 注册时试算一次参数集，覆盖项无效时返回 INVALID_PARAMETER
func checkOverrides(name string, t Template) error {
	if t.Overrides == nil {
		return nil
	}
	ps, err := optimizer.Optimize(t.Goal, optimizer.TierMedium, optimizer.Meta{
		ImageQuality: t.ImageQuality,
		ModelQuality: t.ModelQuality,
		Complexity:   t.Complexity,
	})
	if err == nil {
		_, err = optimizer.Apply(ps, t.Overrides)
	}
	if err != nil {
		msg := err.Error()
		if te, ok := types.AsError(err); ok {
			msg = te.Message
		}
		return types.NewError(types.ErrInvalidParameter, fmt.Sprintf("preset %q overrides: %s", name, msg)).WithCause(err)
	}
	return nil
}
