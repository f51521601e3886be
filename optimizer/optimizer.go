package optimizer

import (
	"strings"
	"time"
	"unicode"

	"github.com/BaSui01/scenegen/types"
)

// Goal 优化目标
type Goal string

const (
	GoalSpeed    Goal = "speed"
	GoalQuality  Goal = "quality"
	GoalBalanced Goal = "balanced"
)

// ParseGoal 解析优化目标（大小写不敏感）
func ParseGoal(s string) (Goal, error) {
	g := Goal(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := goalTable[g]; !ok {
		return "", types.Errorf(types.ErrInvalidGoal, "unknown optimization goal %q", s)
	}
	return g, nil
}

// HardwareTier 硬件档位
type HardwareTier string

const (
	TierLow    HardwareTier = "low"
	TierMedium HardwareTier = "medium"
	TierHigh   HardwareTier = "high"
	TierUltra  HardwareTier = "ultra"
)

// ParseHardwareTier 解析硬件档位（大小写不敏感）
func ParseHardwareTier(s string) (HardwareTier, error) {
	t := HardwareTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierTable[t]; !ok {
		return "", types.Errorf(types.ErrInvalidHardwareTier, "unknown hardware tier %q", s)
	}
	return t, nil
}

// ImageType 画面类型，影响尺寸与 CFG
type ImageType string

const (
	ImageGeneral   ImageType = "general"
	ImagePortrait  ImageType = "portrait"
	ImageLandscape ImageType = "landscape"
	ImageArtistic  ImageType = "artistic"
)

// Valid 报告是否为已知类型
func (t ImageType) Valid() bool {
	switch t {
	case ImageGeneral, ImagePortrait, ImageLandscape, ImageArtistic:
		return true
	}
	return false
}

// ParseImageType 解析画面类型（大小写不敏感）
func ParseImageType(s string) (ImageType, error) {
	t := ImageType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", types.Errorf(types.ErrValidation, "unknown image type %q", s)
	}
	return t, nil
}

// 按顺序匹配，先命中者优先
var imageTypeKeywords = []struct {
	kind  ImageType
	words []string
}{
	{ImagePortrait, []string{"portrait", "face", "person", "character"}},
	{ImageLandscape, []string{"landscape", "scenery", "nature", "outdoor"}},
	{ImageArtistic, []string{"art", "painting", "artistic", "style"}},
}

// DetectImageType 按提示词中的关键词推断画面类型，无命中时为 general
func DetectImageType(prompt string) ImageType {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}
	for _, kw := range imageTypeKeywords {
		for _, w := range kw.words {
			if seen[w] {
				return kw.kind
			}
		}
	}
	return ImageGeneral
}

// Meta 描述本次生成的质量与复杂度要求
type Meta struct {
	ImageQuality types.Quality    `json:"image_quality"`
	ModelQuality types.Quality    `json:"model_quality"`
	Complexity   types.Complexity `json:"scene_complexity"`
	// ImageType 为空时按 general 处理，调用方可用 DetectImageType 从提示词推断
	ImageType ImageType `json:"image_type,omitempty"`
	// TimeBudget 单张图像的耗时预算，0 表示不限
	TimeBudget time.Duration `json:"time_budget,omitempty"`
}

type goalDefaults struct {
	steps    int
	cfg      float64
	sampler  string
	enableHR bool
	hrScale  float64
	mesh     MeshParams
}

const (
	defaultHRScale    = 1.5
	defaultDenoise    = 0.7
	optimizerMaxSteps = 50
)

var goalTable = map[Goal]goalDefaults{
	GoalQuality: {
		steps: 30, cfg: 8.0, sampler: "DPM++ 2M SDE Karras", enableHR: true, hrScale: 1.5,
		mesh: MeshParams{FaceCount: 60000, NumChunks: 10000, OctreeResolution: 384, Steps: 10, GuidanceScale: 5.5},
	},
	GoalSpeed: {
		steps: 15, cfg: 6.0, sampler: "Euler a", enableHR: false, hrScale: 1.0,
		mesh: MeshParams{FaceCount: 20000, NumChunks: 4000, OctreeResolution: 192, Steps: 5, GuidanceScale: 5.0},
	},
	GoalBalanced: {
		steps: 20, cfg: 7.0, sampler: "DPM++ 2M Karras", enableHR: true, hrScale: 1.25,
		mesh: MeshParams{FaceCount: 40000, NumChunks: 8000, OctreeResolution: 256, Steps: 5, GuidanceScale: 5.0},
	},
}

type tierLimits struct {
	maxDimension int
	maxHRScale   float64
	allowHR      bool
	maxOctree    int
	maxFaceCount int
	timeFactor   float64
}

var tierTable = map[HardwareTier]tierLimits{
	TierLow:    {maxDimension: 512, maxHRScale: 1.0, allowHR: false, maxOctree: 256, maxFaceCount: 30000, timeFactor: 3.0},
	TierMedium: {maxDimension: 768, maxHRScale: 1.5, allowHR: true, maxOctree: 384, maxFaceCount: 60000, timeFactor: 1.5},
	TierHigh:   {maxDimension: 1024, maxHRScale: 2.0, allowHR: true, maxOctree: 512, maxFaceCount: 80000, timeFactor: 1.0},
	TierUltra:  {maxDimension: 1536, maxHRScale: 2.0, allowHR: true, maxOctree: 512, maxFaceCount: 100000, timeFactor: 0.7},
}

// qualityDimension 图像质量档位对应的目标边长
var qualityDimension = map[types.Quality]int{
	types.QualityLow:    512,
	types.QualityMedium: 768,
	types.QualityHigh:   1024,
	types.QualityUltra:  1536,
}

// Optimize 为 goal × tier 生成参数集
//
// 调整顺序：目标基础表 → 质量/复杂度调整 → 硬件上限 → 画面类型 → 时间预算 → 安全范围钳制。
// 所有调整对质量档位单调不减。
func Optimize(goal Goal, tier HardwareTier, meta Meta) (ParameterSet, error) {
	base, ok := goalTable[goal]
	if !ok {
		return ParameterSet{}, types.Errorf(types.ErrInvalidGoal, "unknown optimization goal %q", goal)
	}
	limits, ok := tierTable[tier]
	if !ok {
		return ParameterSet{}, types.Errorf(types.ErrInvalidHardwareTier, "unknown hardware tier %q", tier)
	}
	meta = normalizeMeta(meta)

	img := ImageParams{
		Width:             qualityDimension[meta.ImageQuality],
		Height:            qualityDimension[meta.ImageQuality],
		Steps:             base.steps + 5*(meta.ImageQuality.Rank()-1),
		CFGScale:          base.cfg,
		Sampler:           base.sampler,
		Seed:              DefaultImageSeed,
		BatchSize:         1,
		EnableHR:          base.enableHR,
		HRScale:           base.hrScale,
		DenoisingStrength: defaultDenoise,
	}

	// 硬件上限
	img.Width = min(img.Width, limits.maxDimension)
	img.Height = min(img.Height, limits.maxDimension)
	switch tier {
	case TierLow:
		img.Steps = max(10, img.Steps-5)
	case TierUltra:
		if img.EnableHR {
			img.HRScale = min(MaxHRScale, img.HRScale+0.2)
		}
		img.Steps = min(optimizerMaxSteps, img.Steps+5)
	}
	if !limits.allowHR {
		img.EnableHR = false
	}
	if img.EnableHR {
		img.HRScale = min(img.HRScale, limits.maxHRScale)
	}
	img.Steps = min(img.Steps, optimizerMaxSteps)

	applyImageType(&img, meta.ImageType)
	img.Width = min(img.Width, limits.maxDimension)
	img.Height = min(img.Height, limits.maxDimension)
	applyTimeBudget(&img, meta.TimeBudget)

	mesh := base.mesh
	mesh.Seed = DefaultMeshSeed
	mesh.Texture = true
	mesh.RemoveBackground = true
	switch delta := meta.ModelQuality.Rank() - 1; {
	case delta < 0:
		mesh.FaceCount -= 10000
		mesh.OctreeResolution -= 64
	case delta > 0:
		mesh.FaceCount += 20000 * delta
		mesh.OctreeResolution += 64 * delta
		mesh.Steps += 5 * delta
	}
	switch meta.Complexity {
	case types.ComplexitySimple:
		mesh.NumChunks -= 2000
	case types.ComplexityComplex:
		mesh.NumChunks += 4000
	}
	mesh.FaceCount = min(mesh.FaceCount, limits.maxFaceCount)
	mesh.OctreeResolution = min(mesh.OctreeResolution, limits.maxOctree)

	return Validate(ParameterSet{Image: img, Mesh: mesh})
}

func applyImageType(img *ImageParams, kind ImageType) {
	switch kind {
	case ImagePortrait:
		img.Width = min(img.Width, 512)
		img.Height = max(img.Height, 768)
		img.CFGScale = min(8.0, img.CFGScale+0.5)
	case ImageLandscape:
		img.Width = max(img.Width, 768)
		img.Height = min(img.Height, 512)
		img.CFGScale = min(9.0, img.CFGScale+1.0)
	case ImageArtistic:
		img.CFGScale = min(10.0, img.CFGScale+1.5)
		if img.Steps < 40 {
			img.Steps = min(40, img.Steps+5)
		}
		if !strings.Contains(img.Sampler, "SDE") {
			img.Sampler = "DPM++ SDE Karras"
		}
	}
}

// applyTimeBudget 预算不足 30s 时切到最快组合，不足 60s 时限制步数与放大倍率
func applyTimeBudget(img *ImageParams, budget time.Duration) {
	switch {
	case budget <= 0:
	case budget < 30*time.Second:
		img.Steps = min(15, img.Steps)
		img.Sampler = "Euler a"
		img.EnableHR = false
	case budget < 60*time.Second:
		img.Steps = min(20, img.Steps)
		if img.EnableHR {
			img.HRScale = min(1.3, img.HRScale)
		}
	}
}

// normalizeMeta 未指定的档位按 medium 处理
func normalizeMeta(m Meta) Meta {
	if !m.ImageQuality.Valid() {
		m.ImageQuality = types.QualityMedium
	}
	if !m.ModelQuality.Valid() {
		m.ModelQuality = types.QualityMedium
	}
	if !m.Complexity.Valid() {
		m.Complexity = types.ComplexityMedium
	}
	if !m.ImageType.Valid() {
		m.ImageType = ImageGeneral
	}
	return m
}
