package optimizer

import (
	"math"
	"strings"

	"github.com/BaSui01/scenegen/types"
)

// ImageParams 文生图参数，字段名与 A1111 txt2img 请求一致
type ImageParams struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	Steps             int     `json:"steps" yaml:"steps"`
	CFGScale          float64 `json:"cfg_scale" yaml:"cfg_scale"`
	Sampler           string  `json:"sampler_name" yaml:"sampler_name"`
	Seed              int64   `json:"seed" yaml:"seed"`
	BatchSize         int     `json:"batch_size" yaml:"batch_size"`
	EnableHR          bool    `json:"enable_hr" yaml:"enable_hr"`
	HRScale           float64 `json:"hr_scale" yaml:"hr_scale"`
	RestoreFaces      bool    `json:"restore_faces" yaml:"restore_faces"`
	DenoisingStrength float64 `json:"denoising_strength" yaml:"denoising_strength"`
}

// MeshParams 图生 3D 参数，字段名与 Hunyuan3D 请求一致
type MeshParams struct {
	FaceCount        int     `json:"face_count" yaml:"face_count"`
	NumChunks        int     `json:"num_chunks" yaml:"num_chunks"`
	OctreeResolution int     `json:"octree_resolution" yaml:"octree_resolution"`
	Steps            int     `json:"num_inference_steps" yaml:"num_inference_steps"`
	GuidanceScale    float64 `json:"guidance_scale" yaml:"guidance_scale"`
	Texture          bool    `json:"texture" yaml:"texture"`
	RemoveBackground bool    `json:"remove_background" yaml:"remove_background"`
	Seed             int64   `json:"seed" yaml:"seed"`
}

// ParameterSet 一次运行的完整参数集
type ParameterSet struct {
	Image ImageParams `json:"image" yaml:"image"`
	Mesh  MeshParams  `json:"mesh" yaml:"mesh"`
}

// 安全范围
const (
	MinDimension = 64
	MaxDimension = 2048
	MinSteps     = 5
	MaxSteps     = 150
	MinCFG       = 1.0
	MaxCFG       = 20.0
	MinBatch     = 1
	MaxBatch     = 8
	MinHRScale   = 1.0
	MaxHRScale   = 2.0

	MinFaceCount     = 1000
	MaxFaceCount     = 100000
	MinNumChunks     = 1000
	MaxNumChunks     = 20000
	MinOctree        = 64
	MaxOctree        = 512
	MinMeshSteps     = 1
	MaxMeshSteps     = 50
	MinMeshGuidance  = 0.1
	MaxMeshGuidance  = 20.0
	DefaultMeshSeed  = 1234
	DefaultImageSeed = -1
)

// DefaultSampler 未指定采样器时使用
const DefaultSampler = "DPM++ 2M Karras"

// samplerSpeed 采样器相对速度，键集合即为已知采样器列表
var samplerSpeed = map[string]float64{
	"Euler a":             1.0,
	"Euler":               0.9,
	"LMS":                 0.8,
	"LMS Karras":          0.8,
	"Heun":                0.5,
	"DPM2":                0.6,
	"DPM2 a":              0.6,
	"DPM++ 2S a":          0.7,
	"DPM++ 2S a Karras":   0.7,
	"DPM++ 2M":            0.8,
	"DPM++ 2M Karras":     0.8,
	"DPM++ SDE":           0.6,
	"DPM++ SDE Karras":    0.6,
	"DPM++ 2M SDE":        0.5,
	"DPM++ 2M SDE Karras": 0.5,
	"DDIM":                0.9,
	"PLMS":                0.85,
	"UniPC":               0.9,
}

// KnownSamplers 返回已知采样器名称
func KnownSamplers() []string {
	out := make([]string, 0, len(samplerSpeed))
	for name := range samplerSpeed {
		out = append(out, name)
	}
	return out
}

// CanonicalSampler 返回采样器的规范名称（大小写不敏感），未知时 ok 为 false
func CanonicalSampler(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := samplerSpeed[name]; ok {
		return name, true
	}
	for known := range samplerSpeed {
		if strings.EqualFold(known, name) {
			return known, true
		}
	}
	return "", false
}

// Validate 将参数集钳制到安全范围并解决互斥选项
func Validate(ps ParameterSet) (ParameterSet, error) {
	img, err := validateImage(ps.Image, false)
	if err != nil {
		return ParameterSet{}, err
	}
	return ParameterSet{Image: img, Mesh: clampMesh(ps.Mesh)}, nil
}

// ValidateImg2Img 与 Validate 相同，但保留 img2img 所需的 denoising_strength
func ValidateImg2Img(p ImageParams) (ImageParams, error) {
	return validateImage(p, true)
}

// ValidateMesh 钳制网格参数
func ValidateMesh(p MeshParams) MeshParams {
	return clampMesh(p)
}

func validateImage(p ImageParams, img2img bool) (ImageParams, error) {
	if p.Sampler == "" {
		p.Sampler = DefaultSampler
	}
	sampler, ok := CanonicalSampler(p.Sampler)
	if !ok {
		return ImageParams{}, types.Errorf(types.ErrValidation, "unknown sampler %q", p.Sampler)
	}
	if math.IsNaN(p.CFGScale) || math.IsNaN(p.HRScale) || math.IsNaN(p.DenoisingStrength) {
		return ImageParams{}, types.NewError(types.ErrValidation, "image parameters contain NaN")
	}
	p.Sampler = sampler

	p.Width = clampDimension(p.Width)
	p.Height = clampDimension(p.Height)
	p.Steps = clampInt(p.Steps, MinSteps, MaxSteps)
	p.CFGScale = clampFloat(p.CFGScale, MinCFG, MaxCFG)
	p.BatchSize = clampInt(p.BatchSize, MinBatch, MaxBatch)
	p.HRScale = clampFloat(p.HRScale, MinHRScale, MaxHRScale)
	p.DenoisingStrength = clampFloat(p.DenoisingStrength, 0, 1)

	if p.HRScale == MinHRScale {
		p.EnableHR = false
	}
	if !p.EnableHR {
		p.HRScale = MinHRScale
	} else {
		p.BatchSize = 1
	}
	if !p.EnableHR && !img2img {
		p.DenoisingStrength = 0
	}
	return p, nil
}

func clampMesh(p MeshParams) MeshParams {
	p.FaceCount = clampInt(p.FaceCount, MinFaceCount, MaxFaceCount)
	p.NumChunks = clampInt(p.NumChunks, MinNumChunks, MaxNumChunks)
	p.OctreeResolution = clampInt(p.OctreeResolution, MinOctree, MaxOctree)
	p.Steps = clampInt(p.Steps, MinMeshSteps, MaxMeshSteps)
	if math.IsNaN(p.GuidanceScale) {
		p.GuidanceScale = MinMeshGuidance
	}
	p.GuidanceScale = clampFloat(p.GuidanceScale, MinMeshGuidance, MaxMeshGuidance)
	return p
}

// clampDimension 钳制后向下取整到 8 的倍数
func clampDimension(v int) int {
	v = clampInt(v, MinDimension, MaxDimension)
	return v / 8 * 8
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InRange 报告参数集是否已全部处于安全范围内
func InRange(ps ParameterSet) bool {
	img, mesh := ps.Image, ps.Mesh
	if _, ok := CanonicalSampler(img.Sampler); !ok {
		return false
	}
	return img.Width >= MinDimension && img.Width <= MaxDimension && img.Width%8 == 0 &&
		img.Height >= MinDimension && img.Height <= MaxDimension && img.Height%8 == 0 &&
		img.Steps >= MinSteps && img.Steps <= MaxSteps &&
		img.CFGScale >= MinCFG && img.CFGScale <= MaxCFG &&
		img.BatchSize >= MinBatch && img.BatchSize <= MaxBatch &&
		img.HRScale >= MinHRScale && img.HRScale <= MaxHRScale &&
		img.DenoisingStrength >= 0 && img.DenoisingStrength <= 1 &&
		(!img.EnableHR || img.BatchSize == 1) &&
		mesh.FaceCount >= MinFaceCount && mesh.FaceCount <= MaxFaceCount &&
		mesh.NumChunks >= MinNumChunks && mesh.NumChunks <= MaxNumChunks &&
		mesh.OctreeResolution >= MinOctree && mesh.OctreeResolution <= MaxOctree &&
		mesh.Steps >= MinMeshSteps && mesh.Steps <= MaxMeshSteps &&
		mesh.GuidanceScale >= MinMeshGuidance && mesh.GuidanceScale <= MaxMeshGuidance
}

// Overrides 调用方对单个字段的覆盖，nil 表示沿用优化结果
type Overrides struct {
	Image ImageOverrides `json:"image,omitempty" yaml:"image,omitempty"`
	Mesh  MeshOverrides  `json:"mesh,omitempty" yaml:"mesh,omitempty"`
}

// ImageOverrides 图像参数覆盖
type ImageOverrides struct {
	Width             *int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height            *int     `json:"height,omitempty" yaml:"height,omitempty"`
	Steps             *int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	CFGScale          *float64 `json:"cfg_scale,omitempty" yaml:"cfg_scale,omitempty"`
	Sampler           *string  `json:"sampler_name,omitempty" yaml:"sampler_name,omitempty"`
	Seed              *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	BatchSize         *int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	EnableHR          *bool    `json:"enable_hr,omitempty" yaml:"enable_hr,omitempty"`
	HRScale           *float64 `json:"hr_scale,omitempty" yaml:"hr_scale,omitempty"`
	RestoreFaces      *bool    `json:"restore_faces,omitempty" yaml:"restore_faces,omitempty"`
	DenoisingStrength *float64 `json:"denoising_strength,omitempty" yaml:"denoising_strength,omitempty"`
}

// MeshOverrides 网格参数覆盖
type MeshOverrides struct {
	FaceCount        *int     `json:"face_count,omitempty" yaml:"face_count,omitempty"`
	NumChunks        *int     `json:"num_chunks,omitempty" yaml:"num_chunks,omitempty"`
	OctreeResolution *int     `json:"octree_resolution,omitempty" yaml:"octree_resolution,omitempty"`
	Steps            *int     `json:"num_inference_steps,omitempty" yaml:"num_inference_steps,omitempty"`
	GuidanceScale    *float64 `json:"guidance_scale,omitempty" yaml:"guidance_scale,omitempty"`
	Texture          *bool    `json:"texture,omitempty" yaml:"texture,omitempty"`
	RemoveBackground *bool    `json:"remove_background,omitempty" yaml:"remove_background,omitempty"`
	Seed             *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Apply 合并覆盖并重新校验
func Apply(ps ParameterSet, ov *Overrides) (ParameterSet, error) {
	if ov == nil {
		return Validate(ps)
	}
	i, o := &ps.Image, ov.Image
	set(&i.Width, o.Width)
	set(&i.Height, o.Height)
	set(&i.Steps, o.Steps)
	set(&i.CFGScale, o.CFGScale)
	set(&i.Sampler, o.Sampler)
	set(&i.Seed, o.Seed)
	set(&i.BatchSize, o.BatchSize)
	set(&i.EnableHR, o.EnableHR)
	set(&i.HRScale, o.HRScale)
	set(&i.RestoreFaces, o.RestoreFaces)
	set(&i.DenoisingStrength, o.DenoisingStrength)
	if o.EnableHR != nil && *o.EnableHR && o.HRScale == nil && i.HRScale <= MinHRScale {
		i.HRScale = defaultHRScale
	}

	m, mo := &ps.Mesh, ov.Mesh
	set(&m.FaceCount, mo.FaceCount)
	set(&m.NumChunks, mo.NumChunks)
	set(&m.OctreeResolution, mo.OctreeResolution)
	set(&m.Steps, mo.Steps)
	set(&m.GuidanceScale, mo.GuidanceScale)
	set(&m.Texture, mo.Texture)
	set(&m.RemoveBackground, mo.RemoveBackground)
	set(&m.Seed, mo.Seed)

	return Validate(ps)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Clone 深拷贝覆盖项
func (o *Overrides) Clone() *Overrides {
	if o == nil {
		return nil
	}
	i, m := o.Image, o.Mesh
	return &Overrides{
		Image: ImageOverrides{
			Width:             clonePtr(i.Width),
			Height:            clonePtr(i.Height),
			Steps:             clonePtr(i.Steps),
			CFGScale:          clonePtr(i.CFGScale),
			Sampler:           clonePtr(i.Sampler),
			Seed:              clonePtr(i.Seed),
			BatchSize:         clonePtr(i.BatchSize),
			EnableHR:          clonePtr(i.EnableHR),
			HRScale:           clonePtr(i.HRScale),
			RestoreFaces:      clonePtr(i.RestoreFaces),
			DenoisingStrength: clonePtr(i.DenoisingStrength),
		},
		Mesh: MeshOverrides{
			FaceCount:        clonePtr(m.FaceCount),
			NumChunks:        clonePtr(m.NumChunks),
			OctreeResolution: clonePtr(m.OctreeResolution),
			Steps:            clonePtr(m.Steps),
			GuidanceScale:    clonePtr(m.GuidanceScale),
			Texture:          clonePtr(m.Texture),
			RemoveBackground: clonePtr(m.RemoveBackground),
			Seed:             clonePtr(m.Seed),
		},
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
