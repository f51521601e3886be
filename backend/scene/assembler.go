package scene

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/types"
)

// 灯光预设
const (
	LightingDefault = ""
	LightingStudio  = "studio"
	LightingOutdoor = "outdoor"
	LightingNone    = "none"
)

// 相机预设
const (
	CameraDefault   = ""
	CameraFront     = "front"
	CameraIsometric = "isometric"
	CameraNone      = "none"
)

// Metadata 场景装配参数
type Metadata struct {
	ObjectName     string `json:"object_name,omitempty" yaml:"object_name,omitempty"`
	LightingPreset string `json:"lighting_preset,omitempty" yaml:"lighting_preset,omitempty"`
	CameraPreset   string `json:"camera_preset,omitempty" yaml:"camera_preset,omitempty"`
	// TextureImage 参考图像，存在时绑定为材质
	TextureImage []byte `json:"-" yaml:"-"`
}

// Normalize 小写化预设名并校验
func (m Metadata) Normalize() (Metadata, error) {
	m.ObjectName = strings.TrimSpace(m.ObjectName)
	m.LightingPreset = strings.ToLower(strings.TrimSpace(m.LightingPreset))
	m.CameraPreset = strings.ToLower(strings.TrimSpace(m.CameraPreset))

	switch m.LightingPreset {
	case LightingDefault, LightingStudio, LightingOutdoor, LightingNone:
	default:
		return m, types.Errorf(types.ErrValidation, "unknown lighting preset %q", m.LightingPreset)
	}
	switch m.CameraPreset {
	case CameraDefault, CameraFront, CameraIsometric, CameraNone:
	default:
		return m, types.Errorf(types.ErrValidation, "unknown camera preset %q", m.CameraPreset)
	}
	return m, nil
}

// Light 一盏灯，Size 只对 AREA 生效
type Light struct {
	Type     string     `json:"type"`
	Location [3]float64 `json:"location"`
	Energy   float64    `json:"energy"`
	Size     float64    `json:"size,omitempty"`
}

// Camera 相机位置与注视点
type Camera struct {
	Location [3]float64 `json:"location"`
	LookAt   [3]float64 `json:"look_at"`
}

var (
	defaultLights = []Light{
		{Type: "SUN", Location: [3]float64{5, 5, 10}, Energy: 3},
		{Type: "AREA", Location: [3]float64{-3, 2, 5}, Energy: 1, Size: 2},
	}
	lightingPresets = map[string][]Light{
		// 三点布光：主光、补光、轮廓光
		LightingStudio: {
			{Type: "AREA", Location: [3]float64{4, -4, 5}, Energy: 3, Size: 2},
			{Type: "AREA", Location: [3]float64{-4, -2, 3}, Energy: 1.5, Size: 3},
			{Type: "AREA", Location: [3]float64{0, 5, 4}, Energy: 2, Size: 1},
		},
		LightingOutdoor: {
			{Type: "SUN", Location: [3]float64{5, 5, 10}, Energy: 4},
		},
	}

	defaultCamera = Camera{Location: [3]float64{7, -7, 5}}
	cameraPresets = map[string]Camera{
		CameraFront:     {Location: [3]float64{0, -10, 2}},
		CameraIsometric: {Location: [3]float64{7, -7, 7}},
	}
)

// Handle 装配结果
type Handle struct {
	Object        string    `json:"object"`
	Ref           string    `json:"ref"`
	Lights        int       `json:"lights_added"`
	Camera        bool      `json:"camera_added"`
	MaterialBound bool      `json:"material_bound"`
	Commands      []string  `json:"commands"`
	AssembledAt   time.Time `json:"assembled_at"`
}

// Artifact 将装配结果表示为场景产物
func (h *Handle) Artifact() *types.Artifact {
	art := types.NewArtifact(types.ArtifactScene, h.Ref, "", nil)
	art.Metadata = map[string]string{"object": h.Object}
	return art
}

// Assembler 把网格导入宿主场景并补齐灯光、相机与材质
type Assembler struct {
	client *Client
	logger *zap.Logger
}

// NewAssembler 创建装配器
func NewAssembler(client *Client, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		client: client,
		logger: logger.With(zap.String("component", "scene_assembler")),
	}
}

// Health 探测场景宿主
func (a *Assembler) Health(ctx context.Context) types.ServiceStatus {
	return a.client.Health(ctx)
}

// Assemble 导入网格并配置场景。每次调用都会导入一个新对象。
func (a *Assembler) Assemble(ctx context.Context, mesh *types.Artifact, md Metadata) (*Handle, error) {
	if !mesh.Usable() || mesh.Kind != types.ArtifactMesh {
		return nil, types.NewError(types.ErrMissingInput, "scene assembly requires a mesh artifact").WithBackend(BackendName)
	}
	md, err := md.Normalize()
	if err != nil {
		return nil, err
	}
	if md.ObjectName == "" {
		md.ObjectName = "scenegen_" + mesh.Digest
	}

	var handle *Handle
	err = a.client.guard.Once(ctx, "assemble", func(ctx context.Context) error {
		s, err := a.client.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return types.NewError(types.ErrAssembly, "cannot connect to scene host").
				WithBackend(BackendName).
				WithCause(err)
		}
		defer s.Close()

		handle, err = a.assemble(ctx, s, mesh, md)
		return err
	})
	if err != nil {
		return nil, toAssemblyError(ctx, err)
	}

	a.logger.Info("scene assembled",
		zap.String("object", handle.Object),
		zap.Int("lights", handle.Lights),
		zap.Bool("camera", handle.Camera),
		zap.Bool("material", handle.MaterialBound),
	)
	return handle, nil
}

func (a *Assembler) assemble(ctx context.Context, s *Session, mesh *types.Artifact, md Metadata) (*Handle, error) {
	h := &Handle{}
	send := func(cmd string, params, out any) error {
		h.Commands = append(h.Commands, cmd)
		return s.Send(ctx, cmd, params, out)
	}

	var info Info
	if err := send(CmdGetSceneInfo, map[string]any{}, &info); err != nil {
		return nil, err
	}

	var imported struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	err := send(CmdImportModel, map[string]any{
		"model_data": base64.StdEncoding.EncodeToString(mesh.Data),
		"name":       md.ObjectName,
	}, &imported)
	if err != nil {
		return nil, err
	}
	h.Object = imported.Name
	if h.Object == "" {
		h.Object = md.ObjectName
	}
	a.logger.Debug("model imported", zap.String("object", h.Object), zap.String("message", imported.Message))

	if len(md.TextureImage) > 0 {
		if err := send(CmdExecuteCode, map[string]any{"code": textureCode(h.Object, md.TextureImage)}, nil); err != nil {
			return nil, err
		}
		h.MaterialBound = true
	}

	lights := lightsFor(md.LightingPreset, info.HasType("LIGHT"))
	cam, addCamera := cameraFor(md.CameraPreset, info.HasType("CAMERA"))
	if len(lights) > 0 || addCamera {
		var camPtr *Camera
		if addCamera {
			camPtr = &cam
		}
		if err := send(CmdExecuteCode, map[string]any{"code": stagingCode(h.Object, lights, camPtr)}, nil); err != nil {
			return nil, err
		}
		h.Lights = len(lights)
		h.Camera = addCamera
	}

	h.Ref = fmt.Sprintf("%s://scene/%s", BackendName, h.Object)
	h.AssembledAt = time.Now()
	return h, nil
}

// lightsFor 未指定预设且场景已有灯光时不追加
func lightsFor(preset string, hasLight bool) []Light {
	switch preset {
	case LightingNone:
		return nil
	case LightingDefault:
		if hasLight {
			return nil
		}
		return defaultLights
	default:
		return lightingPresets[preset]
	}
}

func cameraFor(preset string, hasCamera bool) (Camera, bool) {
	switch preset {
	case CameraNone:
		return Camera{}, false
	case CameraDefault:
		return defaultCamera, !hasCamera
	default:
		cam, ok := cameraPresets[preset]
		return cam, ok
	}
}

// toAssemblyError 除取消与超时外，装配期间的错误统一为 ASSEMBLY_ERROR
func toAssemblyError(ctx context.Context, err error) error {
	switch types.GetErrorCode(err) {
	case types.ErrAssembly, types.ErrCancelled, types.ErrTimeout, types.ErrValidation:
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	return types.NewError(types.ErrAssembly, "scene assembly failed").
		WithBackend(BackendName).
		WithCause(err)
}
