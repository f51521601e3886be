package mesh

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/circuitbreaker"
	"github.com/BaSui01/scenegen/internal/retry"
	"github.com/BaSui01/scenegen/internal/tlsutil"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// BackendName 指标与错误中使用的后端名称
const BackendName = "hunyuan3d"

// Request 一次网格生成请求，Image 与 Text 至少提供一个
type Request struct {
	// Image 参考图像（image_to_3d 主输入）
	Image []byte
	// Text 仅在服务支持 text_to_3d 且没有图像时使用
	Text   string
	Params optimizer.MeshParams
}

// Status 异步任务状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ParseStatus 归一化服务端状态，running 视为 processing，failed 视为 error
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending", "waiting":
		return StatusQueued
	case "processing", "running":
		return StatusProcessing
	case "completed", "done", "success":
		return StatusCompleted
	case "error", "failed":
		return StatusError
	default:
		return Status(s)
	}
}

// Terminal 报告状态是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TaskStatus 一次轮询的结果
type TaskStatus struct {
	Status   Status
	Progress int
	Message  string
	// Artifact 仅在 completed 且服务端内联返回 model_base64 时非空
	Artifact *types.Artifact
}

// Client Hunyuan3D API 客户端
type Client struct {
	cfg     config.MeshConfig
	baseURL string
	http    *http.Client
	status  *http.Client
	guard   *backend.Guard
	logger  *zap.Logger
}

// New 创建 Hunyuan3D 客户端
func New(cfg config.MeshConfig, recorder backend.Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = "glb"
	}
	logger = logger.With(zap.String("component", "mesh_client"), zap.String("backend", BackendName))

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    tlsutil.BackendHTTPClient(cfg.Timeout, cfg.MaxConcurrent),
		status:  tlsutil.BackendHTTPClient(cfg.HealthTimeout, 2),
		guard: backend.NewGuard(backend.GuardConfig{
			Name:          BackendName,
			MaxConcurrent: cfg.MaxConcurrent,
			Retry: &retry.Policy{
				MaxRetries:   cfg.MaxRetries,
				InitialDelay: cfg.RetryDelay,
				MaxDelay:     time.Minute,
				Multiplier:   2.0,
				Jitter:       true,
			},
			Breaker: &circuitbreaker.Config{
				Threshold:    cfg.BreakerThreshold,
				ResetTimeout: cfg.BreakerReset,
			},
			Recorder: recorder,
			Logger:   logger,
		}),
		logger: logger,
	}
}

// Name 返回后端名称
func (c *Client) Name() string { return BackendName }

// SupportsTextTo3D 报告服务是否配置为可直接从文本生成
func (c *Client) SupportsTextTo3D() bool { return c.cfg.TextTo3D }

type generateRequest struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
	optimizer.MeshParams
	Type string `json:"type"`
}

func (c *Client) buildRequest(req Request) (generateRequest, error) {
	body := generateRequest{
		MeshParams: optimizer.ValidateMesh(req.Params),
		Type:       c.cfg.Format,
	}
	switch {
	case len(req.Image) > 0:
		body.Image = base64.StdEncoding.EncodeToString(req.Image)
	case strings.TrimSpace(req.Text) == "":
		return generateRequest{}, types.NewError(types.ErrMissingInput, "mesh generation needs an image or a text prompt").
			WithBackend(BackendName)
	case !c.cfg.TextTo3D:
		return generateRequest{}, types.NewError(types.ErrMissingInput, "mesh service requires an image input").
			WithBackend(BackendName)
	default:
		body.Text = req.Text
	}
	return body, nil
}

// GenerateSync 调用 /generate，阻塞直到服务端返回 GLB
func (c *Client) GenerateSync(ctx context.Context, req Request) (*types.Artifact, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.guard.Do(ctx, "generate", func(ctx context.Context) error {
		raw, header, err := backend.DoBytes(ctx, c.http, http.MethodPost, c.baseURL+"/generate", body, BackendName)
		if err != nil {
			return err
		}
		// 成功时返回二进制，JSON 响应体只会是错误
		if strings.Contains(header.Get("Content-Type"), "application/json") {
			return types.NewError(types.ErrGenerationFailed, backend.ReadErrorMessage(bytes.NewReader(raw))).
				WithBackend(BackendName)
		}
		data = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrGenerationFailed, "empty model response").WithBackend(BackendName)
	}

	art := c.artifact("generate", data, body.Seed)
	c.logger.Info("mesh generated",
		zap.Int("bytes", art.Size),
		zap.Bool("from_text", body.Text != ""),
	)
	return art, nil
}

// Submit 调用 /send 创建异步任务，不重试（提交非幂等）
func (c *Client) Submit(ctx context.Context, req Request) (*Task, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		UID string `json:"uid"`
	}
	err = c.guard.Once(ctx, "submit", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.http, http.MethodPost, c.baseURL+"/send", body, &resp, BackendName)
	})
	if err != nil {
		return nil, err
	}
	if resp.UID == "" {
		return nil, types.NewError(types.ErrGenerationFailed, "submit response missing uid").WithBackend(BackendName)
	}

	c.logger.Info("mesh task submitted", zap.String("task_id", resp.UID))
	return &Task{
		ID:          resp.UID,
		Seed:        body.Seed,
		SubmittedAt: time.Now(),
		LastStatus:  StatusQueued,
	}, nil
}

type statusResponse struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	ModelBase64 string  `json:"model_base64"`
	Message     string  `json:"message"`
	Error       string  `json:"error"`
}

// Poll 查询一次任务状态，不阻塞等待
func (c *Client) Poll(ctx context.Context, task *Task) (TaskStatus, error) {
	var resp statusResponse
	err := c.guard.Observe(ctx, "poll", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(task.ID), nil, &resp, BackendName)
	})
	if err != nil {
		return TaskStatus{}, err
	}

	st := TaskStatus{
		Status:   ParseStatus(resp.Status),
		Progress: int(resp.Progress),
		Message:  resp.Message,
	}
	if st.Message == "" {
		st.Message = resp.Error
	}
	if st.Status == StatusCompleted && resp.ModelBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(resp.ModelBase64)
		if err != nil {
			return TaskStatus{}, types.NewError(types.ErrGenerationFailed, "invalid model encoding").
				WithBackend(BackendName).
				WithCause(err)
		}
		st.Artifact = c.artifact("task/"+task.ID, data, task.Seed)
	}
	return st, nil
}

// Download 下载已完成任务的模型
func (c *Client) Download(ctx context.Context, task *Task) (*types.Artifact, error) {
	data, err := backend.Fetch(ctx, c.guard, "download", func(ctx context.Context) ([]byte, error) {
		raw, _, err := backend.DoBytes(ctx, c.http, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(task.ID), nil, BackendName)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrGenerationFailed, "downloaded model is empty").WithBackend(BackendName)
	}
	return c.artifact("task/"+task.ID, data, task.Seed), nil
}

func (c *Client) artifact(source string, data []byte, seed int64) *types.Artifact {
	art := types.NewArtifact(types.ArtifactMesh, "", c.cfg.Format, data)
	art.Ref = fmt.Sprintf("%s://%s/%s", BackendName, source, art.Digest)
	art.Seed = seed
	return art
}

// Health 探测 /health，不存在时回退到根路径
func (c *Client) Health(ctx context.Context) types.ServiceStatus {
	start := time.Now()
	var info struct {
		Version string `json:"version"`
	}
	err := c.guard.Observe(ctx, "health", func(ctx context.Context) error {
		err := backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/health", nil, &info, BackendName)
		if err == nil || ctx.Err() != nil {
			return err
		}
		c.logger.Debug("health endpoint unavailable, probing root", zap.Error(err))
		_, _, err = backend.DoBytes(ctx, c.status, http.MethodGet, c.baseURL+"/", nil, BackendName)
		return err
	})

	caps := []string{types.CapabilityImageTo3D, types.CapabilityAsync, types.CapabilityTexture}
	if c.cfg.TextTo3D {
		caps = append(caps, types.CapabilityTextTo3D)
	}
	st := backend.Check(BackendName, start, err, caps...)
	st.Version = info.Version
	return st
}
