package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
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
const BackendName = "sdwebui"

// Request 一次出图请求
type Request struct {
	Prompt         string
	NegativePrompt string
	Params         optimizer.ImageParams
	// InitImage 仅 img2img 使用
	InitImage []byte
}

// Client SD WebUI 客户端
type Client struct {
	cfg     config.ImageConfig
	baseURL string
	http    *http.Client
	status  *http.Client
	guard   *backend.Guard
	logger  *zap.Logger
}

// New 创建 SD WebUI 客户端
func New(cfg config.ImageConfig, recorder backend.Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	logger = logger.With(zap.String("component", "image_client"), zap.String("backend", BackendName))

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
				MaxDelay:     30 * time.Second,
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

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	optimizer.ImageParams
	InitImages []string `json:"init_images,omitempty"`
}

type generateResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// GenerateSync 调用 txt2img 并返回第一张图像
func (c *Client) GenerateSync(ctx context.Context, req Request) (*types.Artifact, error) {
	params, err := optimizer.Validate(optimizer.ParameterSet{Image: req.Params})
	if err != nil {
		return nil, err
	}
	return c.generate(ctx, "txt2img", req, params.Image, nil)
}

// Img2Img 以 InitImage 为底图重绘
func (c *Client) Img2Img(ctx context.Context, req Request) (*types.Artifact, error) {
	if len(req.InitImage) == 0 {
		return nil, types.NewError(types.ErrMissingInput, "img2img requires an init image").WithBackend(BackendName)
	}
	params, err := optimizer.ValidateImg2Img(req.Params)
	if err != nil {
		return nil, err
	}
	return c.generate(ctx, "img2img", req, params, []string{base64.StdEncoding.EncodeToString(req.InitImage)})
}

func (c *Client) generate(ctx context.Context, op string, req Request, params optimizer.ImageParams, initImages []string) (*types.Artifact, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.NewError(types.ErrValidation, "prompt is required").WithBackend(BackendName)
	}
	negative := req.NegativePrompt
	if negative == "" {
		negative = c.cfg.NegativePrompt
	}
	body := generateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: negative,
		ImageParams:    params,
		InitImages:     initImages,
	}

	var resp generateResponse
	err := c.guard.Do(ctx, op, func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.http, http.MethodPost, c.baseURL+"/sdapi/v1/"+op, body, &resp, BackendName)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, types.NewError(types.ErrGenerationFailed, "response contained no images").WithBackend(BackendName)
	}

	data, err := base64.StdEncoding.DecodeString(stripDataURL(resp.Images[0]))
	if err != nil {
		return nil, types.NewError(types.ErrGenerationFailed, "invalid image encoding").WithBackend(BackendName).WithCause(err)
	}

	seed := parseSeed(resp.Info, params.Seed)
	art := types.NewArtifact(types.ArtifactImage, "", "png", data)
	art.Ref = fmt.Sprintf("%s://%s/%s", BackendName, op, art.Digest)
	art.Seed = seed
	art.Metadata = map[string]string{
		"sampler": params.Sampler,
		"size":    fmt.Sprintf("%dx%d", params.Width, params.Height),
		"steps":   fmt.Sprintf("%d", params.Steps),
	}

	c.logger.Info("image generated",
		zap.String("operation", op),
		zap.Int("bytes", art.Size),
		zap.Int64("seed", seed),
		zap.Int("images", len(resp.Images)),
	)
	return art, nil
}

// stripDataURL 部分版本返回带 data:image/png;base64, 前缀的图像
func stripDataURL(s string) string {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+1:]
	}
	return s
}

// parseSeed 从 info（JSON 字符串）中取出实际使用的种子
func parseSeed(info string, fallback int64) int64 {
	var parsed struct {
		Seed int64 `json:"seed"`
	}
	if info == "" || json.Unmarshal([]byte(info), &parsed) != nil || parsed.Seed == 0 {
		return fallback
	}
	return parsed.Seed
}

type optionsResponse struct {
	Checkpoint string `json:"sd_model_checkpoint"`
}

type samplerInfo struct {
	Name string `json:"name"`
}

// Health 检查 /sdapi/v1/options 与 /sdapi/v1/samplers
func (c *Client) Health(ctx context.Context) types.ServiceStatus {
	start := time.Now()
	var opts optionsResponse
	var samplers []samplerInfo
	err := c.guard.Observe(ctx, "health", func(ctx context.Context) error {
		if err := backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/sdapi/v1/options", nil, &opts, BackendName); err != nil {
			return err
		}
		return backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/sdapi/v1/samplers", nil, &samplers, BackendName)
	})

	caps := []string{types.CapabilityTxt2Img, types.CapabilityImg2Img}
	for _, s := range samplers {
		caps = append(caps, "sampler:"+s.Name)
	}
	st := backend.Check(BackendName, start, err, caps...)
	st.Version = opts.Checkpoint
	return st
}

// Samplers 返回服务端可用的采样器名称
func (c *Client) Samplers(ctx context.Context) ([]string, error) {
	var samplers []samplerInfo
	err := c.guard.Do(ctx, "samplers", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/sdapi/v1/samplers", nil, &samplers, BackendName)
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(samplers))
	for _, s := range samplers {
		names = append(names, s.Name)
	}
	return names, nil
}

// Model 服务端已加载的模型检查点
type Model struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Hash      string `json:"hash,omitempty"`
}

// Models 返回 /sdapi/v1/sd-models
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	var models []Model
	err := c.guard.Do(ctx, "models", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/sdapi/v1/sd-models", nil, &models, BackendName)
	})
	return models, err
}

// Progress 当前出图进度
type Progress struct {
	Progress    float64 `json:"progress"`
	ETARelative float64 `json:"eta_relative"`
	State       struct {
		Job           string `json:"job"`
		SamplingStep  int    `json:"sampling_step"`
		SamplingSteps int    `json:"sampling_steps"`
	} `json:"state"`
}

// Progress 查询 /sdapi/v1/progress
func (c *Client) Progress(ctx context.Context) (Progress, error) {
	var p Progress
	err := c.guard.Observe(ctx, "progress", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.status, http.MethodGet, c.baseURL+"/sdapi/v1/progress?skip_current_image=true", nil, &p, BackendName)
	})
	return p, err
}

// Interrupt 中断当前出图任务
func (c *Client) Interrupt(ctx context.Context) error {
	return c.guard.Observe(ctx, "interrupt", func(ctx context.Context) error {
		return backend.DoJSON(ctx, c.status, http.MethodPost, c.baseURL+"/sdapi/v1/interrupt", nil, nil, BackendName)
	})
}

// WatchProgress 按 ProgressPoll 间隔轮询进度直到 ctx 结束，
// 间隔不大于 0 时直接返回。单次查询失败只记日志
func (c *Client) WatchProgress(ctx context.Context, fn func(Progress)) {
	if c.cfg.ProgressPoll <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.ProgressPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, err := c.Progress(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("progress poll failed", zap.Error(err))
			}
			continue
		}
		fn(p)
	}
}
