package api

import (
	"time"

	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/types"
	"github.com/BaSui01/scenegen/workflow"
)

// =============================================================================
// 工作流
// =============================================================================

// WorkflowAccepted 异步提交的响应
type WorkflowAccepted struct {
	ID        string `json:"id" example:"3f0c1a52-8d7e-4b7a-9a55-1f2d3c4b5a69"`
	Outcome   string `json:"outcome" example:"RUNNING"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

// CancelResponse 取消请求的响应
type CancelResponse struct {
	ID         string `json:"id"`
	Cancelling bool   `json:"cancelling"`
}

// RunSummary 运行列表项，不含阶段明细
type RunSummary struct {
	ID           string           `json:"id"`
	Description  string           `json:"description"`
	Method       types.Method     `json:"method,omitempty"`
	Preset       string           `json:"preset,omitempty"`
	Outcome      workflow.Outcome `json:"outcome"`
	ErrorCode    types.ErrorCode  `json:"error_code,omitempty"`
	CurrentStage workflow.Stage   `json:"current_stage,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

// SummaryOf 从报告生成列表项
func SummaryOf(rep *workflow.Report) RunSummary {
	s := RunSummary{
		ID:           rep.ID,
		Description:  rep.Description,
		Method:       rep.Method,
		Preset:       rep.Preset,
		Outcome:      rep.Outcome,
		CurrentStage: rep.CurrentStage,
		StartedAt:    rep.StartedAt,
		FinishedAt:   rep.FinishedAt,
		Duration:     rep.Duration,
	}
	if rep.Resolved != nil && s.Method == "" {
		s.Method = rep.Resolved.Method
	}
	if rep.Error != nil {
		s.ErrorCode = rep.Error.Code
	}
	return s
}

// WorkflowList 运行列表响应
type WorkflowList struct {
	Runs []RunSummary `json:"runs"`
}

// =============================================================================
// 预设
// =============================================================================

// PresetList 预设列表响应
type PresetList struct {
	Presets []preset.Summary `json:"presets"`
}

// =============================================================================
// 参数优化
// =============================================================================

// OptimizeRequest 参数预览请求
type OptimizeRequest struct {
	Goal         optimizer.Goal       `json:"goal" example:"balanced"`
	HardwareTier string               `json:"hardware_tier,omitempty" example:"medium"`
	ImageQuality types.Quality        `json:"image_quality,omitempty"`
	ModelQuality types.Quality        `json:"model_quality,omitempty"`
	Complexity   types.Complexity     `json:"scene_complexity,omitempty"`
	Overrides    *optimizer.Overrides `json:"overrides,omitempty"`
	// Prompt 未给出 image_type 时用于推断画面类型
	Prompt                 string              `json:"prompt,omitempty" example:"portrait of an old sailor"`
	ImageType              optimizer.ImageType `json:"image_type,omitempty" example:"portrait"`
	ImageTimeBudgetSeconds int                 `json:"image_time_budget_seconds,omitempty" example:"45"`
}

// OptimizeResponse 参数预览响应
type OptimizeResponse struct {
	Params       optimizer.ParameterSet `json:"params"`
	HardwareTier optimizer.HardwareTier `json:"hardware_tier"`
	ImageType    optimizer.ImageType    `json:"image_type"`
	// EstimatedImageTime 文生图耗时估算
	EstimatedImageTime time.Duration `json:"estimated_image_time"`
	EstimatedSeconds   float64       `json:"estimated_seconds"`
}

// =============================================================================
// 出图服务
// =============================================================================

// ImageServiceInfo 出图服务已加载的模型与可用采样器
type ImageServiceInfo struct {
	Models   []image.Model `json:"models"`
	Samplers []string      `json:"samplers"`
}

// EnhanceRequest 以参考图为底图重绘
type EnhanceRequest struct {
	Prompt         string `json:"prompt" example:"a weathered bronze statue"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// Image base64 编码，可带 data URL 前缀
	Image             string               `json:"image"`
	Goal              optimizer.Goal       `json:"goal,omitempty" example:"balanced"`
	DenoisingStrength *float64             `json:"denoising_strength,omitempty" example:"0.5"`
	Overrides         *optimizer.Overrides `json:"overrides,omitempty"`
}

// EnhanceResponse 重绘结果
type EnhanceResponse struct {
	Image    string                `json:"image"`
	Artifact *types.Artifact       `json:"artifact"`
	Params   optimizer.ImageParams `json:"params"`
}
