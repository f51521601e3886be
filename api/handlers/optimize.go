package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// OptimizeHandler 参数预览接口，只计算不执行
type OptimizeHandler struct {
	defaultTier optimizer.HardwareTier
	logger      *zap.Logger
}

// NewOptimizeHandler 创建参数预览处理器，tier 为请求未指定时的硬件档位
func NewOptimizeHandler(tier optimizer.HardwareTier, logger *zap.Logger) *OptimizeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OptimizeHandler{defaultTier: tier, logger: logger.With(zap.String("handler", "optimize"))}
}

// HandleOptimize 处理 POST /api/v1/optimize
func (h *OptimizeHandler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.OptimizeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	goal, err := optimizer.ParseGoal(string(req.Goal))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	tier := h.defaultTier
	if req.HardwareTier != "" {
		if tier, err = optimizer.ParseHardwareTier(req.HardwareTier); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	imageType := optimizer.DetectImageType(req.Prompt)
	if req.ImageType != "" {
		if imageType, err = optimizer.ParseImageType(string(req.ImageType)); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}
	if req.ImageTimeBudgetSeconds < 0 {
		WriteError(w, types.NewError(types.ErrValidation, "image_time_budget_seconds must not be negative"), h.logger)
		return
	}

	ps, err := optimizer.Optimize(goal, tier, optimizer.Meta{
		ImageQuality: req.ImageQuality,
		ModelQuality: req.ModelQuality,
		Complexity:   req.Complexity,
		ImageType:    imageType,
		TimeBudget:   time.Duration(req.ImageTimeBudgetSeconds) * time.Second,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if ps, err = optimizer.Apply(ps, req.Overrides); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	est := optimizer.Estimate(ps, tier)
	WriteSuccess(w, api.OptimizeResponse{
		Params:             ps,
		HardwareTier:       tier,
		ImageType:          imageType,
		EstimatedImageTime: est,
		EstimatedSeconds:   est.Seconds(),
	})
}
