package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api"
	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// maxEnhanceBodyBytes 重绘请求携带整张 base64 图像
const maxEnhanceBodyBytes = 32 << 20

// ImageService 出图服务中与工作流无关的操作。*image.Client 满足该接口
type ImageService interface {
	Models(ctx context.Context) ([]image.Model, error)
	Samplers(ctx context.Context) ([]string, error)
	Img2Img(ctx context.Context, req image.Request) (*types.Artifact, error)
}

// ImageHandler 出图服务状态与重绘接口
type ImageHandler struct {
	svc    ImageService
	tier   optimizer.HardwareTier
	logger *zap.Logger
}

// NewImageHandler 创建出图服务处理器
func NewImageHandler(svc ImageService, tier optimizer.HardwareTier, logger *zap.Logger) *ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandler{svc: svc, tier: tier, logger: logger.With(zap.String("handler", "image"))}
}

// HandleInfo 处理 GET /api/v1/services/image
func (h *ImageHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.Models(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	samplers, err := h.svc.Samplers(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if models == nil {
		models = []image.Model{}
	}
	WriteSuccess(w, api.ImageServiceInfo{Models: models, Samplers: samplers})
}

// HandleEnhance 处理 POST /api/v1/images/enhance
func (h *ImageHandler) HandleEnhance(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.EnhanceRequest
	if err := decodeJSONLimit(w, r, &req, maxEnhanceBodyBytes, h.logger); err != nil {
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		WriteErrorMessage(w, types.ErrValidation, "prompt is required", h.logger)
		return
	}
	if req.Image == "" {
		WriteErrorMessage(w, types.ErrMissingInput, "image is required", h.logger)
		return
	}
	raw := req.Image
	if strings.HasPrefix(raw, "data:") {
		if i := strings.IndexByte(raw, ','); i >= 0 {
			raw = raw[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		WriteError(w, types.NewError(types.ErrValidation, "image is not valid base64").WithCause(err), h.logger)
		return
	}

	goal := optimizer.GoalBalanced
	if req.Goal != "" {
		if goal, err = optimizer.ParseGoal(string(req.Goal)); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}
	ps, err := optimizer.Optimize(goal, h.tier, optimizer.Meta{ImageType: optimizer.DetectImageType(req.Prompt)})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if ps, err = optimizer.Apply(ps, req.Overrides); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	params := ps.Image
	if req.DenoisingStrength != nil {
		params.DenoisingStrength = *req.DenoisingStrength
	}

	art, err := h.svc.Img2Img(r.Context(), image.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Params:         params,
		InitImage:      data,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("image enhanced", zap.String("ref", art.Ref), zap.Int("size", art.Size))
	WriteSuccess(w, api.EnhanceResponse{
		Image:    base64.StdEncoding.EncodeToString(art.Data),
		Artifact: art,
		Params:   params,
	})
}
