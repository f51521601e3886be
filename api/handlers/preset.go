package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api"
	"github.com/BaSui01/scenegen/preset"
)

// PresetRegistry 是 *preset.Registry 暴露给 HTTP 层的操作
type PresetRegistry interface {
	List() []preset.Summary
	Get(name string) (preset.Preset, error)
	Register(name string, p preset.Preset) error
}

// PresetHandler 预设接口
type PresetHandler struct {
	registry PresetRegistry
	logger   *zap.Logger
}

// NewPresetHandler 创建预设处理器
func NewPresetHandler(registry PresetRegistry, logger *zap.Logger) *PresetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresetHandler{registry: registry, logger: logger.With(zap.String("handler", "preset"))}
}

// HandleList 处理 GET /api/v1/presets
func (h *PresetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.PresetList{Presets: h.registry.List()})
}

// HandleGet 处理 GET /api/v1/presets/{name}
func (h *PresetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleRegister 处理 POST /api/v1/presets，成功返回 201 与注册后的预设
func (h *PresetHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var p preset.Preset
	if err := DecodeJSONBody(w, r, &p, h.logger); err != nil {
		return
	}
	if err := h.registry.Register(p.Name, p); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	registered, err := h.registry.Get(p.Name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.Header().Set("Location", "/api/v1/presets/"+registered.Name)
	WriteStatus(w, http.StatusCreated, registered)
}
