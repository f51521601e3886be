package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api"
	"github.com/BaSui01/scenegen/types"
	"github.com/BaSui01/scenegen/workflow"
)

// WorkflowService 是 *workflow.Manager 暴露给 HTTP 层的操作
type WorkflowService interface {
	Run(ctx context.Context, req workflow.Request) (*workflow.Report, error)
	Submit(ctx context.Context, req workflow.Request) (string, error)
	Status(ctx context.Context, id string) (*workflow.Report, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]*workflow.Report, error)
	Subscribe(ctx context.Context, id string) (<-chan workflow.Event, func(), error)
}

// WorkflowHandler 工作流运行接口
type WorkflowHandler struct {
	runs   WorkflowService
	logger *zap.Logger

	// OriginPatterns 允许跨域的 websocket Origin，空表示只允许同源
	OriginPatterns []string
	// PingInterval 事件流的心跳间隔
	PingInterval time.Duration
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(runs WorkflowService, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		runs:         runs,
		logger:       logger.With(zap.String("handler", "workflow")),
		PingInterval: 30 * time.Second,
	}
}

// HandleCreate 处理 POST /api/v1/workflows。
// ?async=true 或请求体 async=true 时入队并返回 202，否则同步执行并返回报告。
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req workflow.Request
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	async, err := QueryBool(r, "async")
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if async == nil {
		async = req.Async
	}

	if async != nil && *async {
		id, err := h.runs.Submit(r.Context(), req)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		w.Header().Set("Location", "/api/v1/workflows/"+id)
		WriteStatus(w, http.StatusAccepted, api.WorkflowAccepted{
			ID:        id,
			Outcome:   string(workflow.OutcomeRunning),
			StatusURL: "/api/v1/workflows/" + id,
			EventsURL: "/api/v1/workflows/" + id + "/events",
		})
		return
	}

	rep, err := h.runs.Run(r.Context(), req)
	if rep == nil {
		WriteError(w, err, h.logger)
		return
	}
	if err != nil {
		// 报告已生成，只是未能持久化
		h.logger.Error("workflow report not persisted", zap.String("run_id", rep.ID), zap.Error(err))
	}
	h.writeReport(w, rep)
}

// writeReport 失败的运行以其错误码对应的状态码返回，报告放在 data 中
func (h *WorkflowHandler) writeReport(w http.ResponseWriter, rep *workflow.Report) {
	if rep.Outcome != workflow.OutcomeFailed || rep.Error == nil {
		WriteSuccess(w, rep)
		return
	}
	WriteJSON(w, types.HTTPStatusFor(rep.Error.Code), Response{
		Success: false,
		Data:    rep,
		Error: &ErrorInfo{
			Code:    string(rep.Error.Code),
			Message: rep.Error.Message,
			Backend: rep.Error.Backend,
			Stage:   string(rep.Error.Stage),
		},
		Timestamp: time.Now(),
		RequestID: requestID(w),
	})
}

// HandleList 处理 GET /api/v1/workflows?limit=N
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := QueryInt(r, "limit", 50)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	reps, err := h.runs.List(r.Context(), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	out := api.WorkflowList{Runs: make([]api.RunSummary, 0, len(reps))}
	for _, rep := range reps {
		out.Runs = append(out.Runs, api.SummaryOf(rep))
	}
	WriteSuccess(w, out)
}

// HandleGet 处理 GET /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, rep)
}

// HandleCancel 处理 DELETE /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runs.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, api.CancelResponse{ID: id, Cancelling: true})
}

// HandleEvents 处理 GET /api/v1/workflows/{id}/events，以 websocket 推送
// 运行事件，最终事件发送后以正常关闭码结束。
func (h *WorkflowHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, unsubscribe, err := h.runs.Subscribe(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("run_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据；CloseRead 在对端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("run_id", id))

	var ping <-chan time.Time
	if h.PingInterval > 0 {
		t := time.NewTicker(h.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream client went away")
			return
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Debug("event write failed", zap.Error(err))
				}
				return
			}
			if ev.Final() {
				_ = conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
		}
	}
}
