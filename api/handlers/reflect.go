package handlers

import (
	"net/http"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💭 反思 Handler
// =============================================================================

// ReflectHandler 反思触发与状态查询处理器
type ReflectHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewReflectHandler 创建反思处理器
func NewReflectHandler(svc *memory.Service, logger *zap.Logger) *ReflectHandler {
	return &ReflectHandler{svc: svc, logger: logger}
}

// HandleReflect 处理反思触发请求
// @Summary 触发反思
// @Description 对命名空间触发一轮反思；已有反思在途时拒绝并返回其快照
// @Tags 反思
// @Accept json
// @Produce json
// @Param request body api.ReflectRequest true "反思请求"
// @Success 200 {object} api.Response{data=api.ReflectResponse} "触发结果"
// @Failure 400 {object} api.Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/reflect [post]
func (h *ReflectHandler) HandleReflect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ReflectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	run, started, err := h.svc.TriggerReflection(r.Context(), req.Namespace)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Info("reflection triggered",
		zap.String("namespace", req.Namespace),
		zap.Bool("accepted", started),
	)

	WriteSuccess(w, r, api.ReflectResponse{
		Namespace: req.Namespace,
		Accepted:  started,
		State:     string(run.Status),
	})
}

// HandleReflectionStatus 处理反思状态查询
// @Summary 查询反思状态
// @Description 返回命名空间最近一次反思的状态快照
// @Tags 反思
// @Produce json
// @Param namespace query string true "命名空间"
// @Success 200 {object} api.Response{data=api.ReflectionStatusResponse} "反思状态"
// @Failure 400 {object} api.Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/reflect [get]
func (h *ReflectHandler) HandleReflectionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	namespace := r.URL.Query().Get("namespace")
	if err := types.ValidateNamespace(namespace); err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	resp := api.ReflectionStatusResponse{
		Namespace: namespace,
		State:     string(types.ReflectionIdle),
	}
	if run, ok := h.svc.LastReflection(namespace); ok {
		resp.State = string(run.Status)
		resp.LastError = run.Error
		resp.LastInsightCount = run.Created
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			resp.LastRunAt = &finished
		}
		if !run.WindowEnd.IsZero() {
			mark := run.WindowEnd
			resp.HighWaterMark = &mark
		}
	}

	WriteSuccess(w, r, resp)
}
