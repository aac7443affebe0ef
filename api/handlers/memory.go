package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧠 记忆记录 Handler
// =============================================================================

// MemoryHandler 记忆写入与记录操作处理器
type MemoryHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewMemoryHandler 创建记忆处理器
func NewMemoryHandler(svc *memory.Service, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, logger: logger}
}

// HandleIngest 处理记忆写入请求
// @Summary 写入记忆
// @Description 将一段文本写入记忆库：去重、切块、分类、嵌入、落库
// @Tags 记忆
// @Accept json
// @Produce json
// @Param request body api.IngestRequest true "写入请求"
// @Success 200 {object} api.Response{data=api.IngestResponse} "写入结果"
// @Failure 400 {object} api.Response "无效请求"
// @Failure 409 {object} api.Response "嵌入身份与命名空间钉定冲突"
// @Security ApiKeyAuth
// @Router /v1/memories [post]
func (h *MemoryHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.IngestRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	start := time.Now()
	result, err := h.svc.Ingest(r.Context(), memory.IngestRequest{
		Namespace: req.Namespace,
		Text:      req.Text,
		Source:    req.Source,
		Layer:     types.MemoryLayer(req.LayerHint),
		Metadata:  req.Metadata,
	})
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	resp := toIngestResponse(result)
	h.logger.Info("memory ingested",
		zap.String("namespace", req.Namespace),
		zap.String("record_id", resp.RecordID),
		zap.Bool("deduplicated", resp.Deduplicated),
		zap.Int("chunks", resp.ChunkCount),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, r, resp)
}

// HandleGet 处理单条记录读取请求
// @Summary 读取记录
// @Description 按 id 读取一条可见记录
// @Tags 记忆
// @Produce json
// @Param id path string true "记录 ID"
// @Param namespace query string true "命名空间"
// @Success 200 {object} api.Response{data=api.RecordResponse} "记录"
// @Failure 404 {object} api.Response "记录不存在"
// @Security ApiKeyAuth
// @Router /v1/memories/{id} [get]
func (h *MemoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	id, ok := extractRecordID(r)
	if !ok {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "record id is required", h.logger)
		return
	}
	namespace := r.URL.Query().Get("namespace")

	rec, err := h.svc.Get(r.Context(), namespace, id)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if rec == nil {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "record not found", h.logger)
		return
	}

	WriteSuccess(w, r, toRecordResponse(rec))
}

// HandleDelete 处理记录删除请求
// @Summary 删除记录
// @Description 删除一条记录及其向量
// @Tags 记忆
// @Produce json
// @Param id path string true "记录 ID"
// @Param namespace query string true "命名空间"
// @Success 200 {object} api.Response{data=api.DeleteResponse} "删除结果"
// @Failure 404 {object} api.Response "记录不存在"
// @Security ApiKeyAuth
// @Router /v1/memories/{id} [delete]
func (h *MemoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	id, ok := extractRecordID(r)
	if !ok {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "record id is required", h.logger)
		return
	}
	namespace := r.URL.Query().Get("namespace")

	deleted, err := h.svc.Delete(r.Context(), namespace, id)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if !deleted {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "record not found", h.logger)
		return
	}

	WriteSuccess(w, r, api.DeleteResponse{ID: id, Deleted: true})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// extractRecordID 从请求中提取记录 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractRecordID(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		// 回退：从 /v1/memories/{id} 手动解析
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 3 {
			return "", false
		}
		id = parts[2]
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// toIngestResponse 转换写入结果。
// 整篇去重时只有既有记录 id；切块去重时 Records 是复用的块
func toIngestResponse(result *memory.IngestResult) api.IngestResponse {
	resp := api.IngestResponse{
		Deduplicated: result.Deduplicated,
		ChunkCount:   len(result.Records),
	}

	if len(result.Records) > 0 {
		resp.RecordID = result.Records[0].ID
		resp.Layer = string(result.Records[0].Layer)
		if len(result.Records) > 1 {
			ids := make([]string, len(result.Records))
			for i, rec := range result.Records {
				ids[i] = rec.ID
			}
			resp.ChunkIDs = ids
		}
	}
	if result.Deduplicated && result.ExistingID != "" {
		resp.RecordID = result.ExistingID
	}

	return resp
}

// toRecordResponse 转换记录视图
func toRecordResponse(rec *types.MemoryRecord) api.RecordResponse {
	return api.RecordResponse{
		ID:          rec.ID,
		Namespace:   rec.Namespace,
		Layer:       string(rec.Layer),
		Text:        rec.Text,
		Source:      rec.Source,
		ContentHash: rec.ContentHash,
		CreatedAt:   rec.CreatedAt,
		Metadata:    rec.Metadata,
	}
}
