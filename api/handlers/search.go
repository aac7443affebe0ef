package handlers

import (
	"net/http"
	"time"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔍 检索 Handler
// =============================================================================

// SearchHandler 相似度检索处理器
type SearchHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(svc *memory.Service, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{svc: svc, logger: logger}
}

// HandleSearch 处理相似度检索请求
// @Summary 检索记忆
// @Description 按查询文本做相似度检索，支持层过滤与最低分阈值
// @Tags 检索
// @Accept json
// @Produce json
// @Param request body api.SearchRequest true "检索请求"
// @Success 200 {object} api.Response{data=api.SearchResponse} "检索结果"
// @Failure 400 {object} api.Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/search [post]
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.SearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	layers := make([]types.MemoryLayer, 0, len(req.Layers))
	for _, l := range req.Layers {
		layers = append(layers, types.MemoryLayer(l))
	}

	start := time.Now()
	hits, err := h.svc.Search(r.Context(), memory.SearchRequest{
		Namespace: req.Namespace,
		Query:     req.Query,
		K:         req.K,
		Layers:    layers,
		MinScore:  req.MinScore,
	})
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	elapsed := time.Since(start)

	resp := api.SearchResponse{
		Namespace: req.Namespace,
		Query:     req.Query,
		Hits:      toSearchHits(hits),
		Count:     len(hits),
		ElapsedMs: elapsed.Milliseconds(),
	}

	h.logger.Info("memory searched",
		zap.String("namespace", req.Namespace),
		zap.Int("hits", len(hits)),
		zap.Duration("duration", elapsed),
	)

	WriteSuccess(w, r, resp)
}

// toSearchHits 转换检索命中列表
func toSearchHits(hits []memory.SearchHit) []api.SearchHit {
	result := make([]api.SearchHit, len(hits))
	for i, hit := range hits {
		result[i] = api.SearchHit{
			ID:        hit.Record.ID,
			Score:     hit.Score,
			Text:      hit.Record.Text,
			Layer:     string(hit.Record.Layer),
			Source:    hit.Record.Source,
			CreatedAt: hit.Record.CreatedAt,
			Metadata:  hit.Record.Metadata,
		}
	}
	return result
}
