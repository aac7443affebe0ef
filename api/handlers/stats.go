package handlers

import (
	"net/http"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 统计 Handler
// =============================================================================

// StatsHandler 统计查询处理器
type StatsHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(svc *memory.Service, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{svc: svc, logger: logger}
}

// HandleStats 处理统计查询请求
// @Summary 统计信息
// @Description 返回各命名空间的记录统计与引擎运行时统计；
// @Description 带 namespace 查询参数时只返回该命名空间
// @Tags 统计
// @Produce json
// @Param namespace query string false "命名空间（为空时返回全部）"
// @Success 200 {object} api.Response{data=api.StatsResponse} "统计结果"
// @Security ApiKeyAuth
// @Router /v1/stats [get]
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	ctx := r.Context()

	namespaces, err := h.resolveNamespaces(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	resp := api.StatsResponse{
		Namespaces:     make([]api.NamespaceStats, 0, len(namespaces)),
		NamespaceCount: len(namespaces),
	}

	for _, ns := range namespaces {
		stats, err := h.svc.Stats(ctx, ns)
		if err != nil {
			HandleServiceError(w, r, err, h.logger)
			return
		}

		nsStats := api.NamespaceStats{
			Namespace:      ns,
			TotalRecords:   stats.TotalRecords,
			RecordsByLayer: stats.ByLayer,
		}
		// 钉定信息缺失不致命，留空即可
		if pin, perr := h.svc.Pin(ctx, ns); perr == nil && pin != nil {
			nsStats.ProviderID = pin.ProviderID
			nsStats.Dimension = pin.Dimension
		}

		resp.Namespaces = append(resp.Namespaces, nsStats)
		resp.TotalRecords += stats.TotalRecords
	}

	pool := h.svc.PoolStats()
	resp.Engine = api.EngineStats{
		Workers:       pool.Workers,
		Active:        pool.Active,
		Queued:        pool.Queued,
		Submitted:     pool.Submitted,
		Completed:     pool.Completed,
		Failed:        pool.Failed,
		Rejected:      pool.Rejected,
		Subscribers:   h.svc.Subscribers(),
		EventsDropped: h.svc.EventsDropped(),
	}

	WriteSuccess(w, r, resp)
}

// resolveNamespaces 解析统计范围：显式命名空间或全部
func (h *StatsHandler) resolveNamespaces(r *http.Request) ([]string, error) {
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		if err := types.ValidateNamespace(ns); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
				WithHTTPStatus(http.StatusBadRequest)
		}
		return []string{ns}, nil
	}
	return h.svc.Namespaces(r.Context())
}
