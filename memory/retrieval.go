package memory

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/types"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// SearchRequest 一次相似度检索请求.
type SearchRequest struct {
	// Namespace 目标命名空间，必填
	Namespace string `json:"namespace"`
	// Query 查询文本，必填
	Query string `json:"query"`
	// K 返回条数，0 取默认值，超上限截断
	K int `json:"k,omitempty"`
	// Layers 层过滤，为空不过滤
	Layers []types.MemoryLayer `json:"layers,omitempty"`
	// MinScore 最低相似度，0 不过滤
	MinScore float64 `json:"min_score,omitempty"`
}

// SearchHit 一条检索命中.
type SearchHit struct {
	Record *types.MemoryRecord `json:"record"`
	Score  float64             `json:"score"`
}

// Search 相似度检索。
// 用命名空间钉定的提供者嵌入查询，过量拉取后按层与最低分过滤，
// 截断到 k 再回表补全记录；没有记录的孤儿向量被静默剔除。
// 结果按得分严格降序，得分在 epsilon 内视为并列，较新者在前。
// 未钉定的命名空间返回空结果。请求经内部工作池限流执行.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	if s.closed.Load() {
		return nil, types.NewError(types.ErrServiceUnavailable, "memory service is closed").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}

	var hits []SearchHit
	err := s.pool.SubmitWait(ctx, func(taskCtx context.Context) error {
		h, err := s.search(taskCtx, req)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		return nil, mapPoolErr(err)
	}
	return hits, nil
}

func (s *Service) search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	start := time.Now()

	if err := validateSearch(&req); err != nil {
		s.observeSearch(req.Namespace, "invalid", start, 0)
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	if k > s.cfg.MaxK {
		k = s.cfg.MaxK
	}

	pin, err := s.records.GetPin(ctx, req.Namespace)
	if err != nil {
		s.observeSearch(req.Namespace, "error", start, 0)
		return nil, err
	}
	if pin == nil {
		// 从未写入的命名空间，无可检索内容
		s.observeSearch(req.Namespace, "ok", start, 0)
		return []SearchHit{}, nil
	}
	if !pin.Matches(s.provider.ID(), s.provider.Dimensions()) {
		s.observeSearch(req.Namespace, "dimension_mismatch", start, 0)
		return nil, s.dimensionMismatch(pin)
	}

	embedStart := time.Now()
	qvec, err := s.provider.EmbedQuery(ctx, req.Query)
	if err != nil {
		s.observeEmbedding("error", embedStart, 1)
		s.observeSearch(req.Namespace, "error", start, 0)
		return nil, err
	}
	s.observeEmbedding("ok", embedStart, 1)

	var filter *vectorstore.Filter
	if len(req.Layers) > 0 {
		layers := make([]string, len(req.Layers))
		for i, l := range req.Layers {
			layers[i] = string(l)
		}
		filter = &vectorstore.Filter{Layers: layers}
	}

	overfetch := k * s.cfg.OverfetchFactor
	raw, err := s.vectors.Query(ctx, req.Namespace, vectorstore.Float64ToFloat32(qvec), overfetch, filter)
	if err != nil {
		s.observeSearch(req.Namespace, "error", start, 0)
		return nil, err
	}

	// 最低分过滤后截断到 k，再回表
	candidates := raw[:0]
	for _, h := range raw {
		if req.MinScore > 0 && h.Score < req.MinScore {
			continue
		}
		candidates = append(candidates, h)
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits, err := s.joinRecords(ctx, req.Namespace, candidates)
	if err != nil {
		s.observeSearch(req.Namespace, "error", start, 0)
		return nil, err
	}

	s.sortHits(hits)
	s.observeSearch(req.Namespace, "ok", start, len(hits))

	s.logger.Debug("search completed",
		zap.String("namespace", req.Namespace),
		zap.Int("k", k),
		zap.Int("candidates", len(candidates)),
		zap.Int("hits", len(hits)),
		zap.Duration("elapsed", time.Since(start)))

	return hits, nil
}

func validateSearch(req *SearchRequest) error {
	if err := types.ValidateNamespace(req.Namespace); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Query) == "" {
		return types.NewError(types.ErrInvalidRequest, "query is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	for _, l := range req.Layers {
		if !l.Valid() {
			return types.NewError(types.ErrInvalidRequest, "unknown memory layer "+string(l)).
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	return nil
}

// joinRecords 用记录库补全命中，缺记录的孤儿向量剔除并告警.
func (s *Service) joinRecords(ctx context.Context, namespace string, candidates []vectorstore.Hit) ([]SearchHit, error) {
	if len(candidates) == 0 {
		return []SearchHit{}, nil
	}

	ids := make([]string, len(candidates))
	for i, h := range candidates {
		ids[i] = h.ID
	}
	recs, err := s.records.GetMany(ctx, namespace, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.MemoryRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	hits := make([]SearchHit, 0, len(candidates))
	for _, h := range candidates {
		rec, ok := byID[h.ID]
		if !ok {
			s.logger.Warn("orphan vector dropped from results",
				zap.String("namespace", namespace),
				zap.String("vector_id", h.ID))
			continue
		}
		hits = append(hits, SearchHit{Record: rec, Score: h.Score})
	}
	return hits, nil
}

// sortHits 按得分严格降序；得分差不超过 epsilon 视为并列，较新者在前.
func (s *Service) sortHits(hits []SearchHit) {
	eps := s.cfg.ScoreEpsilon
	sort.SliceStable(hits, func(i, j int) bool {
		di := hits[i].Score - hits[j].Score
		if di > eps {
			return true
		}
		if di < -eps {
			return false
		}
		return hits[i].Record.CreatedAt.After(hits[j].Record.CreatedAt)
	})
}

func (s *Service) observeSearch(namespace, status string, start time.Time, results int) {
	if s.metrics != nil {
		s.metrics.RecordSearch(namespace, status, time.Since(start), results)
	}
}
