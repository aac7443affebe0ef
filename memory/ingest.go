package memory

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brooksjoey/MnemosyneOS/internal/pool"
	"github.com/brooksjoey/MnemosyneOS/types"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// rollbackTimeout 回滚使用独立超时，不受请求取消影响
const rollbackTimeout = 10 * time.Second

// IngestRequest 一次写入请求.
type IngestRequest struct {
	// Namespace 目标命名空间，必填
	Namespace string `json:"namespace"`
	// Text 原文，按原样存储，哈希前才做规范化
	Text string `json:"text"`
	// Source 来源标识，参与默认层推断
	Source string `json:"source,omitempty"`
	// Layer 显式层提示，为空时按来源推断
	Layer types.MemoryLayer `json:"layer,omitempty"`
	// Metadata 调用方自定义元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IngestResult 写入结果。
// Deduplicated 为真表示内容已存在，ExistingID 指向既有记录，
// 本次没有任何写入；否则 Records 是覆盖这段文本的全部记录，
// 含切块路径上复用的既有块.
type IngestResult struct {
	Records      []*types.MemoryRecord `json:"records,omitempty"`
	Deduplicated bool                  `json:"deduplicated"`
	ExistingID   string                `json:"existing_id,omitempty"`
}

// Ingest 写入一段记忆。
// 管线：规范化哈希 → 去重 → 切块 → 分类 → 嵌入 → 钉定校验 → 落库。
// 相同规范化文本的重复写入幂等：整篇命中返回 Deduplicated 与既有 id；
// 切块路径按块哈希复用既有块，只嵌入并写入缺失的块。
// 维度钉冲突返回 DIMENSION_MISMATCH，不做任何写入。
// 请求经内部工作池限流执行.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if s.closed.Load() {
		return nil, types.NewError(types.ErrServiceUnavailable, "memory service is closed").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}

	var res *IngestResult
	err := s.pool.SubmitWait(ctx, func(taskCtx context.Context) error {
		r, err := s.ingest(taskCtx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, mapPoolErr(err)
	}
	return res, nil
}

func (s *Service) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()

	if err := validateIngest(&req); err != nil {
		s.observeIngest(req.Namespace, string(req.Layer), "invalid", start, 0)
		return nil, err
	}

	layer := resolveLayer(req.Layer, req.Source)
	fullHash := types.HashContent(req.Text)

	// 同一 (namespace, content_hash) 的检查与写入互斥，跨命名空间不竞争
	key := dedupKey(req.Namespace, fullHash)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	existing, err := s.records.FindByDedupKey(ctx, req.Namespace, layer, fullHash)
	if err != nil {
		s.observeIngest(req.Namespace, string(layer), "error", start, 0)
		return nil, err
	}
	if existing != nil {
		s.publishDeduplicated(req.Namespace, layer, existing.ID)
		s.observeIngest(req.Namespace, string(layer), "deduplicated", start, 0)
		s.logger.Debug("ingest deduplicated",
			zap.String("namespace", req.Namespace),
			zap.String("existing_id", existing.ID))
		return &IngestResult{Deduplicated: true, ExistingID: existing.ID}, nil
	}

	// 钉定预检，冲突时不浪费嵌入调用
	pin, err := s.records.GetPin(ctx, req.Namespace)
	if err != nil {
		s.observeIngest(req.Namespace, string(layer), "error", start, 0)
		return nil, err
	}
	if pin != nil && !pin.Matches(s.provider.ID(), s.provider.Dimensions()) {
		s.observeIngest(req.Namespace, string(layer), "dimension_mismatch", start, 0)
		return nil, s.dimensionMismatch(pin)
	}

	plan, err := s.planChunks(ctx, &req, layer, fullHash)
	if err != nil {
		s.observeIngest(req.Namespace, string(layer), "error", start, 0)
		return nil, err
	}
	if plan.missing == 0 {
		// 切块路径整篇重复：每个块都已存在，幂等返回
		s.publishDeduplicated(req.Namespace, layer, plan.existing[0].ID)
		s.observeIngest(req.Namespace, string(layer), "deduplicated", start, 0)
		return &IngestResult{
			Deduplicated: true,
			ExistingID:   plan.existing[0].ID,
			Records:      plan.existingRecords(),
		}, nil
	}

	vecs, err := s.embedMissing(ctx, plan)
	if err != nil {
		s.observeIngest(req.Namespace, string(layer), "error", start, 0)
		return nil, err
	}

	// 钉定建立：仅首写生效，写后重读裁决并发竞态
	if pin == nil {
		if err := s.establishPin(ctx, req.Namespace); err != nil {
			s.observeIngest(req.Namespace, string(layer), "error", start, 0)
			return nil, err
		}
	}

	records, created, err := s.commitChunks(ctx, &req, layer, plan, vecs)
	if err != nil {
		s.observeIngest(req.Namespace, string(layer), "error", start, 0)
		return nil, err
	}

	now := time.Now().UTC()
	for _, rec := range created {
		s.publish(types.Event{
			Type:      types.EventRecordCreated,
			Namespace: req.Namespace,
			RecordID:  rec.ID,
			Layer:     layer,
			At:        now,
		})
	}
	s.observeIngest(req.Namespace, string(layer), "ok", start, len(created))

	s.logger.Info("memory ingested",
		zap.String("namespace", req.Namespace),
		zap.String("layer", string(layer)),
		zap.String("source", req.Source),
		zap.Int("chunks", len(records)),
		zap.Int("created", len(created)),
		zap.Duration("elapsed", time.Since(start)))

	return &IngestResult{Records: records}, nil
}

func validateIngest(req *IngestRequest) error {
	if err := types.ValidateNamespace(req.Namespace); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return types.NewError(types.ErrInvalidRequest, "text is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if req.Layer != "" && !req.Layer.Valid() {
		return types.NewError(types.ErrInvalidRequest, "unknown memory layer "+string(req.Layer)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// chunkPlan 切块写入计划：每块的哈希与既有记录（nil 表示缺失待写）.
type chunkPlan struct {
	chunks   []Chunk
	hashes   []string
	existing []*types.MemoryRecord
	missing  int
}

func (p *chunkPlan) existingRecords() []*types.MemoryRecord {
	recs := make([]*types.MemoryRecord, 0, len(p.existing))
	for _, rec := range p.existing {
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs
}

// planChunks 切块并按块哈希查重。
// 单块沿用整篇哈希；多块各算各的哈希并逐块查重，已存在的块复用.
func (s *Service) planChunks(ctx context.Context, req *IngestRequest, layer types.MemoryLayer, fullHash string) (*chunkPlan, error) {
	chunks := s.chunker.Split(req.Text)
	plan := &chunkPlan{
		chunks:   chunks,
		hashes:   make([]string, len(chunks)),
		existing: make([]*types.MemoryRecord, len(chunks)),
	}

	if len(chunks) == 1 {
		plan.hashes[0] = fullHash
		plan.missing = 1
		return plan, nil
	}

	for i, chunk := range chunks {
		plan.hashes[i] = types.HashContent(chunk.Text)
		rec, err := s.records.FindByDedupKey(ctx, req.Namespace, layer, plan.hashes[i])
		if err != nil {
			return nil, err
		}
		plan.existing[i] = rec
		if rec == nil {
			plan.missing++
		}
	}
	return plan, nil
}

// embedMissing 有界并发嵌入缺失的块，结果按块序号排列，复用块为 nil.
func (s *Service) embedMissing(ctx context.Context, plan *chunkPlan) ([][]float64, error) {
	start := time.Now()
	vecs := make([][]float64, len(plan.chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EmbedConcurrency)
	for i, chunk := range plan.chunks {
		if plan.existing[i] != nil {
			continue
		}
		g.Go(func() error {
			out, err := s.provider.EmbedDocuments(gctx, []string{chunk.Text})
			if err != nil {
				return err
			}
			if len(out) != 1 {
				return types.NewError(types.ErrProviderUnavailable, "embedding count mismatch").
					WithProvider(s.provider.Name()).
					WithHTTPStatus(http.StatusBadGateway)
			}
			vecs[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.observeEmbedding("error", start, plan.missing)
		return nil, err
	}
	s.observeEmbedding("ok", start, plan.missing)
	return vecs, nil
}

// establishPin 写入命名空间钉并重读裁决；输掉首写竞态且身份不同时
// 返回 DIMENSION_MISMATCH.
func (s *Service) establishPin(ctx context.Context, namespace string) error {
	if err := s.records.SetPin(ctx, &types.NamespacePin{
		Namespace:  namespace,
		ProviderID: s.provider.ID(),
		Dimension:  s.provider.Dimensions(),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	pin, err := s.records.GetPin(ctx, namespace)
	if err != nil {
		return err
	}
	if pin == nil {
		return types.NewError(types.ErrInternalError, "namespace pin missing after write").
			WithHTTPStatus(http.StatusInternalServerError)
	}
	if !pin.Matches(s.provider.ID(), s.provider.Dimensions()) {
		return s.dimensionMismatch(pin)
	}
	return nil
}

// commitChunks 逐块提交缺失的块：先记录库后向量库。
// 任一块失败则回滚本次调用新建的块（复用块不动），错误原样上抛。
// 返回覆盖全文的记录序列与本次新建的记录.
func (s *Service) commitChunks(ctx context.Context, req *IngestRequest, layer types.MemoryLayer, plan *chunkPlan, vecs [][]float64) (all, created []*types.MemoryRecord, err error) {
	now := time.Now().UTC()
	total := len(plan.chunks)
	all = make([]*types.MemoryRecord, 0, total)
	created = make([]*types.MemoryRecord, 0, plan.missing)

	for i, chunk := range plan.chunks {
		if rec := plan.existing[i]; rec != nil {
			all = append(all, rec)
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			s.rollback(req.Namespace, created)
			return nil, nil, cerr
		}

		rec := &types.MemoryRecord{
			ID:          uuid.NewString(),
			Namespace:   req.Namespace,
			Layer:       layer,
			Text:        chunk.Text,
			ContentHash: plan.hashes[i],
			Source:      req.Source,
			CreatedAt:   now,
			Metadata:    chunkMetadata(req.Metadata, i, total),
		}

		if ierr := s.records.Insert(ctx, rec); ierr != nil {
			s.rollback(req.Namespace, created)
			return nil, nil, ierr
		}

		point := vectorstore.Point{
			ID:          rec.ID,
			Vector:      vectorstore.Float64ToFloat32(vecs[i]),
			Layer:       string(layer),
			CreatedAt:   now,
			ContentHash: rec.ContentHash,
		}
		if uerr := s.vectors.Upsert(ctx, req.Namespace, []vectorstore.Point{point}); uerr != nil {
			s.rollback(req.Namespace, append(created, rec))
			return nil, nil, uerr
		}

		all = append(all, rec)
		created = append(created, rec)
	}

	return all, created, nil
}

// chunkMetadata 复制调用方元数据，多块时附加块序号.
func chunkMetadata(base map[string]any, index, total int) map[string]any {
	if len(base) == 0 && total <= 1 {
		return nil
	}
	md := make(map[string]any, len(base)+2)
	for k, v := range base {
		md[k] = v
	}
	if total > 1 {
		md["chunk_index"] = index
		md["chunk_total"] = total
	}
	return md
}

// rollback 撤销本次调用写入的记录：硬删，删不掉则落墓碑。
// 使用独立上下文，请求取消不会阻止回滚.
func (s *Service) rollback(namespace string, recs []*types.MemoryRecord) {
	if len(recs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		if _, err := s.records.Delete(ctx, namespace, rec.ID); err != nil {
			if terr := s.records.Tombstone(ctx, namespace, rec.ID); terr != nil {
				s.logger.Error("rollback failed, record needs manual cleanup",
					zap.String("namespace", namespace),
					zap.String("record_id", rec.ID),
					zap.NamedError("delete_err", err),
					zap.NamedError("tombstone_err", terr))
				continue
			}
			s.logger.Warn("rollback fell back to tombstone",
				zap.String("namespace", namespace),
				zap.String("record_id", rec.ID),
				zap.Error(err))
		}
	}

	if err := s.vectors.Delete(ctx, namespace, ids); err != nil {
		s.logger.Warn("rollback vector delete failed, orphans tolerated by reads",
			zap.String("namespace", namespace),
			zap.Int("ids", len(ids)),
			zap.Error(err))
	}
}

func (s *Service) publishDeduplicated(namespace string, layer types.MemoryLayer, existingID string) {
	s.publish(types.Event{
		Type:      types.EventRecordDeduplicated,
		Namespace: namespace,
		RecordID:  existingID,
		Layer:     layer,
		At:        time.Now().UTC(),
	})
}

func (s *Service) dimensionMismatch(pin *types.NamespacePin) error {
	return types.NewError(types.ErrDimensionMismatch,
		"namespace pinned to "+pin.ProviderID+", got "+s.provider.ID()).
		WithHTTPStatus(http.StatusConflict).
		WithRetryable(false)
}

func mapPoolErr(err error) error {
	switch {
	case errors.Is(err, pool.ErrPoolFull):
		return types.NewError(types.ErrServiceUnavailable, "engine worker queue is full").
			WithRetryable(true).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithCause(err)
	case errors.Is(err, pool.ErrPoolClosed):
		return types.NewError(types.ErrServiceUnavailable, "memory service is closed").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithCause(err)
	default:
		return err
	}
}

func (s *Service) observeIngest(namespace, layer, status string, start time.Time, chunks int) {
	if s.metrics != nil {
		s.metrics.RecordIngest(namespace, layer, status, time.Since(start), chunks)
	}
}

func (s *Service) observeEmbedding(status string, start time.Time, texts int) {
	if s.metrics != nil {
		model := strings.TrimPrefix(s.provider.ID(), s.provider.Name()+"/")
		s.metrics.RecordEmbedding(s.provider.Name(), model, status, time.Since(start), texts)
	}
}
