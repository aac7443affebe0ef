package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig 嵌入式持久化向量存储配置
type ChromemConfig struct {
	// 持久化目录
	Path string `json:"path"`
	// 是否压缩存储文件
	Compress bool `json:"compress"`
}

// ChromemStore 基于 philippgille/chromem-go 的嵌入式持久化存储。
// 每个命名空间一个集合；layer/created_at/content_hash 编码进文档 metadata。
// chromem 的 where 只支持单值等值匹配，层过滤在适配器侧完成。
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewChromemStore opens (or creates) the persistent database at cfg.Path.
// Existing collections are loaded from disk.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "./data/vectors"
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, unavailable("chromem", err)
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With(zap.String("component", "chromem_store")),
	}, nil
}

// getOrCreateCollection 返回命名空间对应的集合（双检锁）。
func (s *ChromemStore) getOrCreateCollection(namespace string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[namespace]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[namespace]; ok {
		return col, nil
	}

	// 嵌入由引擎提供，集合不需要 embedding 函数
	col, err := s.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return nil, unavailable("chromem", err)
	}

	s.collections[namespace] = col
	return col, nil
}

// Upsert 按 id 幂等写入；chromem 对同 id 的 AddDocument 即覆盖.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	col, err := s.getOrCreateCollection(namespace)
	if err != nil {
		return err
	}

	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point[%d] has empty id", i)
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("point[%d] has no vector", i)
		}

		doc := chromem.Document{
			ID:        p.ID,
			Embedding: p.Vector,
			Metadata: map[string]string{
				"layer":        p.Layer,
				"created_at":   p.CreatedAt.UTC().Format(time.RFC3339Nano),
				"content_hash": p.ContentHash,
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return unavailable("chromem", err)
		}
	}

	s.logger.Debug("chromem upsert completed",
		zap.String("namespace", namespace),
		zap.Int("count", len(points)))

	return nil
}

// Query 余弦相似度检索。nResults 不超过集合大小；
// 带层过滤时取全量排好序的结果再截断，避免漏掉层内命中.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	col, err := s.getOrCreateCollection(namespace)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []Hit{}, nil
	}

	nResults := k
	if filter != nil && len(filter.Layers) > 0 {
		nResults = count
	}
	if nResults > count {
		nResults = count
	}

	results, err := col.QueryEmbedding(ctx, vector, nResults, nil, nil)
	if err != nil {
		return nil, unavailable("chromem", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		layer := r.Metadata["layer"]
		if !filter.Match(layer) {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		hits = append(hits, Hit{
			ID:        r.ID,
			Score:     float64(r.Similarity),
			Layer:     layer,
			CreatedAt: createdAt,
		})
	}

	sortHits(hits)

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Delete 按 id 删除。chromem 对不存在的 id 会尝试删文件，
// 先用 GetByID 过滤出实际存在的 id 保证未知 id 是空操作.
func (s *ChromemStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	col, err := s.getOrCreateCollection(namespace)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}

	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := col.GetByID(ctx, id); err == nil {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, present...); err != nil {
		return unavailable("chromem", err)
	}

	s.logger.Debug("chromem delete completed",
		zap.String("namespace", namespace),
		zap.Int("deleted", len(present)))

	return nil
}

// Count 返回命名空间内的向量数量
func (s *ChromemStore) Count(ctx context.Context, namespace string) (int, error) {
	col, err := s.getOrCreateCollection(namespace)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}
