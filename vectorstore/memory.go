package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// ====== 进程内向量存储（用于开发和测试）======

// MemoryStore 进程内向量存储
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Point
	logger     *zap.Logger
}

// NewMemoryStore 创建进程内向量存储
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		namespaces: make(map[string]map[string]Point),
		logger:     logger.With(zap.String("component", "memory_vector_store")),
	}
}

// Upsert 按 id 幂等写入
func (s *MemoryStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]Point)
		s.namespaces[namespace] = ns
	}

	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point[%d] has empty id", i)
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("point[%d] has no vector", i)
		}
		ns[p.ID] = p
	}

	s.logger.Debug("vectors upserted",
		zap.String("namespace", namespace),
		zap.Int("count", len(points)),
		zap.Int("total", len(ns)))

	return nil
}

// Query 余弦相似度检索
func (s *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	if len(ns) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(ns))
	for _, p := range ns {
		if !filter.Match(p.Layer) {
			continue
		}
		hits = append(hits, Hit{
			ID:        p.ID,
			Score:     cosineSimilarity(vector, p.Vector),
			Layer:     p.Layer,
			CreatedAt: p.CreatedAt,
		})
	}

	sortHits(hits)

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Delete 按 id 删除；未知 id 是空操作
func (s *MemoryStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	if len(ns) == 0 {
		return nil
	}

	deleted := 0
	for _, id := range ids {
		if _, ok := ns[id]; ok {
			delete(ns, id)
			deleted++
		}
	}

	s.logger.Debug("vectors deleted",
		zap.String("namespace", namespace),
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(ns)))

	return nil
}

// Count 返回命名空间内的向量数量
func (s *MemoryStore) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]), nil
}

// cosineSimilarity 计算两个 float32 向量的余弦相似度，累加用 float64 保证精度.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
