package vectorstore

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/brooksjoey/MnemosyneOS/types"
)

// Point 是写入向量存储的最小单元。
// Layer、CreatedAt 和 ContentHash 随向量一起落库，检索结果无需回表
// 即可完成层过滤与时间平局排序。
type Point struct {
	ID          string    `json:"id"`
	Vector      []float32 `json:"vector"`
	Layer       string    `json:"layer"`
	CreatedAt   time.Time `json:"created_at"`
	ContentHash string    `json:"content_hash"`
}

// Hit 是一次相似度检索的命中。Score 为后端原生余弦相似度。
type Hit struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	Layer     string    `json:"layer"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter 约束检索范围。Layers 为空表示不过滤。
type Filter struct {
	Layers []string `json:"layers,omitempty"`
}

// Match reports whether a layer passes the filter. A nil filter matches all.
func (f *Filter) Match(layer string) bool {
	if f == nil || len(f.Layers) == 0 {
		return true
	}
	for _, l := range f.Layers {
		if l == layer {
			return true
		}
	}
	return false
}

// Store 向量存储统一接口
type Store interface {
	// Upsert 按 id 幂等写入；同 id 重复写入覆盖旧向量.
	Upsert(ctx context.Context, namespace string, points []Point) error

	// Query 返回与 vector 最相似的至多 k 个命中，按得分降序；
	// 得分相同时较新的记录在前.
	Query(ctx context.Context, namespace string, vector []float32, k int, filter *Filter) ([]Hit, error)

	// Delete 按 id 删除；未知 id 是空操作.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Count 返回命名空间内的向量数量.
	Count(ctx context.Context, namespace string) (int, error)
}

// sortHits 按得分降序排序，得分相同时较新的在前.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
}

// unavailable 将后端故障统一收口为 BACKEND_UNAVAILABLE.
func unavailable(backend string, err error) error {
	return types.NewError(types.ErrBackendUnavailable, backend+" backend unavailable").
		WithCause(err).
		WithProvider(backend).
		WithRetryable(true).
		WithHTTPStatus(http.StatusServiceUnavailable)
}
