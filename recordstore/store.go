package recordstore

import (
	"context"
	"net/http"
	"time"

	"github.com/brooksjoey/MnemosyneOS/types"
)

// Store 是记忆记录的持久化契约。
//
// 所有实现共享同一套语义：未命中不是错误（返回 nil 或零值），后端
// 不可达统一映射为 BACKEND_UNAVAILABLE。嵌入向量不经过本接口。
type Store interface {
	// Insert 持久化一条新记录（不含向量）。id 必须全局唯一。
	Insert(ctx context.Context, record *types.MemoryRecord) error

	// FindByDedupKey 按去重键 (namespace, layer, content_hash) 查找可见
	// 记录，多条时返回最早的一条。未命中返回 (nil, nil)；墓碑行不参与去重。
	FindByDedupKey(ctx context.Context, namespace string, layer types.MemoryLayer, contentHash string) (*types.MemoryRecord, error)

	// Get 返回单条可见记录；不存在或已墓碑返回 (nil, nil)。
	Get(ctx context.Context, namespace, id string) (*types.MemoryRecord, error)

	// GetMany 批量读取可见记录；缺失或墓碑的 id 被静默跳过，
	// 返回顺序不保证与 ids 一致。
	GetMany(ctx context.Context, namespace string, ids []string) ([]*types.MemoryRecord, error)

	// Delete 硬删除一条记录（墓碑行同样会被移除），返回是否确有行被删。
	Delete(ctx context.Context, namespace, id string) (bool, error)

	// Tombstone 给记录落墓碑。目标不存在时是空操作。
	Tombstone(ctx context.Context, namespace, id string) error

	// ListSince 返回窗口 (since, until] 内指定层的可见记录，最多 limit
	// 条（窗口内最近的），按 created_at 升序返回。since/until 为零值时
	// 对应边界不限制；layers 为空时不过滤层。
	ListSince(ctx context.Context, namespace string, layers []types.MemoryLayer, since, until time.Time, limit int) ([]*types.MemoryRecord, error)

	// Stats 汇总命名空间的可见记录：分层计数与最早/最新时间。
	Stats(ctx context.Context, namespace string) (*types.MemoryStats, error)

	// Namespaces 列出所有持有可见记录的命名空间（升序）。
	Namespaces(ctx context.Context) ([]string, error)

	// GetPin 返回命名空间的嵌入身份钉；未钉定返回 (nil, nil)。
	GetPin(ctx context.Context, namespace string) (*types.NamespacePin, error)

	// SetPin 写入钉。仅在不存在时生效，已有钉永不被覆盖；
	// 并发首写由调用方在写后重读裁决。
	SetPin(ctx context.Context, pin *types.NamespacePin) error

	// GetReflectionMark 返回反思高水位；未设置返回零值时间。
	GetReflectionMark(ctx context.Context, namespace string) (time.Time, error)

	// SetReflectionMark 推进反思高水位（插入或更新）。
	SetReflectionMark(ctx context.Context, namespace string, at time.Time) error

	// Ping 探测后端连通性。
	Ping(ctx context.Context) error

	// Close 释放底层连接。
	Close() error
}

func unavailable(driver string, err error) error {
	return types.NewError(types.ErrBackendUnavailable, driver+" record store unavailable").
		WithCause(err).
		WithProvider(driver).
		WithRetryable(true).
		WithHTTPStatus(http.StatusServiceUnavailable)
}
