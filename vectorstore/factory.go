// Config 桥接层：将全局 config.Config 转换为 vectorstore 包的运行时实例，
// 消除 config 包和 vectorstore 包之间的手动配置映射。

package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
)

// BackendType 标识要创建的向量存储后端。
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendChromem  BackendType = "chromem"
	BackendQdrant   BackendType = "qdrant"
	BackendPGVector BackendType = "pgvector"
)

// NewStoreFromConfig 根据全局配置创建 Store。
// 后端为空字符串时默认使用进程内存储。
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch BackendType(cfg.VectorStore.Backend) {
	case BackendMemory, "":
		return NewMemoryStore(logger), nil

	case BackendChromem:
		return NewChromemStore(ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		}, logger)

	case BackendQdrant:
		return NewQdrantStore(QdrantConfig{
			BaseURL:          cfg.VectorStore.Qdrant.URL(),
			APIKey:           cfg.VectorStore.Qdrant.APIKey,
			CollectionPrefix: cfg.VectorStore.Qdrant.CollectionPrefix,
		}, logger), nil

	case BackendPGVector:
		return NewPGVectorStore(ctx, PGVectorConfig{
			DSN:      cfg.VectorStore.PGVector.DSN,
			MaxConns: int32(cfg.VectorStore.PGVector.MaxConns),
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.VectorStore.Backend)
	}
}
