// =============================================================================
// 🧠 真实记忆栈工厂
// =============================================================================
// 为包外测试组装完整的记忆引擎：本地哈希嵌入、内存向量库、
// sqlite 记录库。所有组件都是真实实现，不经网络.
// =============================================================================
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/embedding"
	"github.com/brooksjoey/MnemosyneOS/internal/database"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/recordstore"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// MemoryStack 组装好的真实记忆栈，测试结束自动关闭.
type MemoryStack struct {
	Service *memory.Service
	Records recordstore.Store
	Vectors vectorstore.Store
	Config  *config.Config
}

// NewMemoryStack 构建真实组件栈并注册清理。
// 反思调度默认关闭（手动触发单独测）；token 计数用字符估算，
// 不依赖外部编码数据。mutate 可在构建前调整依赖.
func NewMemoryStack(t *testing.T, mutate ...func(*memory.Options)) *MemoryStack {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Reflection.Enabled = false
	cfg.Reflection.MinSourceRecords = 2
	cfg.Memory.Workers = 4
	cfg.Memory.QueueSize = 16
	cfg.Memory.EmbedConcurrency = 2
	cfg.Memory.EstimateTokens = true

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 单连接保证 :memory: 库在连接复用间存续
	records, err := recordstore.NewGormStore(db, "sqlite",
		database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("create record store: %v", err)
	}

	opts := memory.Options{
		Config:   cfg,
		Provider: embedding.NewLocalProvider(embedding.LocalConfig{Dimensions: 64}),
		Vectors:  vectorstore.NewMemoryStore(zap.NewNop()),
		Records:  records,
		Logger:   zap.NewNop(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	svc, err := memory.NewService(opts)
	if err != nil {
		t.Fatalf("create memory service: %v", err)
	}

	t.Cleanup(func() {
		_ = svc.Close()
		_ = opts.Records.Close()
	})
	return &MemoryStack{
		Service: svc,
		Records: opts.Records,
		Vectors: opts.Vectors,
		Config:  opts.Config,
	}
}
