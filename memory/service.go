package memory

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/embedding"
	"github.com/brooksjoey/MnemosyneOS/internal/metrics"
	"github.com/brooksjoey/MnemosyneOS/internal/pool"
	"github.com/brooksjoey/MnemosyneOS/llm"
	"github.com/brooksjoey/MnemosyneOS/recordstore"
	"github.com/brooksjoey/MnemosyneOS/types"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// Options 组装记忆服务的依赖。
// Provider、Vectors、Records 必填；Summarizer 为空时使用抽取式摘要器，
// Config 为空时使用默认配置，Metrics 可选.
type Options struct {
	Config     *config.Config
	Provider   embedding.Provider
	Vectors    vectorstore.Store
	Records    recordstore.Store
	Summarizer llm.Summarizer
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Service 记忆引擎：写入管线、检索与反思调度的统一入口。
// 写入与检索经内部工作池限流，反思在独立 goroutine 上运行.
type Service struct {
	cfg    config.MemoryConfig
	refCfg config.ReflectionConfig

	provider   embedding.Provider
	vectors    vectorstore.Store
	records    recordstore.Store
	summarizer llm.Summarizer
	metrics    *metrics.Collector
	logger     *zap.Logger

	pool        *pool.GoroutinePool
	locks       *keyLock
	chunker     *Chunker
	broadcaster *Broadcaster

	// 反思状态：每命名空间互斥，并发触发拒绝而非排队
	reflMu   sync.Mutex
	running  map[string]*types.ReflectionRun
	lastRuns map[string]*types.ReflectionRun

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewService 创建记忆服务并启动反思调度器（若启用）.
func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding provider is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if opts.Vectors == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "vector store is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if opts.Records == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "record store is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "memory"))

	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = llm.NewExtractiveSummarizer(logger)
	}

	mem := cfg.Memory
	def := config.DefaultMemoryConfig()
	if mem.Workers <= 0 {
		mem.Workers = def.Workers
	}
	if mem.QueueSize <= 0 {
		mem.QueueSize = def.QueueSize
	}
	if mem.EmbedConcurrency <= 0 {
		mem.EmbedConcurrency = def.EmbedConcurrency
	}
	if mem.DefaultK <= 0 {
		mem.DefaultK = def.DefaultK
	}
	if mem.MaxK <= 0 {
		mem.MaxK = def.MaxK
	}
	if mem.OverfetchFactor <= 0 {
		mem.OverfetchFactor = def.OverfetchFactor
	}
	if mem.ScoreEpsilon <= 0 {
		mem.ScoreEpsilon = def.ScoreEpsilon
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        mem,
		refCfg:     cfg.Reflection,
		provider:   opts.Provider,
		vectors:    opts.Vectors,
		records:    opts.Records,
		summarizer: summarizer,
		metrics:    opts.Metrics,
		logger:     logger,
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  mem.Workers,
			QueueSize:   mem.QueueSize,
			IdleTimeout: 60 * time.Second,
			PanicHandler: func(r any) {
				logger.Error("panic in memory worker", zap.Any("panic", r))
			},
		}),
		locks: newKeyLock(),
		chunker: NewChunker(ChunkerConfig{
			ChunkSize:      mem.ChunkSize,
			ChunkOverlap:   mem.ChunkOverlap,
			MinChunkTokens: mem.MinChunkTokens,
			EstimateTokens: mem.EstimateTokens,
		}, logger),
		broadcaster: NewBroadcaster(mem.QueueSize, logger),
		running:     make(map[string]*types.ReflectionRun),
		lastRuns:    make(map[string]*types.ReflectionRun),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}

	if s.refCfg.Enabled && s.refCfg.Interval > 0 {
		s.wg.Add(1)
		go s.runScheduler()
	}

	logger.Info("memory service started",
		zap.String("provider", opts.Provider.ID()),
		zap.Int("dimensions", opts.Provider.Dimensions()),
		zap.Int("workers", mem.Workers),
		zap.Bool("reflection_enabled", s.refCfg.Enabled))

	return s, nil
}

// Delete 删除一条记录：先记录库后向量库。
// 返回 (false, nil) 表示记录不存在，这是正常结果而非错误。
// 向量删除失败只告警，读路径容忍孤儿向量.
func (s *Service) Delete(ctx context.Context, namespace, recordID string) (bool, error) {
	start := time.Now()

	if err := types.ValidateNamespace(namespace); err != nil {
		s.observeDelete(namespace, "invalid")
		return false, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	if recordID == "" {
		s.observeDelete(namespace, "invalid")
		return false, types.NewError(types.ErrInvalidRequest, "record id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	deleted, err := s.records.Delete(ctx, namespace, recordID)
	if err != nil {
		s.observeDelete(namespace, "error")
		return false, err
	}

	// 无论记录是否存在都清理向量，顺带回收孤儿
	if verr := s.vectors.Delete(ctx, namespace, []string{recordID}); verr != nil {
		s.logger.Warn("vector delete failed, orphan vector left behind",
			zap.String("namespace", namespace),
			zap.String("record_id", recordID),
			zap.Error(verr))
	}

	if !deleted {
		s.observeDelete(namespace, "not_found")
		return false, nil
	}

	s.publish(types.Event{
		Type:      types.EventRecordDeleted,
		Namespace: namespace,
		RecordID:  recordID,
		At:        time.Now().UTC(),
	})
	s.observeDelete(namespace, "ok")

	s.logger.Info("record deleted",
		zap.String("namespace", namespace),
		zap.String("record_id", recordID),
		zap.Duration("elapsed", time.Since(start)))

	return true, nil
}

// Stats 汇总命名空间的可见记录统计.
func (s *Service) Stats(ctx context.Context, namespace string) (*types.MemoryStats, error) {
	if err := types.ValidateNamespace(namespace); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return s.records.Stats(ctx, namespace)
}

// Namespaces 列出所有持有可见记录的命名空间.
func (s *Service) Namespaces(ctx context.Context) ([]string, error) {
	return s.records.Namespaces(ctx)
}

// Pin 返回命名空间的嵌入身份钉；未钉定返回 (nil, nil).
func (s *Service) Pin(ctx context.Context, namespace string) (*types.NamespacePin, error) {
	if err := types.ValidateNamespace(namespace); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return s.records.GetPin(ctx, namespace)
}

// Get 读取一条可见记录；不存在或已墓碑返回 (nil, nil).
func (s *Service) Get(ctx context.Context, namespace, recordID string) (*types.MemoryRecord, error) {
	if err := types.ValidateNamespace(namespace); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	if recordID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "record id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return s.records.Get(ctx, namespace, recordID)
}

// PoolStats 返回请求工作池的运行统计.
func (s *Service) PoolStats() pool.GoroutinePoolStats {
	return s.pool.Stats()
}

// EventsDropped 返回因订阅者滞后而累计丢弃的事件数.
func (s *Service) EventsDropped() int64 {
	return s.broadcaster.Dropped()
}

// Subscribers 返回当前事件订阅者数量.
func (s *Service) Subscribers() int {
	return s.broadcaster.Subscribers()
}

// Subscribe 订阅引擎事件，返回事件通道与注销函数.
func (s *Service) Subscribe() (<-chan types.Event, func()) {
	return s.broadcaster.Subscribe()
}

// Ping 探测两个后端的连通性.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.records.Ping(ctx); err != nil {
		return err
	}
	if _, err := s.vectors.Count(ctx, "healthcheck"); err != nil {
		return err
	}
	return nil
}

// Close 停止调度器，等待在途反思结束并释放工作池。
// 可安全重复调用.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.pool.Close()
	s.broadcaster.Close()
	s.logger.Info("memory service stopped")
	return nil
}

// publish 投递引擎事件，服务关闭后丢弃.
func (s *Service) publish(evt types.Event) {
	s.broadcaster.Publish(evt)
}

func (s *Service) observeDelete(namespace, status string) {
	if s.metrics != nil {
		s.metrics.RecordDelete(namespace, status)
	}
}
