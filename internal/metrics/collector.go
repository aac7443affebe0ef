// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 写入指标
	ingestTotal    *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	ingestChunks   prometheus.Histogram

	// 检索指标
	searchTotal    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  prometheus.Histogram

	// 删除指标
	deletesTotal *prometheus.CounterVec

	// 反思指标
	reflectionRunsTotal    *prometheus.CounterVec
	reflectionRunDuration  *prometheus.HistogramVec
	reflectionRecordsTotal *prometheus.CounterVec

	// 嵌入指标
	embeddingRequestsTotal   *prometheus.CounterVec
	embeddingRequestDuration *prometheus.HistogramVec
	embeddingTextsTotal      *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 写入指标
	c.ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_ingest_total",
			Help:      "Total number of ingest operations",
		},
		[]string{"namespace", "layer", "status"}, // status: created, deduplicated, error
	)

	c.ingestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_ingest_duration_seconds",
			Help:      "Ingest operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"namespace"},
	)

	c.ingestChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_ingest_chunks",
			Help:      "Number of chunks produced per ingest",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// 检索指标
	c.searchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_search_total",
			Help:      "Total number of search operations",
		},
		[]string{"namespace", "status"},
	)

	c.searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_search_duration_seconds",
			Help:      "Search operation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"namespace"},
	)

	c.searchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// 删除指标
	c.deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_deletes_total",
			Help:      "Total number of delete operations",
		},
		[]string{"namespace", "status"}, // status: deleted, not_found, error
	)

	// 反思指标
	c.reflectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reflection_runs_total",
			Help:      "Total number of reflection runs",
		},
		[]string{"namespace", "status"}, // status: completed, empty, failed, rejected
	)

	c.reflectionRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reflection_run_duration_seconds",
			Help:      "Reflection run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"namespace"},
	)

	c.reflectionRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reflection_records_created_total",
			Help:      "Total number of reflective records created",
		},
		[]string{"namespace"},
	)

	// 嵌入指标
	c.embeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.embeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.embeddingTextsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_texts_total",
			Help:      "Total number of texts embedded",
		},
		[]string{"provider", "model"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧠 记忆引擎指标记录
// =============================================================================

// RecordIngest 记录一次写入操作
func (c *Collector) RecordIngest(namespace, layer, status string, duration time.Duration, chunks int) {
	c.ingestTotal.WithLabelValues(namespace, layer, status).Inc()
	c.ingestDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	if chunks > 0 {
		c.ingestChunks.Observe(float64(chunks))
	}
}

// RecordSearch 记录一次检索操作
func (c *Collector) RecordSearch(namespace, status string, duration time.Duration, results int) {
	c.searchTotal.WithLabelValues(namespace, status).Inc()
	c.searchDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	if status == "ok" {
		c.searchResults.Observe(float64(results))
	}
}

// RecordDelete 记录一次删除操作
func (c *Collector) RecordDelete(namespace, status string) {
	c.deletesTotal.WithLabelValues(namespace, status).Inc()
}

// RecordReflectionRun 记录一次反思运行
func (c *Collector) RecordReflectionRun(namespace, status string, duration time.Duration, created int) {
	c.reflectionRunsTotal.WithLabelValues(namespace, status).Inc()
	c.reflectionRunDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	if created > 0 {
		c.reflectionRecordsTotal.WithLabelValues(namespace).Add(float64(created))
	}
}

// =============================================================================
// 🧬 嵌入指标记录
// =============================================================================

// RecordEmbedding 记录一次嵌入请求
func (c *Collector) RecordEmbedding(provider, model, status string, duration time.Duration, texts int) {
	c.embeddingRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.embeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.embeddingTextsTotal.WithLabelValues(provider, model).Add(float64(texts))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
