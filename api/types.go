package api

import (
	"time"
)

// =============================================================================
// 响应信封
// =============================================================================

// Response 统一 API 响应结构。
// 所有 HTTP 端点（含配置 API）均使用该信封返回数据。
// @Description 统一响应信封
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
// @Description 错误详细结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// =============================================================================
// 记忆摄取类型
// =============================================================================

// IngestRequest 代表记忆摄取请求。
// @Description 记忆摄取请求结构
type IngestRequest struct {
	// 目标命名空间
	Namespace string `json:"namespace" example:"agent-main" binding:"required"`
	// 原始文本内容
	Text string `json:"text" binding:"required"`
	// 来源标识（如 conversation、document、feed）
	Source string `json:"source,omitempty" example:"conversation"`
	// 记忆层提示（为空时自动分类）
	LayerHint string `json:"layer_hint,omitempty" example:"episodic"`
	// 自定义元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IngestResponse 表示记忆摄取结果。
// @Description 记忆摄取响应结构
type IngestResponse struct {
	// 主记录 ID（去重命中时返回已存在的记录 ID）
	RecordID string `json:"record_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	// 是否命中既有记录（内容去重）
	Deduplicated bool `json:"deduplicated" example:"false"`
	// 实际写入的记忆层（整篇去重命中时为空，层信息见既有记录）
	Layer string `json:"layer,omitempty" example:"episodic"`
	// 长文本分块后生成的全部记录 ID（含主记录）
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	// 本次写入的分块数量
	ChunkCount int `json:"chunk_count" example:"1"`
}

// =============================================================================
// 检索类型
// =============================================================================

// SearchRequest 代表相似度检索请求。
// @Description 记忆检索请求结构
type SearchRequest struct {
	// 目标命名空间
	Namespace string `json:"namespace" example:"agent-main" binding:"required"`
	// 查询文本
	Query string `json:"query" binding:"required"`
	// 返回结果数量上限（默认 5）
	K int `json:"k,omitempty" example:"5"`
	// 记忆层过滤（为空时检索全部层）
	Layers []string `json:"layers,omitempty" example:"episodic,semantic"`
	// 最低相似度分数阈值（0-1）
	MinScore float64 `json:"min_score,omitempty" example:"0.35"`
}

// SearchHit 表示单条检索命中。
// @Description 检索命中结构
type SearchHit struct {
	// 记录 ID
	ID string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	// 相似度分数（越大越相近）
	Score float64 `json:"score" example:"0.87"`
	// 记录文本
	Text string `json:"text"`
	// 记忆层
	Layer string `json:"layer" example:"semantic"`
	// 来源标识
	Source string `json:"source,omitempty" example:"conversation"`
	// 记录创建时间
	CreatedAt time.Time `json:"created_at"`
	// 自定义元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResponse 表示检索结果集。
// @Description 记忆检索响应结构
type SearchResponse struct {
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 原始查询
	Query string `json:"query"`
	// 按分数降序排列的命中列表
	Hits []SearchHit `json:"hits"`
	// 命中数量
	Count int `json:"count" example:"3"`
	// 检索耗时（毫秒）
	ElapsedMs int64 `json:"elapsed_ms" example:"42"`
}

// =============================================================================
// 记录类型
// =============================================================================

// RecordResponse 表示单条记忆记录的完整视图。
// @Description 记忆记录结构
type RecordResponse struct {
	// 记录 ID
	ID string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 记忆层
	Layer string `json:"layer" example:"episodic"`
	// 记录文本
	Text string `json:"text"`
	// 来源标识
	Source string `json:"source,omitempty" example:"conversation"`
	// 规范化内容哈希（SHA-256 十六进制）
	ContentHash string `json:"content_hash,omitempty"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
	// 自定义元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DeleteResponse 表示删除结果。
// @Description 删除响应结构
type DeleteResponse struct {
	// 被删除的记录 ID
	ID string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	// 是否实际删除（false 表示记录不存在）
	Deleted bool `json:"deleted" example:"true"`
}

// =============================================================================
// 反思类型
// =============================================================================

// ReflectRequest 代表触发反思的请求。
// @Description 反思触发请求结构
type ReflectRequest struct {
	// 目标命名空间
	Namespace string `json:"namespace" example:"agent-main" binding:"required"`
}

// ReflectResponse 表示反思触发结果。
// @Description 反思触发响应结构
type ReflectResponse struct {
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 是否已接受执行（false 表示该命名空间已有反思在运行）
	Accepted bool `json:"accepted" example:"true"`
	// 当前反思状态（idle、running、failed）
	State string `json:"state" example:"running"`
}

// ReflectionStatusResponse 表示命名空间的反思状态。
// @Description 反思状态结构
type ReflectionStatusResponse struct {
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 当前状态（idle、running、failed）
	State string `json:"state" example:"idle"`
	// 最近一次成功运行时间
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	// 最近一次运行的错误信息（失败时）
	LastError string `json:"last_error,omitempty"`
	// 高水位标记（已消费的源记录时间点）
	HighWaterMark *time.Time `json:"high_water_mark,omitempty"`
	// 最近一次运行产出的反思记录数
	LastInsightCount int `json:"last_insight_count,omitempty" example:"2"`
}

// =============================================================================
// 统计类型
// =============================================================================

// NamespaceStats 表示单个命名空间的统计信息。
// @Description 命名空间统计结构
type NamespaceStats struct {
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 记录总数
	TotalRecords int64 `json:"total_records" example:"1024"`
	// 按记忆层分组的记录数
	RecordsByLayer map[string]int64 `json:"records_by_layer,omitempty"`
	// 固定的嵌入提供者标识（provider/model）
	ProviderID string `json:"provider_id,omitempty" example:"openai/text-embedding-3-small"`
	// 固定的向量维度
	Dimension int `json:"dimension,omitempty" example:"1536"`
}

// StatsResponse 表示整体统计信息。
// @Description 统计响应结构
type StatsResponse struct {
	// 各命名空间统计
	Namespaces []NamespaceStats `json:"namespaces"`
	// 命名空间数量
	NamespaceCount int `json:"namespace_count" example:"3"`
	// 全局记录总数
	TotalRecords int64 `json:"total_records" example:"4096"`
	// 引擎运行时统计
	Engine EngineStats `json:"engine"`
}

// EngineStats 表示引擎运行时统计。
// @Description 引擎运行时统计结构
type EngineStats struct {
	// 工作池 worker 数
	Workers int `json:"workers" example:"8"`
	// 正在执行的任务数
	Active int `json:"active" example:"2"`
	// 排队中的任务数
	Queued int `json:"queued" example:"0"`
	// 累计提交的任务数
	Submitted int64 `json:"submitted" example:"1024"`
	// 累计完成的任务数
	Completed int64 `json:"completed" example:"1020"`
	// 累计失败的任务数
	Failed int64 `json:"failed" example:"3"`
	// 因池满被拒绝的任务数
	Rejected int64 `json:"rejected" example:"1"`
	// 当前事件订阅者数量
	Subscribers int `json:"subscribers" example:"1"`
	// 因订阅者滞后丢弃的事件数
	EventsDropped int64 `json:"events_dropped" example:"0"`
}

// =============================================================================
// 事件类型
// =============================================================================

// Event 表示通过 /v1/events 推送的记忆事件。
// @Description 记忆事件结构
type Event struct {
	// 事件类型（record_created、record_deduplicated、record_deleted、
	// reflection_completed）
	Type string `json:"type" example:"record_created"`
	// 命名空间
	Namespace string `json:"namespace" example:"agent-main"`
	// 相关记录 ID（记录类事件）
	RecordID string `json:"record_id,omitempty"`
	// 记忆层（记录类事件）
	Layer string `json:"layer,omitempty" example:"episodic"`
	// 事件时间戳
	Timestamp time.Time `json:"timestamp"`
}
