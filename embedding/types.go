// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import (
	"context"
	"time"
)

// Request 表示生成嵌入的请求.
type Request struct {
	Input     []string  `json:"input"`                // Text inputs to embed
	Model     string    `json:"model,omitempty"`      // Model override
	InputType InputType `json:"input_type,omitempty"` // query or document
}

// InputType 指定嵌入优化的输入类型.
type InputType string

const (
	InputTypeQuery    InputType = "query"    // For search queries
	InputTypeDocument InputType = "document" // For documents to be indexed
)

// Response 表示嵌入请求的响应.
type Response struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Embeddings []Data    `json:"embeddings"`
	Usage      Usage     `json:"usage"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Data 表示单个嵌入结果.
type Data struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Usage 表示嵌入请求的 Token 用量.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider 定义统一的嵌入提供者接口.
//
// 每个提供者声明固定的维度与稳定的身份标识（ID）。命名空间首次写入时
// 以 (ID, Dimensions) 锁定，之后的读写必须使用相同身份。
type Provider interface {
	// Embed 为给定输入生成嵌入，逐项对应且保持顺序；
	// 超过 MaxBatchSize 的输入在内部自动分批.
	Embed(ctx context.Context, req *Request) (*Response, error)

	// EmbedQuery 是嵌入单个查询的便捷方法.
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedDocuments 是嵌入多个文档的便捷方法.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// ID 返回稳定身份标识（name/model），用于命名空间锁定.
	ID() string

	// Dimensions 返回嵌入维度.
	Dimensions() int

	// MaxBatchSize 返回单次请求的最大批量大小.
	MaxBatchSize() int
}
