package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
)

// SummarizeSource 一条参与反思的源记忆.
type SummarizeSource struct {
	ID        string `json:"id"`
	Layer     string `json:"layer"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// SummarizeRequest 反思摘要请求.
// Sources 按时间升序排列，最早的在前.
type SummarizeRequest struct {
	Namespace string            `json:"namespace"`
	Sources   []SummarizeSource `json:"sources"`
	MaxBlocks int               `json:"max_blocks"`
}

// Summarizer 将一批源记忆浓缩为反思文本。
// 返回值是原始文本：1 到 MaxBlocks 个反思块，块之间以 "---" 分隔，
// 每块包含 REFLECTION: / EVIDENCE: / IMPLICATIONS: / TAGS: 小节。
// 解析与落库由调用方负责.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummarizeRequest) (string, error)

	// Name 返回摘要器名称，用于日志与运行信息.
	Name() string
}

// NewSummarizerFromConfig 按配置选择摘要器。
// provider 为 openai 时使用 Chat Completions 接口（兼容 DeepSeek、Ollama
// 等 OpenAI 风格端点）；为 extractive 或空时使用本地抽取式摘要器.
func NewSummarizerFromConfig(cfg *config.Config, logger *zap.Logger) (Summarizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.LLM.Provider {
	case "openai":
		return NewOpenAISummarizer(OpenAISummarizerConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger), nil
	case "extractive", "":
		return NewExtractiveSummarizer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
