package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/internal/tlsutil"
	"github.com/brooksjoey/MnemosyneOS/llm/retry"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// OpenAISummarizerConfig OpenAI 兼容摘要器配置.
type OpenAISummarizerConfig struct {
	APIKey      string
	BaseURL     string // 默认 https://api.openai.com
	Model       string // 默认 gpt-4o-mini
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Retry       *retry.RetryPolicy
}

// OpenAISummarizer 通过 Chat Completions 接口生成反思摘要。
// 凡是暴露 /v1/chat/completions 的端点均可用（OpenAI、DeepSeek、Ollama）.
type OpenAISummarizer struct {
	cfg     OpenAISummarizerConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewOpenAISummarizer 创建 OpenAI 兼容摘要器.
func NewOpenAISummarizer(cfg OpenAISummarizerConfig, logger *zap.Logger) *OpenAISummarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := cfg.Retry
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
		policy.RetryIf = types.IsRetryable
	}

	return &OpenAISummarizer{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "summarizer"), zap.String("model", cfg.Model)),
	}
}

// Name 实现 Summarizer.
func (s *OpenAISummarizer) Name() string {
	return "openai/" + s.cfg.Model
}

// ====== Chat Completions 报文 ======

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Summarize 实现 Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, req *SummarizeRequest) (string, error) {
	if req == nil || len(req.Sources) == 0 {
		return "", fmt.Errorf("no sources to summarize")
	}

	body := &chatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: reflectionSystemPrompt(req.MaxBlocks)},
			{Role: "user", Content: formatSources(req.Sources)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	result, err := retry.DoWithResultTyped[string](s.retryer, ctx, func() (string, error) {
		return s.complete(ctx, body)
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("summarization completed",
		zap.String("namespace", req.Namespace),
		zap.Int("sources", len(req.Sources)),
		zap.Int("output_chars", len(result)))
	return result, nil
}

func (s *OpenAISummarizer) complete(ctx context.Context, body *chatCompletionRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(s.Name())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", mapChatHTTPError(resp.StatusCode, string(respBody), s.Name())
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", types.NewError(types.ErrProviderUnavailable, parsed.Error.Message).
			WithProvider(s.Name()).
			WithHTTPStatus(http.StatusBadGateway)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.ErrProviderUnavailable, "no choices in chat response").
			WithProvider(s.Name()).
			WithHTTPStatus(http.StatusBadGateway)
	}

	return parsed.Choices[0].Message.Content, nil
}

// mapChatHTTPError 将 HTTP 状态映射为 types.Error.
func mapChatHTTPError(status int, msg, provider string) *types.Error {
	code := types.ErrProviderUnavailable
	retryable := status >= 500

	switch status {
	case http.StatusUnauthorized:
		code = types.ErrAuthentication
	case http.StatusForbidden:
		code = types.ErrUnauthorized
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = types.ErrTimeout
		retryable = true
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}

// reflectionSystemPrompt 组装反思生成的系统提示词.
func reflectionSystemPrompt(maxBlocks int) string {
	if maxBlocks <= 0 || maxBlocks > 3 {
		maxBlocks = 3
	}
	return fmt.Sprintf(`You are the reflection system of a persistent memory service, tasked with generating valuable insights from memory patterns. Analyze the provided memories and generate 1-%d thoughtful reflections.

For each reflection, provide:
1. A clear, insightful observation that connects multiple memories or identifies patterns
2. Supporting evidence from the specific memories
3. Implications or lessons learned
4. Relevant tags (2-5 tags that categorize this reflection)

Format each reflection exactly as follows, separating reflections with a line containing only "---":

REFLECTION:
[Your reflection text here - be thoughtful, insightful, and connect ideas across memories]

EVIDENCE:
[Cite specific evidence from the memories that supports this reflection]

IMPLICATIONS:
[Describe the implications or lessons learned from this reflection]

TAGS:
[List 2-5 relevant tags, separated by commas]`, maxBlocks)
}

// formatSources 将源记忆编排为用户消息.
func formatSources(sources []SummarizeSource) string {
	var b strings.Builder
	b.WriteString("Memories to analyze:\n\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "%d. [%s] (%s) %s\n", i+1, src.CreatedAt, src.Layer, src.Text)
	}
	return b.String()
}
