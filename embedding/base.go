package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brooksjoey/MnemosyneOS/internal/tlsutil"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// BaseProvider 为嵌入提供者提供共同的 HTTP 管线.
type BaseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
}

// BaseConfig 持有基础提供者的共同配置.
type BaseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

// NewBaseProvider 创建基础提供者.
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 64
	}
	return &BaseProvider{
		name:       cfg.Name,
		client:     tlsutil.SecureHTTPClient(timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (p *BaseProvider) Name() string      { return p.name }
func (p *BaseProvider) ID() string        { return p.name + "/" + p.model }
func (p *BaseProvider) Dimensions() int   { return p.dimensions }
func (p *BaseProvider) MaxBatchSize() int { return p.maxBatch }

// EmbedQuery 嵌入单个查询字符串.
func (p *BaseProvider) EmbedQuery(ctx context.Context, query string, embedFn func(context.Context, *Request) (*Response, error)) ([]float64, error) {
	resp, err := embedFn(ctx, &Request{
		Input:     []string{query},
		InputType: InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 嵌入多个文档，按 MaxBatchSize 分批并保持顺序.
func (p *BaseProvider) EmbedDocuments(ctx context.Context, documents []string, embedFn func(context.Context, *Request) (*Response, error)) ([][]float64, error) {
	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.maxBatch {
		end := start + p.maxBatch
		if end > len(documents) {
			end = len(documents)
		}
		resp, err := embedFn(ctx, &Request{
			Input:     documents[start:end],
			InputType: InputTypeDocument,
		})
		if err != nil {
			return nil, err
		}
		for _, emb := range resp.Embeddings {
			result = append(result, emb.Embedding)
		}
	}
	if len(result) != len(documents) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(result), len(documents))
	}
	return result, nil
}

// ValidateResponse 校验响应的条目数与维度是否符合声明.
func (p *BaseProvider) ValidateResponse(resp *Response, wantCount int) error {
	if len(resp.Embeddings) != wantCount {
		return types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), wantCount)).
			WithProvider(p.name).
			WithHTTPStatus(http.StatusBadGateway)
	}
	for _, emb := range resp.Embeddings {
		if p.dimensions > 0 && len(emb.Embedding) != p.dimensions {
			return types.NewError(types.ErrProviderUnavailable,
				fmt.Sprintf("provider returned dimension %d, expected %d", len(emb.Embedding), p.dimensions)).
				WithProvider(p.name).
				WithHTTPStatus(http.StatusBadGateway)
		}
	}
	return nil
}

// DoRequest 执行 HTTP 请求并进行统一错误映射.
func (p *BaseProvider) DoRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(p.name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), p.name)
	}

	return respBody, nil
}

// mapHTTPError 映射 HTTP 状态到 types.Error.
func mapHTTPError(status int, msg, provider string) *types.Error {
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

// ChooseModel 从请求或默认值中选择模型.
func ChooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
