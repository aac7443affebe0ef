package embedding

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/llm/retry"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// retryingProvider 为任意 Provider 叠加指数退避重试.
// 重试耗尽后以 PROVIDER_UNAVAILABLE 收口，调用方不会看到中间态错误.
type retryingProvider struct {
	inner   Provider
	retryer retry.Retryer
	logger  *zap.Logger
}

// WithRetry wraps a provider with the engine retry policy. A nil policy uses
// retry.DefaultRetryPolicy with types.IsRetryable as the predicate.
func WithRetry(p Provider, policy *retry.RetryPolicy, logger *zap.Logger) Provider {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.RetryIf == nil {
		policy.RetryIf = types.IsRetryable
	}
	return &retryingProvider{
		inner:   p,
		retryer: retry.NewBackoffRetryer(policy, logger.With(zap.String("component", "embedding_retry"))),
		logger:  logger,
	}
}

func (r *retryingProvider) Name() string      { return r.inner.Name() }
func (r *retryingProvider) ID() string        { return r.inner.ID() }
func (r *retryingProvider) Dimensions() int   { return r.inner.Dimensions() }
func (r *retryingProvider) MaxBatchSize() int { return r.inner.MaxBatchSize() }

// Embed 执行带重试的嵌入调用.
func (r *retryingProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	resp, err := retry.DoWithResultTyped[*Response](r.retryer, ctx, func() (*Response, error) {
		return r.inner.Embed(ctx, req)
	})
	if err != nil {
		return nil, r.exhausted(err)
	}
	return resp, nil
}

// EmbedQuery embeds a single query with retries.
func (r *retryingProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := r.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments embeds documents in MaxBatchSize batches, each batch retried
// independently so one flaky batch does not restart the whole set.
func (r *retryingProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	batch := r.inner.MaxBatchSize()
	if batch <= 0 {
		batch = 64
	}
	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += batch {
		end := start + batch
		if end > len(documents) {
			end = len(documents)
		}
		resp, err := r.Embed(ctx, &Request{Input: documents[start:end], InputType: InputTypeDocument})
		if err != nil {
			return nil, err
		}
		for _, emb := range resp.Embeddings {
			result = append(result, emb.Embedding)
		}
	}
	return result, nil
}

// exhausted 将重试链的最终错误映射为对外错误.
// 不可重试的错误（如参数错误、鉴权失败）原样透传.
func (r *retryingProvider) exhausted(err error) error {
	if types.IsRetryable(err) {
		return types.NewError(types.ErrProviderUnavailable, "embedding provider exhausted retries").
			WithCause(err).
			WithProvider(r.inner.Name()).
			WithHTTPStatus(http.StatusBadGateway)
	}
	return err
}
