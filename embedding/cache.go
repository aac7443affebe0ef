package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/internal/cache"
)

// VectorCache 是嵌入缓存所需的最小接口，由 internal/cache.Manager 满足.
type VectorCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// cachedProvider 在 Provider 之上叠加向量缓存.
// 同一 provider_id 下相同文本的嵌入结果永远相同，直接复用.
type cachedProvider struct {
	inner  Provider
	cache  VectorCache
	ttl    time.Duration
	logger *zap.Logger
}

// WithCache wraps a provider with a vector cache. Cache failures degrade to
// direct provider calls; they never fail an embed.
func WithCache(p Provider, c VectorCache, ttl time.Duration, logger *zap.Logger) Provider {
	return &cachedProvider{
		inner:  p,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

func (c *cachedProvider) Name() string      { return c.inner.Name() }
func (c *cachedProvider) ID() string        { return c.inner.ID() }
func (c *cachedProvider) Dimensions() int   { return c.inner.Dimensions() }
func (c *cachedProvider) MaxBatchSize() int { return c.inner.MaxBatchSize() }

// Embed 先查缓存，仅对未命中的输入调用底层提供者，再按原顺序组装.
func (c *cachedProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	out := make([]Data, len(req.Input))
	missIdx := make([]int, 0, len(req.Input))
	missInput := make([]string, 0, len(req.Input))

	for i, text := range req.Input {
		var vec []float64
		err := c.cache.GetJSON(ctx, c.key(text), &vec)
		if err == nil && len(vec) > 0 {
			out[i] = Data{Index: i, Embedding: vec}
			continue
		}
		if err != nil && !cache.IsCacheMiss(err) {
			c.logger.Warn("cache read failed, falling back to provider", zap.Error(err))
		}
		missIdx = append(missIdx, i)
		missInput = append(missInput, text)
	}

	resp := &Response{
		Provider:   c.inner.Name(),
		Model:      strings.TrimPrefix(c.ID(), c.inner.Name()+"/"),
		Embeddings: out,
		CreatedAt:  time.Now(),
	}

	if len(missInput) == 0 {
		return resp, nil
	}

	innerResp, err := c.inner.Embed(ctx, &Request{
		Input:     missInput,
		Model:     req.Model,
		InputType: req.InputType,
	})
	if err != nil {
		return nil, err
	}
	if len(innerResp.Embeddings) != len(missInput) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d cache misses",
			len(innerResp.Embeddings), len(missInput))
	}

	resp.Model = innerResp.Model
	resp.Usage = innerResp.Usage
	for j, emb := range innerResp.Embeddings {
		i := missIdx[j]
		out[i] = Data{Index: i, Embedding: emb.Embedding}
		if err := c.cache.SetJSON(ctx, c.key(missInput[j]), emb.Embedding, c.ttl); err != nil {
			c.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	return resp, nil
}

// EmbedQuery embeds a single query through the cache.
func (c *cachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := c.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments embeds documents through the cache.
func (c *cachedProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := c.Embed(ctx, &Request{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	result := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = emb.Embedding
	}
	return result, nil
}

// key derives the cache key from the provider identity and raw text.
// Raw text, not the dedup normalization: the provider embeds bytes as given.
func (c *cachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.ID() + ":" + hex.EncodeToString(sum[:])
}
