// Config 桥接层：将全局 config.Config 转换为 embedding 包的运行时实例，
// 并按配置叠加重试与向量缓存装饰器。

package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/llm/retry"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// ProviderType 标识要创建的嵌入提供者。
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderCompat ProviderType = "compat"
	ProviderLocal  ProviderType = "local"
)

// NewProviderFromConfig 根据全局配置创建 embedding.Provider。
// 返回的提供者总是带重试装饰；vc 非 nil 时再叠加向量缓存。
func NewProviderFromConfig(cfg *config.Config, vc VectorCache, logger *zap.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var base Provider
	switch ProviderType(cfg.Embedding.Provider) {
	case ProviderOpenAI, "":
		base = NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxBatch:   cfg.Embedding.BatchSize,
			Timeout:    cfg.Embedding.Timeout,
		})

	case ProviderCompat:
		base = NewCompatProvider(CompatConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxBatch:   cfg.Embedding.BatchSize,
			Timeout:    cfg.Embedding.Timeout,
		})

	case ProviderLocal:
		base = NewLocalProvider(LocalConfig{
			Dimensions: cfg.Embedding.Dimensions,
			MaxBatch:   cfg.Embedding.BatchSize,
		})

	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s", cfg.Embedding.Provider)
	}

	policy := &retry.RetryPolicy{
		MaxRetries:   cfg.Embedding.Retry.MaxRetries,
		InitialDelay: cfg.Embedding.Retry.InitialDelay,
		MaxDelay:     cfg.Embedding.Retry.MaxDelay,
		Multiplier:   cfg.Embedding.Retry.Multiplier,
		Jitter:       cfg.Embedding.Retry.Jitter,
		RetryIf:      types.IsRetryable,
	}
	p := WithRetry(base, policy, logger)

	if vc != nil {
		p = WithCache(p, vc, cfg.Cache.DefaultTTL, logger)
	}

	return p, nil
}
