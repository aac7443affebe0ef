// =============================================================================
// 📦 MnemosyneOS 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		VectorStore: DefaultVectorStoreConfig(),
		Database:    DefaultDatabaseConfig(),
		Mongo:       DefaultMongoConfig(),
		Cache:       DefaultCacheConfig(),
		Memory:      DefaultMemoryConfig(),
		Reflection:  DefaultReflectionConfig(),
		LLM:         DefaultLLMConfig(),
		Auth:        DefaultAuthConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8208,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitPerMin: 100,
		RateLimitBurst:  20,
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		BatchSize:  64,
		Timeout:    30 * time.Second,
		Retry: RetryConfig{
			MaxRetries:   4,
			InitialDelay: 1 * time.Second,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// DefaultVectorStoreConfig 返回默认向量存储配置
func DefaultVectorStoreConfig() VectorStoreConfig {
	return VectorStoreConfig{
		Backend: "chromem",
		Chromem: ChromemConfig{
			Path:     "./data/vectors",
			Compress: true,
		},
		Qdrant: QdrantConfig{
			Host:             "localhost",
			Port:             6333,
			UseTLS:           false,
			CollectionPrefix: "mnemo_",
		},
		PGVector: PGVectorConfig{
			DSN:      "",
			MaxConns: 8,
		},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "mnemosyne",
		Password:        "",
		Name:            "./data/mnemo.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      "mongodb://localhost:27017",
		Database: "mnemosyne",
	}
}

// DefaultCacheConfig 返回默认向量缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DefaultTTL:   24 * time.Hour,
	}
}

// DefaultMemoryConfig 返回默认记忆引擎配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ChunkSize:        512,
		ChunkOverlap:     102,
		MinChunkTokens:   50,
		EmbedConcurrency: 4,
		DefaultK:         5,
		MaxK:             100,
		OverfetchFactor:  4,
		ScoreEpsilon:     1e-6,
		Workers:          8,
		QueueSize:        64,
	}
}

// DefaultReflectionConfig 返回默认反思配置
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{
		Enabled:          true,
		Interval:         6 * time.Hour,
		Window:           168 * time.Hour,
		SourceLayers:     []string{"episodic", "semantic"},
		MaxSourceRecords: 10,
		MinSourceRecords: 3,
	}
}

// DefaultLLMConfig 返回默认摘要模型配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "extractive",
		APIKey:      "",
		BaseURL:     "",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		MaxTokens:   1024,
		Temperature: 0.3,
	}
}

// DefaultAuthConfig 返回默认鉴权配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:     "none",
		Audience: "mnemosyne",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "mnemosyne",
		SampleRate:   0.1,
	}
}
