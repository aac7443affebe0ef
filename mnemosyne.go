// Package mnemosyne provides a top-level convenience entry point for creating
// an embedded memory engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/brooksjoey/MnemosyneOS"
//
//	mem, err := mnemosyne.New()                                      // in-memory, deterministic embeddings
//	mem, err := mnemosyne.New(mnemosyne.WithDataDir("./data"))       // persistent sqlite + chromem
//	mem, err := mnemosyne.New(mnemosyne.WithOpenAIEmbeddings("text-embedding-3-small"))
//	mem, err := mnemosyne.New(mnemosyne.WithConfig(cfg))             // full control
//
// The zero-option form needs no network, no API key, and no disk: embeddings
// come from the deterministic local provider, vectors live in process memory,
// and records live in an in-process sqlite database. That stack is meant for
// tests and prototypes; production deployments should configure a real
// embedding provider and persistent storage.
package mnemosyne

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/embedding"
	"github.com/brooksjoey/MnemosyneOS/llm"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/recordstore"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// openTimeout bounds storage backend initialization inside New.
const openTimeout = 30 * time.Second

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	cfg        *config.Config
	dataDir    string
	logger     *zap.Logger
	provider   embedding.Provider
	summarizer llm.Summarizer

	// Embedding shortcut fields, used when provider is nil.
	providerName string
	model        string
	apiKey       string
}

// WithConfig uses a full configuration instead of the embedded defaults.
// Other options still override the sections they cover.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithDataDir stores records and vectors under dir (sqlite + chromem),
// making the engine survive restarts. The directory is created on demand.
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmbeddingProvider sets a pre-built embedding provider.
func WithEmbeddingProvider(p embedding.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAIEmbeddings embeds through the OpenAI API using the given model.
// API key is read from the OPENAI_API_KEY environment variable.
func WithOpenAIEmbeddings(model string) Option {
	return func(o *options) {
		o.providerName = "openai"
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithAPIKey overrides the API key for embedding shortcuts ([WithOpenAIEmbeddings]).
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithSummarizer sets the summarizer used by reflection runs.
// Defaults to the offline extractive summarizer.
func WithSummarizer(s llm.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

// Engine is a [memory.Service] that also owns its storage backends.
// Close releases the service and the stores it was opened with.
type Engine struct {
	*memory.Service
	records recordstore.Store
	vectors vectorstore.Store
}

// Close stops the service and releases the underlying stores.
func (e *Engine) Close() error {
	err := e.Service.Close()
	if rerr := e.records.Close(); rerr != nil && err == nil {
		err = rerr
	}
	if closer, ok := e.vectors.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// New assembles an [Engine] with minimal configuration.
// Callers own the returned engine and must Close it when done.
func New(opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var cfg *config.Config
	if o.cfg != nil {
		// Copy so option overrides never mutate the caller's config.
		c := *o.cfg
		cfg = &c
	} else {
		cfg = config.DefaultConfig()
		// Embedded in-memory stack unless a data dir asks for persistence.
		cfg.VectorStore.Backend = "memory"
		cfg.Database.Driver = "sqlite"
		cfg.Database.Name = ":memory:"
		// A :memory: sqlite database exists per connection.
		cfg.Database.MaxOpenConns = 1
		cfg.Database.MaxIdleConns = 1
		cfg.Embedding.Provider = "local"
		cfg.LLM.Provider = "extractive"
	}

	if o.dataDir != "" {
		if err := os.MkdirAll(o.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		cfg.Database.Driver = "sqlite"
		cfg.Database.Name = filepath.Join(o.dataDir, "mnemo.db")
		cfg.Database.MaxOpenConns = config.DefaultDatabaseConfig().MaxOpenConns
		cfg.Database.MaxIdleConns = config.DefaultDatabaseConfig().MaxIdleConns
		cfg.VectorStore.Backend = "chromem"
		cfg.VectorStore.Chromem.Path = filepath.Join(o.dataDir, "vectors")
	}

	// Embedding shortcuts rewrite the config section before the factory runs.
	if o.provider == nil && o.providerName != "" {
		if o.apiKey == "" {
			return nil, fmt.Errorf("API key is required for %s embeddings: set the environment variable or use WithAPIKey", o.providerName)
		}
		cfg.Embedding.Provider = o.providerName
		cfg.Embedding.APIKey = o.apiKey
		if o.model != "" {
			cfg.Embedding.Model = o.model
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	records, err := recordstore.NewStoreFromConfig(ctx, cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	vectors, err := vectorstore.NewStoreFromConfig(ctx, cfg, o.logger)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}

	closeStores := func() {
		records.Close()
		if closer, ok := vectors.(io.Closer); ok {
			closer.Close()
		}
	}

	provider := o.provider
	if provider == nil {
		provider, err = embedding.NewProviderFromConfig(cfg, nil, o.logger)
		if err != nil {
			closeStores()
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
	}

	summarizer := o.summarizer
	if summarizer == nil {
		summarizer, err = llm.NewSummarizerFromConfig(cfg, o.logger)
		if err != nil {
			closeStores()
			return nil, fmt.Errorf("summarizer: %w", err)
		}
	}

	svc, err := memory.NewService(memory.Options{
		Config:     cfg,
		Provider:   provider,
		Vectors:    vectors,
		Records:    records,
		Summarizer: summarizer,
		Logger:     o.logger,
	})
	if err != nil {
		closeStores()
		return nil, err
	}
	return &Engine{Service: svc, records: records, vectors: vectors}, nil
}
