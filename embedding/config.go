package embedding

import "time"

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`           // text-embedding-3-small / -3-large
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"` // 1536 for -small, 3072 for -large
	MaxBatch   int           `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CompatConfig configures an OpenAI-compatible embedding endpoint.
type CompatConfig struct {
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	APIKey     string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int           `json:"dimensions" yaml:"dimensions"`
	MaxBatch   int           `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// LocalConfig configures the deterministic local hashing provider.
type LocalConfig struct {
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	MaxBatch   int `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
}

// DefaultOpenAIConfig returns default OpenAI embedding config.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		MaxBatch:   64,
		Timeout:    30 * time.Second,
	}
}

// DefaultCompatConfig returns defaults for an Ollama-style local endpoint.
func DefaultCompatConfig() CompatConfig {
	return CompatConfig{
		Name:       "compat",
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 768,
		MaxBatch:   64,
		Timeout:    30 * time.Second,
	}
}

// DefaultLocalConfig returns defaults for the hashing provider.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Dimensions: 256,
		MaxBatch:   1024,
	}
}
