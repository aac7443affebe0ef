package embedding

import (
	"context"
	"encoding/json"
	"time"
)

// CompatProvider implements embedding against any OpenAI-compatible endpoint
// (Ollama, text-embeddings-inference, LM Studio, vLLM). The wire format is
// identical to OpenAI's /v1/embeddings; the dimension comes from config since
// self-hosted models do not advertise it.
type CompatProvider struct {
	*BaseProvider
	cfg CompatConfig
}

// NewCompatProvider creates a provider for an OpenAI-compatible endpoint.
func NewCompatProvider(cfg CompatConfig) *CompatProvider {
	if cfg.Name == "" {
		cfg.Name = "compat"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}

	return &CompatProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       cfg.Name,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   cfg.MaxBatch,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

// Embed generates embeddings for the given inputs.
func (p *CompatProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	body := openAIEmbedRequest{
		Input: req.Input,
		Model: ChooseModel(req.Model, p.cfg.Model, "nomic-embed-text"),
	}

	headers := map[string]string{}
	if p.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.cfg.APIKey
	}

	respBody, err := p.DoRequest(ctx, "POST", "/v1/embeddings", body, headers)
	if err != nil {
		return nil, err
	}

	var oaResp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, err
	}

	embeddings := make([]Data, len(oaResp.Data))
	for i, d := range oaResp.Data {
		embeddings[i] = Data{
			Index:     d.Index,
			Embedding: d.Embedding,
		}
	}

	resp := &Response{
		Provider:   p.Name(),
		Model:      oaResp.Model,
		Embeddings: embeddings,
		Usage: Usage{
			PromptTokens: oaResp.Usage.PromptTokens,
			TotalTokens:  oaResp.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}
	if resp.Model == "" {
		resp.Model = p.cfg.Model
	}
	if err := p.ValidateResponse(resp, len(req.Input)); err != nil {
		return nil, err
	}
	return resp, nil
}

// EmbedQuery embeds a single query.
func (p *CompatProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

// EmbedDocuments embeds multiple documents.
func (p *CompatProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
