package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// LocalProvider is a deterministic, dependency-free embedding provider based
// on feature hashing of token counts. It needs no network and produces stable
// unit-norm vectors, which makes it the development and test provider.
//
// The vectors carry enough lexical signal for overlap-style similarity; they
// are not a substitute for a learned model.
type LocalProvider struct {
	name       string
	model      string
	dimensions int
	maxBatch   int
}

// NewLocalProvider creates a local hashing provider with the given dimension.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = 256
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1024
	}
	return &LocalProvider{
		name:       "local",
		model:      "hash-v1",
		dimensions: dim,
		maxBatch:   maxBatch,
	}
}

func (p *LocalProvider) Name() string      { return p.name }
func (p *LocalProvider) ID() string        { return p.name + "/" + p.model }
func (p *LocalProvider) Dimensions() int   { return p.dimensions }
func (p *LocalProvider) MaxBatchSize() int { return p.maxBatch }

// Embed generates embeddings for the given inputs.
func (p *LocalProvider) Embed(_ context.Context, req *Request) (*Response, error) {
	embeddings := make([]Data, len(req.Input))
	for i, text := range req.Input {
		embeddings[i] = Data{
			Index:     i,
			Embedding: p.hashEmbed(text),
		}
	}
	return &Response{
		Provider:   p.name,
		Model:      p.model,
		Embeddings: embeddings,
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery embeds a single query.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments embeds multiple documents.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	result := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = emb.Embedding
	}
	return result, nil
}

// hashEmbed maps token counts into dimension buckets via FNV-1a, then
// L2-normalizes. The zero vector is returned for token-free input.
func (p *LocalProvider) hashEmbed(text string) []float64 {
	vec := make([]float64, p.dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimensions))
		// Sign bit from the hash keeps buckets from accumulating only
		// positive mass, which would squash cosine contrast.
		if (sum>>63)&1 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
