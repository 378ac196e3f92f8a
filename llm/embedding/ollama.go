package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// DefaultOllamaConfig returns defaults for a local Ollama with nomic-embed-text.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 768,
		Timeout:    30 * time.Second,
	}
}

// OllamaProvider embeds through /api/embeddings, one prompt per request.
// MaxBatchSize is 1 so BatchingProvider fans batches out in parallel.
type OllamaProvider struct {
	*BaseProvider
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	def := DefaultOllamaConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	return &OllamaProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "ollama-embedding",
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   1,
			Timeout:    cfg.Timeout,
		}),
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed embeds a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	respBody, err := p.DoRequest(ctx, http.MethodPost, "/api/embeddings",
		ollamaEmbedRequest{Model: p.model, Prompt: text}, nil)
	if err != nil {
		return nil, err
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	vecs := [][]float64{resp.Embedding}
	if err := checkVectors(p.Name(), vecs, 1, p.Dimensions()); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds texts sequentially.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
