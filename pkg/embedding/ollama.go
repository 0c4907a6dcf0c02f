package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Ollama calls the Ollama embeddings API.
type Ollama struct {
	client *resty.Client
	model  string
	dims   int
}

var _ Embedder = (*Ollama)(nil)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllama creates an Ollama embedder. Zero fields fall back to a local
// server, nomic-embed-text and 768 dimensions.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Ollama{client: c, model: cfg.Model, dims: cfg.Dimensions}
}

// Embed generates a vector for text. A response whose length differs from
// the configured dimensions is an error.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	var out embedResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&embedRequest{Model: o.model, Prompt: text}).
		SetResult(&out).
		Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding: ollama status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Embedding) != o.dims {
		return nil, fmt.Errorf("embedding: ollama returned %d dimensions, want %d", len(out.Embedding), o.dims)
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// Dimensions returns the expected vector length.
func (o *Ollama) Dimensions() int { return o.dims }

// Health reports whether the Ollama server answers its tag listing.
func (o *Ollama) Health(ctx context.Context) bool {
	resp, err := o.client.R().SetContext(ctx).Get("/api/tags")
	return err == nil && resp.StatusCode() == http.StatusOK
}
