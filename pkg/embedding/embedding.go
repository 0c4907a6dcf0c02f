// Package embedding turns text into dense vectors for the vector tier.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when asked to embed an empty string.
var ErrEmptyText = errors.New("embedding: empty text")

// Embedder produces a fixed-size vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
	Health(ctx context.Context) bool
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	BaseURL    string
	Model      string
	Dimensions int
}

// New builds the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllama(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Dimensions: cfg.Dimensions}), nil
	case ProviderHash:
		return NewHash(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
}
