// Package embed turns a language instruction into a fixed-length vector.
package embed

import (
	"context"
	"fmt"
)

// Embedder computes instruction embeddings.
type Embedder interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding length.
	Dimensions() int
}

// Config selects and configures an embedder.
type Config struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`
	Model      string `mapstructure:"model" yaml:"model"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// New builds the embedder described by cfg.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg)
	case ProviderHash:
		return NewHash(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
