// Package embedding provides text embedding generation with multiple backend support.
package embedding

import (
	"context"
	"fmt"
)

// Embedder defines the interface for text embedding providers.
// Implementations include OpenAI (API) and Ollama (local).
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	// More efficient than multiple Embed calls for bulk operations.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the vector column dimension in the chunks table.
	Dimension() int
}

// ProviderType identifies the embedding provider.
type ProviderType string

const (
	// ProviderOpenAI uses the OpenAI embeddings API.
	ProviderOpenAI ProviderType = "openai"

	// ProviderOllama uses a local Ollama server for embeddings.
	ProviderOllama ProviderType = "ollama"
)

// Config holds configuration for creating an Embedder.
type Config struct {
	// Provider specifies which embedding backend to use.
	Provider ProviderType

	// Model is the embedding model name (provider-specific).
	// OpenAI: "text-embedding-3-small" (1536-dim)
	// Ollama: "all-minilm:l6-v2" (384-dim), "nomic-embed-text" (768-dim)
	Model string

	// Dimension is the required output dimension. Vectors of any other
	// length are rejected before they reach the database.
	Dimension int

	// OpenAI-specific
	OpenAIAPIKey string

	// Ollama-specific (uses OLLAMA_HOST env var if empty)
	OllamaHost string
}

// New creates an Embedder based on the provided configuration.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		// Default to OpenAI
		return newLangchainEmbedder(cfg)

	case ProviderOllama:
		return newLangchainEmbedder(cfg)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
