package service

import (
	"context"

	"github.com/veldt-labs/quarry/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings. The
// production implementation is the OpenAI-backed client; tests use a
// deterministic fake.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	EstimateTokens(text string) int
	ModelInfo() domain.EmbeddingModelInfo
}
