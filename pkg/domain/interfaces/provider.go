package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Embedder converts texts into vectors with a fixed, model-specific dimension
type Embedder interface {
	Embed(ctx context.Context, texts []string, task types.EmbeddingTask) ([][]float32, error)
	Model() string
}

// TokenCounter counts tokens with the LLM provider's tokenizer
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// LLMClient generates answers
type LLMClient interface {
	TokenCounter
	Generate(ctx context.Context, input model.GenerateInput) (*model.Generation, error)
}

// BlobStorage downloads raw uploaded files
type BlobStorage interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// QueryCache stores query results. Get returns nil without error on a miss.
type QueryCache interface {
	Get(ctx context.Context, key string) (*model.QueryResult, error)
	Set(ctx context.Context, key string, result *model.QueryResult) error
}
