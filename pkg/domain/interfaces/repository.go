package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Repository defines the interface for data persistence. Every method is scoped by
// the owning user id and must never return another user's records.
type Repository interface {
	Document() DocumentRepository
	Chunk() ChunkRepository
	Embedding() EmbeddingRepository
	Close() error
}

// DocumentRepository persists Document records
type DocumentRepository interface {
	// Create stores a new document. ID is generated when empty.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// Get returns model.ErrDocumentNotFound when the document does not exist for the user
	Get(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error)

	// Update overwrites the document record
	Update(ctx context.Context, doc *model.Document) error

	// UpdateStatus sets status and error message without touching other fields
	UpdateStatus(ctx context.Context, userID string, id model.DocumentID, status types.DocumentStatus, errorMessage string) error

	// FindBySource returns the document synced from an external item, or nil
	FindBySource(ctx context.Context, userID string, sourceType types.SourceType, sourceID string) (*model.Document, error)

	// List returns the user's documents, newest first
	List(ctx context.Context, userID string) ([]*model.Document, error)
}

// ChunkRepository persists Chunk records
type ChunkRepository interface {
	// CreateBatch stores chunks in one write
	CreateBatch(ctx context.Context, userID string, chunks []*model.Chunk) error

	// ListByDocument returns chunks ordered by ChunkIndex
	ListByDocument(ctx context.Context, userID string, documentID model.DocumentID) ([]*model.Chunk, error)

	// DeleteByDocument removes chunks and their embeddings
	DeleteByDocument(ctx context.Context, userID string, documentID model.DocumentID) error
}

// EmbeddingRepository persists Embedding records and runs similarity search
type EmbeddingRepository interface {
	// Save stores embeddings
	Save(ctx context.Context, userID string, embeddings []*model.Embedding) error

	// GetByChunkIDs returns stored embeddings of the given chunks for the model,
	// keyed by chunk id. Missing chunks are absent from the map.
	GetByChunkIDs(ctx context.Context, userID string, chunkIDs []model.ChunkID, embeddingModel string) (map[model.ChunkID]*model.Embedding, error)

	// SearchSimilar returns chunks whose similarity to the query vector is at least
	// the threshold, most similar first
	SearchSimilar(ctx context.Context, query model.SimilarityQuery) ([]*model.SimilarityMatch, error)
}
