package model

import (
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Defaults for vector search
const (
	DefaultSimilarityThreshold = 0.7
	DefaultSearchLimit         = 10
)

// SimilarityQuery is the input of the storage engine's similarity search
type SimilarityQuery struct {
	UserID     string
	Vector     []float32
	Threshold  float64
	Limit      int
	Model      string
	SourceType types.SourceType // empty means any
}

// SimilarityMatch is one row returned by the storage engine's similarity search,
// with parent document fields denormalized onto it.
type SimilarityMatch struct {
	Chunk              *Chunk
	Similarity         float64
	DocumentUserID     string
	DocumentTitle      string
	DocumentFileType   types.FileType
	DocumentSourceType types.SourceType
	DocumentCreatedAt  time.Time
	DocumentUpdatedAt  time.Time
}

// SearchOptions narrows a vector search
type SearchOptions struct {
	UserID             string
	Threshold          float64
	Limit              int
	SourceType         types.SourceType
	DocumentType       string // file type or source type
	Metadata           map[string]string
	ExcludeDocumentIDs []DocumentID
}

// SearchResult is a chunk matched by vector search
type SearchResult struct {
	Chunk             *Chunk
	Similarity        float64
	DocumentTitle     string
	DocumentType      string
	SourceType        types.SourceType
	DocumentUpdatedAt time.Time
}

// Recency returns the timestamp used for recency prioritization
func (r *SearchResult) Recency() time.Time {
	if r.Chunk != nil && !r.Chunk.CreatedAt.IsZero() {
		return r.Chunk.CreatedAt
	}
	return r.DocumentUpdatedAt
}
