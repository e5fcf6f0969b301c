package model

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// ChunkID is a UUID-based identifier for Chunk
type ChunkID string

// NewChunkID generates a new UUID v4 ChunkID
func NewChunkID() ChunkID {
	return ChunkID(uuid.New().String())
}

func (id ChunkID) String() string {
	return string(id)
}

// Chunk metadata keys
const (
	ChunkMetaIndex     = "chunk_index"
	ChunkMetaCharCount = "char_count"
	ChunkMetaWordCount = "word_count"
	ChunkMetaStrategy  = "strategy"
)

// Chunk is a bounded slice of a document's extracted text
type Chunk struct {
	ID         ChunkID
	DocumentID DocumentID
	UserID     string
	Content    string
	ChunkIndex int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Copy returns a deep copy of the chunk
func (c *Chunk) Copy() *Chunk {
	if c == nil {
		return nil
	}
	copied := *c
	copied.Metadata = maps.Clone(c.Metadata)
	return &copied
}

// EmbeddingID is a UUID-based identifier for Embedding
type EmbeddingID string

// NewEmbeddingID generates a new UUID v4 EmbeddingID
func NewEmbeddingID() EmbeddingID {
	return EmbeddingID(uuid.New().String())
}

// Embedding is the vector of one chunk for one model
type Embedding struct {
	ID        EmbeddingID
	ChunkID   ChunkID
	UserID    string
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// Copy returns a deep copy of the embedding
func (e *Embedding) Copy() *Embedding {
	if e == nil {
		return nil
	}
	copied := *e
	if e.Vector != nil {
		copied.Vector = make([]float32, len(e.Vector))
		copy(copied.Vector, e.Vector)
	}
	return &copied
}

// EmbeddedChunk pairs a chunk with its embedding. Embedding is nil when the
// provider failed for this chunk.
type EmbeddedChunk struct {
	Chunk     *Chunk
	Embedding *Embedding
	Cached    bool
}
