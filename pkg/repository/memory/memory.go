package memory

import (
	"sync"

	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

type embeddingKey struct {
	chunkID model.ChunkID
	model   string
}

// store holds every record behind one lock so that cascading deletes and joins in
// similarity search see a consistent state.
type store struct {
	mu         sync.RWMutex
	documents  map[model.DocumentID]*model.Document
	chunks     map[model.ChunkID]*model.Chunk
	embeddings map[embeddingKey]*model.Embedding
}

// Memory is an in-process repository for development and tests
type Memory struct {
	document  *documentRepository
	chunk     *chunkRepository
	embedding *embeddingRepository
}

var _ interfaces.Repository = &Memory{}

// New creates an empty in-memory repository
func New() *Memory {
	s := &store{
		documents:  make(map[model.DocumentID]*model.Document),
		chunks:     make(map[model.ChunkID]*model.Chunk),
		embeddings: make(map[embeddingKey]*model.Embedding),
	}
	return &Memory{
		document:  &documentRepository{store: s},
		chunk:     &chunkRepository{store: s},
		embedding: &embeddingRepository{store: s},
	}
}

func (m *Memory) Document() interfaces.DocumentRepository {
	return m.document
}

func (m *Memory) Chunk() interfaces.ChunkRepository {
	return m.chunk
}

func (m *Memory) Embedding() interfaces.EmbeddingRepository {
	return m.embedding
}

func (m *Memory) Close() error {
	return nil
}
