package memory

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

type chunkRepository struct {
	*store
}

func (r *chunkRepository) CreateBatch(ctx context.Context, userID string, chunks []*model.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// validate the whole batch before writing so a failure leaves nothing behind
	for _, c := range chunks {
		doc, ok := r.documents[c.DocumentID]
		if !ok || doc.UserID != userID {
			return goerr.Wrap(model.ErrDocumentNotFound, "chunk references unknown document",
				goerr.V("document_id", c.DocumentID), goerr.V("chunk_index", c.ChunkIndex))
		}
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		created := c.Copy()
		if created.ID == "" {
			created.ID = model.NewChunkID()
			c.ID = created.ID
		}
		created.UserID = userID
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		r.chunks[created.ID] = created
	}
	return nil
}

func (r *chunkRepository) ListByDocument(ctx context.Context, userID string, documentID model.DocumentID) ([]*model.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunks := make([]*model.Chunk, 0)
	for _, c := range r.chunks {
		if c.DocumentID == documentID && c.UserID == userID {
			chunks = append(chunks, c.Copy())
		}
	}
	slices.SortFunc(chunks, func(a, b *model.Chunk) int {
		return a.ChunkIndex - b.ChunkIndex
	})
	return chunks, nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, userID string, documentID model.DocumentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := make(map[model.ChunkID]bool)
	for id, c := range r.chunks {
		if c.DocumentID == documentID && c.UserID == userID {
			delete(r.chunks, id)
			deleted[id] = true
		}
	}
	for key := range r.embeddings {
		if deleted[key.chunkID] {
			delete(r.embeddings, key)
		}
	}
	return nil
}
