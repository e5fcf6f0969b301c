package memory

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

type embeddingRepository struct {
	*store
}

func (r *embeddingRepository) Save(ctx context.Context, userID string, embeddings []*model.Embedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range embeddings {
		c, ok := r.chunks[e.ChunkID]
		if !ok || c.UserID != userID {
			return goerr.New("embedding references unknown chunk", goerr.V("chunk_id", e.ChunkID))
		}
	}

	now := time.Now().UTC()
	for _, e := range embeddings {
		saved := e.Copy()
		if saved.ID == "" {
			saved.ID = model.NewEmbeddingID()
		}
		saved.UserID = userID
		if saved.CreatedAt.IsZero() {
			saved.CreatedAt = now
		}
		r.embeddings[embeddingKey{chunkID: saved.ChunkID, model: saved.Model}] = saved
	}
	return nil
}

func (r *embeddingRepository) GetByChunkIDs(ctx context.Context, userID string, chunkIDs []model.ChunkID, embeddingModel string) (map[model.ChunkID]*model.Embedding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[model.ChunkID]*model.Embedding, len(chunkIDs))
	for _, id := range chunkIDs {
		e, ok := r.embeddings[embeddingKey{chunkID: id, model: embeddingModel}]
		if ok && e.UserID == userID {
			result[id] = e.Copy()
		}
	}
	return result, nil
}

func (r *embeddingRepository) SearchSimilar(ctx context.Context, query model.SimilarityQuery) ([]*model.SimilarityMatch, error) {
	if len(query.Vector) == 0 {
		return nil, goerr.New("query vector is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*model.SimilarityMatch
	for key, e := range r.embeddings {
		if e.UserID != query.UserID || (query.Model != "" && key.model != query.Model) {
			continue
		}
		c, ok := r.chunks[e.ChunkID]
		if !ok {
			continue
		}
		doc, ok := r.documents[c.DocumentID]
		if !ok || doc.UserID != query.UserID {
			continue
		}
		if query.SourceType != "" && doc.SourceType != query.SourceType {
			continue
		}

		sim := cosineSimilarity(query.Vector, e.Vector)
		if sim < query.Threshold {
			continue
		}
		matches = append(matches, &model.SimilarityMatch{
			Chunk:              c.Copy(),
			Similarity:         sim,
			DocumentUserID:     doc.UserID,
			DocumentTitle:      doc.Title,
			DocumentFileType:   doc.FileType,
			DocumentSourceType: doc.SourceType,
			DocumentCreatedAt:  doc.CreatedAt,
			DocumentUpdatedAt:  doc.UpdatedAt,
		})
	}

	slices.SortStableFunc(matches, func(a, b *model.SimilarityMatch) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return a.Chunk.ChunkIndex - b.Chunk.ChunkIndex
	})
	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}
	return matches, nil
}

// cosineSimilarity returns 0 for mismatched or zero-length vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
