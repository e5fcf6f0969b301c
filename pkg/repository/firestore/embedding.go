package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"google.golang.org/api/iterator"
)

// distanceField receives the cosine distance of each FindNearest result
const distanceField = "VectorDistance"

// embeddingDoc is stored as firestore.Vector32 so that FindNearest vector search
// works. DocumentID is denormalized for cascading deletes.
type embeddingDoc struct {
	ID         string             `firestore:"ID"`
	ChunkID    string             `firestore:"ChunkID"`
	DocumentID string             `firestore:"DocumentID"`
	UserID     string             `firestore:"UserID"`
	Model      string             `firestore:"Model"`
	Embedding  firestore.Vector32 `firestore:"Embedding"`
	CreatedAt  time.Time          `firestore:"CreatedAt"`
}

func (d *embeddingDoc) toModel() *model.Embedding {
	return &model.Embedding{
		ID:        model.EmbeddingID(d.ID),
		ChunkID:   model.ChunkID(d.ChunkID),
		UserID:    d.UserID,
		Vector:    []float32(d.Embedding),
		Model:     d.Model,
		CreatedAt: d.CreatedAt,
	}
}

// embeddingDocID keys an embedding by chunk and model so a save overwrites
func embeddingDocID(chunkID model.ChunkID, embeddingModel string) string {
	return string(chunkID) + "_" + strings.ReplaceAll(embeddingModel, "/", "_")
}

type embeddingRepository struct {
	collections
}

func (r *embeddingRepository) Save(ctx context.Context, userID string, embeddings []*model.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	chunkRefs := make([]*firestore.DocumentRef, len(embeddings))
	for i, e := range embeddings {
		chunkRefs[i] = r.chunks(userID).Doc(string(e.ChunkID))
	}
	snaps, err := r.client.GetAll(ctx, chunkRefs)
	if err != nil {
		return goerr.Wrap(err, "failed to get chunks of embeddings")
	}

	now := time.Now().UTC()
	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for i, e := range embeddings {
			if !snaps[i].Exists() {
				return goerr.New("embedding references unknown chunk", goerr.V("chunk_id", e.ChunkID))
			}
			var chunk chunkDoc
			if err := snaps[i].DataTo(&chunk); err != nil {
				return err
			}

			d := &embeddingDoc{
				ID:         string(e.ID),
				ChunkID:    string(e.ChunkID),
				DocumentID: chunk.DocumentID,
				UserID:     userID,
				Model:      e.Model,
				Embedding:  firestore.Vector32(e.Vector),
				CreatedAt:  e.CreatedAt,
			}
			if d.ID == "" {
				d.ID = string(model.NewEmbeddingID())
			}
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			if err := tx.Set(r.embeddings(userID).Doc(embeddingDocID(e.ChunkID, e.Model)), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to save embeddings", goerr.V("count", len(embeddings)))
	}
	return nil
}

func (r *embeddingRepository) GetByChunkIDs(ctx context.Context, userID string, chunkIDs []model.ChunkID, embeddingModel string) (map[model.ChunkID]*model.Embedding, error) {
	result := make(map[model.ChunkID]*model.Embedding, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return result, nil
	}

	refs := make([]*firestore.DocumentRef, len(chunkIDs))
	for i, id := range chunkIDs {
		refs[i] = r.embeddings(userID).Doc(embeddingDocID(id, embeddingModel))
	}
	snaps, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get embeddings", goerr.V("count", len(chunkIDs)))
	}

	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var d embeddingDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal embedding", goerr.V("path", snap.Ref.Path))
		}
		result[model.ChunkID(d.ChunkID)] = d.toModel()
	}
	return result, nil
}

// SearchSimilar runs FindNearest with cosine distance. The similarity threshold is
// converted to a distance threshold of 1 - similarity.
func (r *embeddingRepository) SearchSimilar(ctx context.Context, query model.SimilarityQuery) ([]*model.SimilarityMatch, error) {
	if len(query.Vector) == 0 {
		return nil, goerr.New("query vector is empty")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}

	base := r.embeddings(query.UserID).Query
	if query.Model != "" {
		base = base.Where("Model", "==", query.Model)
	}
	maxDistance := 1 - query.Threshold
	vq := base.FindNearest("Embedding", firestore.Vector32(query.Vector), limit, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceThreshold:   &maxDistance,
			DistanceResultField: distanceField,
		})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var hits []vectorHit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results")
		}

		var d embeddingDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal embedding from vector search")
		}
		distance, _ := snap.Data()[distanceField].(float64)
		hits = append(hits, vectorHit{chunkID: d.ChunkID, documentID: d.DocumentID, similarity: 1 - distance})
	}
	if len(hits) == 0 {
		return nil, nil
	}

	chunks, docs, err := r.loadParents(ctx, query.UserID, hits)
	if err != nil {
		return nil, err
	}

	matches := make([]*model.SimilarityMatch, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.chunkID]
		if !ok {
			continue
		}
		doc, ok := docs[c.DocumentID]
		if !ok {
			continue
		}
		if query.SourceType != "" && doc.SourceType != query.SourceType {
			continue
		}
		matches = append(matches, &model.SimilarityMatch{
			Chunk:              c,
			Similarity:         h.similarity,
			DocumentUserID:     doc.UserID,
			DocumentTitle:      doc.Title,
			DocumentFileType:   doc.FileType,
			DocumentSourceType: doc.SourceType,
			DocumentCreatedAt:  doc.CreatedAt,
			DocumentUpdatedAt:  doc.UpdatedAt,
		})
	}
	return matches, nil
}

type vectorHit struct {
	chunkID    string
	documentID string
	similarity float64
}

// loadParents fetches the chunks and documents referenced by hits
func (r *embeddingRepository) loadParents(ctx context.Context, userID string, hits []vectorHit) (map[string]*model.Chunk, map[model.DocumentID]*model.Document, error) {
	chunkRefs := make([]*firestore.DocumentRef, 0, len(hits))
	docRefs := make([]*firestore.DocumentRef, 0, len(hits))
	seenDocs := make(map[string]bool)
	for _, h := range hits {
		chunkRefs = append(chunkRefs, r.chunks(userID).Doc(h.chunkID))
		if !seenDocs[h.documentID] {
			seenDocs[h.documentID] = true
			docRefs = append(docRefs, r.documents(userID).Doc(h.documentID))
		}
	}

	chunkSnaps, err := r.client.GetAll(ctx, chunkRefs)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to get matched chunks")
	}
	docSnaps, err := r.client.GetAll(ctx, docRefs)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to get matched documents")
	}

	chunks := make(map[string]*model.Chunk, len(chunkSnaps))
	for _, snap := range chunkSnaps {
		if !snap.Exists() {
			continue
		}
		c, err := snapshotToChunk(snap)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to unmarshal chunk", goerr.V("path", snap.Ref.Path))
		}
		chunks[string(c.ID)] = c
	}

	docs := make(map[model.DocumentID]*model.Document, len(docSnaps))
	for _, snap := range docSnaps {
		if !snap.Exists() {
			continue
		}
		d, err := snapshotToDocument(snap)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to unmarshal document", goerr.V("path", snap.Ref.Path))
		}
		docs[d.ID] = d
	}
	return chunks, docs, nil
}
