package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type chunkDoc struct {
	ID         string         `firestore:"ID"`
	DocumentID string         `firestore:"DocumentID"`
	UserID     string         `firestore:"UserID"`
	Content    string         `firestore:"Content"`
	ChunkIndex int            `firestore:"ChunkIndex"`
	Metadata   map[string]any `firestore:"Metadata"`
	CreatedAt  time.Time      `firestore:"CreatedAt"`
}

func toChunkDoc(c *model.Chunk) *chunkDoc {
	return &chunkDoc{
		ID:         string(c.ID),
		DocumentID: string(c.DocumentID),
		UserID:     c.UserID,
		Content:    c.Content,
		ChunkIndex: c.ChunkIndex,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
	}
}

func snapshotToChunk(snap *firestore.DocumentSnapshot) (*model.Chunk, error) {
	var d chunkDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return &model.Chunk{
		ID:         model.ChunkID(d.ID),
		DocumentID: model.DocumentID(d.DocumentID),
		UserID:     d.UserID,
		Content:    d.Content,
		ChunkIndex: d.ChunkIndex,
		Metadata:   d.Metadata,
		CreatedAt:  d.CreatedAt,
	}, nil
}

type chunkRepository struct {
	collections
}

// CreateBatch writes all chunks in one transaction so a failed batch leaves nothing
// behind.
func (r *chunkRepository) CreateBatch(ctx context.Context, userID string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docIDs := make(map[model.DocumentID]bool)
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = model.NewChunkID()
		}
		docIDs[c.DocumentID] = true
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for docID := range docIDs {
			if _, err := tx.Get(r.documents(userID).Doc(string(docID))); err != nil {
				if status.Code(err) == codes.NotFound {
					return goerr.Wrap(model.ErrDocumentNotFound, "chunk references unknown document", goerr.V("document_id", docID))
				}
				return goerr.Wrap(err, "failed to get parent document", goerr.V("document_id", docID))
			}
		}

		for _, c := range chunks {
			d := toChunkDoc(c)
			d.UserID = userID
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			if err := tx.Set(r.chunks(userID).Doc(d.ID), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to create chunks", goerr.V("count", len(chunks)))
	}
	return nil
}

func (r *chunkRepository) ListByDocument(ctx context.Context, userID string, documentID model.DocumentID) ([]*model.Chunk, error) {
	iter := r.chunks(userID).
		Where("DocumentID", "==", string(documentID)).
		OrderBy("ChunkIndex", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	chunks := make([]*model.Chunk, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate chunks", goerr.V("document_id", documentID))
		}

		c, err := snapshotToChunk(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// DeleteByDocument removes the document's chunks and every embedding of them
func (r *chunkRepository) DeleteByDocument(ctx context.Context, userID string, documentID model.DocumentID) error {
	bw := r.client.BulkWriter(ctx)

	for _, col := range []*firestore.CollectionRef{r.chunks(userID), r.embeddings(userID)} {
		refs, err := col.Where("DocumentID", "==", string(documentID)).Documents(ctx).GetAll()
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to list records to delete",
				goerr.V("collection", col.ID), goerr.V("document_id", documentID))
		}
		for _, snap := range refs {
			if _, err := bw.Delete(snap.Ref); err != nil {
				bw.End()
				return goerr.Wrap(err, "failed to enqueue delete", goerr.V("path", snap.Ref.Path))
			}
		}
	}

	bw.End()
	return nil
}
