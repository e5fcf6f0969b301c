package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

type chunkRepository struct {
	db *sqlx.DB
}

type chunkRow struct {
	ID         string    `db:"id"`
	DocumentID string    `db:"document_id"`
	UserID     string    `db:"user_id"`
	Content    string    `db:"content"`
	ChunkIndex int       `db:"chunk_index"`
	Metadata   []byte    `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *chunkRow) toModel() (*model.Chunk, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("id", r.ID))
	}
	return &model.Chunk{
		ID:         model.ChunkID(r.ID),
		DocumentID: model.DocumentID(r.DocumentID),
		UserID:     r.UserID,
		Content:    r.Content,
		ChunkIndex: r.ChunkIndex,
		Metadata:   meta,
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

func (r *chunkRepository) CreateBatch(ctx context.Context, userID string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// parent documents must belong to the user before any chunk is written
	docIDs := make(map[model.DocumentID]struct{})
	for _, c := range chunks {
		docIDs[c.DocumentID] = struct{}{}
	}
	for id := range docIDs {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1 AND user_id = $2)`, id.String(), userID); err != nil {
			return goerr.Wrap(err, "failed to check document", goerr.V("document_id", id))
		}
		if !exists {
			return goerr.Wrap(model.ErrDocumentNotFound, "chunk references unknown document", goerr.V("document_id", id))
		}
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO chunks (id, document_id, user_id, content, chunk_index, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare chunk insert")
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = model.NewChunkID()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to encode chunk", goerr.V("chunk_index", c.ChunkIndex))
		}
		if _, err := stmt.ExecContext(ctx, c.ID.String(), c.DocumentID.String(), userID, c.Content, c.ChunkIndex, meta, createdAt); err != nil {
			return goerr.Wrap(err, "failed to insert chunk",
				goerr.V("document_id", c.DocumentID), goerr.V("chunk_index", c.ChunkIndex))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit chunks", goerr.V("count", len(chunks)))
	}
	return nil
}

func (r *chunkRepository) ListByDocument(ctx context.Context, userID string, documentID model.DocumentID) ([]*model.Chunk, error) {
	var rows []chunkRow
	query := `SELECT id, document_id, user_id, content, chunk_index, metadata, created_at
		FROM chunks WHERE document_id = $1 AND user_id = $2 ORDER BY chunk_index`
	if err := r.db.SelectContext(ctx, &rows, query, documentID.String(), userID); err != nil {
		return nil, goerr.Wrap(err, "failed to list chunks", goerr.V("document_id", documentID))
	}

	chunks := make([]*model.Chunk, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// DeleteByDocument relies on ON DELETE CASCADE to drop embeddings
func (r *chunkRepository) DeleteByDocument(ctx context.Context, userID string, documentID model.DocumentID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1 AND user_id = $2`,
		documentID.String(), userID); err != nil {
		return goerr.Wrap(err, "failed to delete chunks", goerr.V("document_id", documentID))
	}
	return nil
}
