package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type embeddingRepository struct {
	db *sqlx.DB
}

type embeddingRow struct {
	ID        string          `db:"id"`
	ChunkID   string          `db:"chunk_id"`
	UserID    string          `db:"user_id"`
	Model     string          `db:"model"`
	Embedding pgvector.Vector `db:"embedding"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r *embeddingRow) toModel() *model.Embedding {
	return &model.Embedding{
		ID:        model.EmbeddingID(r.ID),
		ChunkID:   model.ChunkID(r.ChunkID),
		UserID:    r.UserID,
		Model:     r.Model,
		Vector:    r.Embedding.Slice(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type matchRow struct {
	chunkRow
	DocumentUserID     string         `db:"doc_user_id"`
	DocumentTitle      string         `db:"doc_title"`
	DocumentFileType   sql.NullString `db:"doc_file_type"`
	DocumentSourceType string         `db:"doc_source_type"`
	DocumentCreatedAt  time.Time      `db:"doc_created_at"`
	DocumentUpdatedAt  time.Time      `db:"doc_updated_at"`
	Similarity         float64        `db:"similarity"`
}

func (r *embeddingRepository) Save(ctx context.Context, userID string, embeddings []*model.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// the insert selects nothing when the chunk is missing or owned by someone else
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO embeddings (id, chunk_id, user_id, model, embedding, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM chunks WHERE id = $2 AND user_id = $3)
		ON CONFLICT (chunk_id, model) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare embedding insert")
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, e := range embeddings {
		id := e.ID
		if id == "" {
			id = model.NewEmbeddingID()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		res, err := stmt.ExecContext(ctx, string(id), e.ChunkID.String(), userID, e.Model, pgvector.NewVector(e.Vector), createdAt)
		if err != nil {
			return goerr.Wrap(err, "failed to save embedding", goerr.V("chunk_id", e.ChunkID))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return goerr.Wrap(err, "failed to read affected rows", goerr.V("chunk_id", e.ChunkID))
		}
		if n == 0 {
			return goerr.New("embedding references unknown chunk", goerr.V("chunk_id", e.ChunkID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit embeddings", goerr.V("count", len(embeddings)))
	}
	return nil
}

func (r *embeddingRepository) GetByChunkIDs(ctx context.Context, userID string, chunkIDs []model.ChunkID, embeddingModel string) (map[model.ChunkID]*model.Embedding, error) {
	result := make(map[model.ChunkID]*model.Embedding, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return result, nil
	}

	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = id.String()
	}
	query, args, err := sqlx.In(`SELECT id, chunk_id, user_id, model, embedding, created_at
		FROM embeddings WHERE user_id = ? AND model = ? AND chunk_id IN (?)`, userID, embeddingModel, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build embedding query")
	}

	var rows []embeddingRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, goerr.Wrap(err, "failed to get embeddings", goerr.V("count", len(chunkIDs)))
	}
	for i := range rows {
		e := rows[i].toModel()
		result[e.ChunkID] = e
	}
	return result, nil
}

func (r *embeddingRepository) SearchSimilar(ctx context.Context, q model.SimilarityQuery) ([]*model.SimilarityMatch, error) {
	if len(q.Vector) == 0 {
		return nil, goerr.New("query vector is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}

	query := `SELECT c.id, c.document_id, c.user_id, c.content, c.chunk_index, c.metadata, c.created_at,
			d.user_id AS doc_user_id, d.title AS doc_title, d.file_type AS doc_file_type,
			d.source_type AS doc_source_type, d.created_at AS doc_created_at, d.updated_at AS doc_updated_at,
			1 - (e.embedding <=> $1) AS similarity
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE e.user_id = $2 AND d.user_id = $2
			AND ($3 = '' OR e.model = $3)
			AND ($4 = '' OR d.source_type = $4)
			AND 1 - (e.embedding <=> $1) >= $5
		ORDER BY e.embedding <=> $1, c.chunk_index
		LIMIT $6`

	var rows []matchRow
	if err := r.db.SelectContext(ctx, &rows, query,
		pgvector.NewVector(q.Vector), q.UserID, q.Model, q.SourceType.String(), q.Threshold, limit); err != nil {
		return nil, goerr.Wrap(err, "failed to search embeddings", goerr.V("model", q.Model))
	}

	matches := make([]*model.SimilarityMatch, 0, len(rows))
	for i := range rows {
		c, err := rows[i].chunkRow.toModel()
		if err != nil {
			return nil, err
		}
		matches = append(matches, &model.SimilarityMatch{
			Chunk:              c,
			Similarity:         rows[i].Similarity,
			DocumentUserID:     rows[i].DocumentUserID,
			DocumentTitle:      rows[i].DocumentTitle,
			DocumentFileType:   types.FileType(rows[i].DocumentFileType.String),
			DocumentSourceType: types.SourceType(rows[i].DocumentSourceType),
			DocumentCreatedAt:  rows[i].DocumentCreatedAt.UTC(),
			DocumentUpdatedAt:  rows[i].DocumentUpdatedAt.UTC(),
		})
	}
	return matches, nil
}
