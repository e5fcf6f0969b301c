package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type documentRepository struct {
	db *sqlx.DB
}

type documentRow struct {
	ID              string       `db:"id"`
	UserID          string       `db:"user_id"`
	Title           string       `db:"title"`
	FilePath        string       `db:"file_path"`
	FileType        string       `db:"file_type"`
	Status          string       `db:"status"`
	ErrorMessage    string       `db:"error_message"`
	SourceType      string       `db:"source_type"`
	SourceID        string       `db:"source_id"`
	SourceCreatedAt sql.NullTime `db:"source_created_at"`
	SourceUpdatedAt sql.NullTime `db:"source_updated_at"`
	Metadata        []byte       `db:"metadata"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

const documentColumns = `id, user_id, title, file_path, file_type, status, error_message,
	source_type, source_id, source_created_at, source_updated_at, metadata, created_at, updated_at`

func toDocumentRow(doc *model.Document) (*documentRow, error) {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode document", goerr.V("id", doc.ID))
	}
	return &documentRow{
		ID:              doc.ID.String(),
		UserID:          doc.UserID,
		Title:           doc.Title,
		FilePath:        doc.FilePath,
		FileType:        doc.FileType.String(),
		Status:          doc.Status.String(),
		ErrorMessage:    doc.ErrorMessage,
		SourceType:      doc.SourceType.String(),
		SourceID:        doc.SourceID,
		SourceCreatedAt: nullTime(doc.SourceCreatedAt),
		SourceUpdatedAt: nullTime(doc.SourceUpdatedAt),
		Metadata:        meta,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

func (r *documentRow) toModel() (*model.Document, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", r.ID))
	}
	return &model.Document{
		ID:              model.DocumentID(r.ID),
		UserID:          r.UserID,
		Title:           r.Title,
		FilePath:        r.FilePath,
		FileType:        types.FileType(r.FileType),
		Status:          types.DocumentStatus(r.Status),
		ErrorMessage:    r.ErrorMessage,
		SourceType:      types.SourceType(r.SourceType),
		SourceID:        r.SourceID,
		SourceCreatedAt: timePtr(r.SourceCreatedAt),
		SourceUpdatedAt: timePtr(r.SourceUpdatedAt),
		Metadata:        meta,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if doc.UserID == "" {
		return nil, goerr.New("user ID is required")
	}

	created := doc.Copy()
	if created.ID == "" {
		created.ID = model.NewDocumentID()
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	row, err := toDocumentRow(created)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES (:id, :user_id, :title, :file_path, :file_type, :status, :error_message,
			:source_type, :source_id, :source_created_at, :source_updated_at, :metadata, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return nil, goerr.Wrap(err, "failed to create document", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *documentRepository) Get(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error) {
	var row documentRow
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &row, query, id.String(), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}
	return row.toModel()
}

func (r *documentRepository) Update(ctx context.Context, doc *model.Document) error {
	row, err := toDocumentRow(doc)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now().UTC()

	query := `UPDATE documents SET
			title = :title, file_path = :file_path, file_type = :file_type, status = :status,
			error_message = :error_message, source_type = :source_type, source_id = :source_id,
			source_created_at = :source_created_at, source_updated_at = :source_updated_at,
			metadata = :metadata, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return goerr.Wrap(err, "failed to update document", goerr.V("id", doc.ID))
	}
	return expectAffected(res, doc.ID)
}

func (r *documentRepository) UpdateStatus(ctx context.Context, userID string, id model.DocumentID, status types.DocumentStatus, errorMessage string) error {
	query := `UPDATE documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND user_id = $5`
	res, err := r.db.ExecContext(ctx, query, status.String(), errorMessage, time.Now().UTC(), id.String(), userID)
	if err != nil {
		return goerr.Wrap(err, "failed to update document status", goerr.V("id", id), goerr.V("status", status))
	}
	return expectAffected(res, id)
}

func (r *documentRepository) FindBySource(ctx context.Context, userID string, sourceType types.SourceType, sourceID string) (*model.Document, error) {
	var row documentRow
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE user_id = $1 AND source_type = $2 AND source_id = $3
		ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, userID, sourceType.String(), sourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to find document by source",
			goerr.V("source_type", sourceType), goerr.V("source_id", sourceID))
	}
	return row.toModel()
}

func (r *documentRepository) List(ctx context.Context, userID string) ([]*model.Document, error) {
	var rows []documentRow
	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, goerr.Wrap(err, "failed to list documents")
	}

	docs := make([]*model.Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func expectAffected(res sql.Result, id model.DocumentID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to read affected rows", goerr.V("id", id))
	}
	if n == 0 {
		return goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
	}
	return nil
}
