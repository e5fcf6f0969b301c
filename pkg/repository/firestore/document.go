package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type documentDoc struct {
	ID              string         `firestore:"ID"`
	UserID          string         `firestore:"UserID"`
	Title           string         `firestore:"Title"`
	FilePath        string         `firestore:"FilePath"`
	FileType        string         `firestore:"FileType"`
	Status          string         `firestore:"Status"`
	ErrorMessage    string         `firestore:"ErrorMessage"`
	SourceType      string         `firestore:"SourceType"`
	SourceID        string         `firestore:"SourceID"`
	SourceCreatedAt *time.Time     `firestore:"SourceCreatedAt"`
	SourceUpdatedAt *time.Time     `firestore:"SourceUpdatedAt"`
	Metadata        map[string]any `firestore:"Metadata"`
	CreatedAt       time.Time      `firestore:"CreatedAt"`
	UpdatedAt       time.Time      `firestore:"UpdatedAt"`
}

func toDocumentDoc(d *model.Document) *documentDoc {
	return &documentDoc{
		ID:              string(d.ID),
		UserID:          d.UserID,
		Title:           d.Title,
		FilePath:        d.FilePath,
		FileType:        string(d.FileType),
		Status:          string(d.Status),
		ErrorMessage:    d.ErrorMessage,
		SourceType:      string(d.SourceType),
		SourceID:        d.SourceID,
		SourceCreatedAt: d.SourceCreatedAt,
		SourceUpdatedAt: d.SourceUpdatedAt,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func fromDocumentDoc(d *documentDoc) *model.Document {
	return &model.Document{
		ID:              model.DocumentID(d.ID),
		UserID:          d.UserID,
		Title:           d.Title,
		FilePath:        d.FilePath,
		FileType:        types.FileType(d.FileType),
		Status:          types.DocumentStatus(d.Status),
		ErrorMessage:    d.ErrorMessage,
		SourceType:      types.SourceType(d.SourceType),
		SourceID:        d.SourceID,
		SourceCreatedAt: d.SourceCreatedAt,
		SourceUpdatedAt: d.SourceUpdatedAt,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func snapshotToDocument(snap *firestore.DocumentSnapshot) (*model.Document, error) {
	var d documentDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return fromDocumentDoc(&d), nil
}

type documentRepository struct {
	collections
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if doc.UserID == "" {
		return nil, goerr.New("user ID is required")
	}

	now := time.Now().UTC()
	created := doc.Copy()
	if created.ID == "" {
		created.ID = model.NewDocumentID()
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	ref := r.documents(created.UserID).Doc(string(created.ID))
	if _, err := ref.Create(ctx, toDocumentDoc(created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create document", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *documentRepository) Get(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error) {
	snap, err := r.documents(userID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}

	doc, err := snapshotToDocument(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal document", goerr.V("id", id))
	}
	return doc, nil
}

func (r *documentRepository) Update(ctx context.Context, doc *model.Document) error {
	ref := r.documents(doc.UserID).Doc(string(doc.ID))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		existing, err := snapshotToDocument(snap)
		if err != nil {
			return err
		}

		updated := doc.Copy()
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = time.Now().UTC()
		return tx.Set(ref, toDocumentDoc(updated))
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", doc.ID))
		}
		return goerr.Wrap(err, "failed to update document", goerr.V("id", doc.ID))
	}
	return nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, userID string, id model.DocumentID, st types.DocumentStatus, errorMessage string) error {
	_, err := r.documents(userID).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "Status", Value: string(st)},
		{Path: "ErrorMessage", Value: errorMessage},
		{Path: "UpdatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to update document status", goerr.V("id", id), goerr.V("status", st))
	}
	return nil
}

func (r *documentRepository) FindBySource(ctx context.Context, userID string, sourceType types.SourceType, sourceID string) (*model.Document, error) {
	iter := r.documents(userID).
		Where("SourceType", "==", string(sourceType)).
		Where("SourceID", "==", sourceID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find document by source",
			goerr.V("source_type", sourceType), goerr.V("source_id", sourceID))
	}

	doc, err := snapshotToDocument(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal document")
	}
	return doc, nil
}

func (r *documentRepository) List(ctx context.Context, userID string) ([]*model.Document, error) {
	iter := r.documents(userID).OrderBy("CreatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	docs := make([]*model.Document, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate documents")
		}

		doc, err := snapshotToDocument(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
