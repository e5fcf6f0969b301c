package memory

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type documentRepository struct {
	*store
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if doc.UserID == "" {
		return nil, goerr.New("user ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	created := doc.Copy()
	if created.ID == "" {
		created.ID = model.NewDocumentID()
	}
	if _, exists := r.documents[created.ID]; exists {
		return nil, goerr.New("document already exists", goerr.V("id", created.ID))
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	r.documents[created.ID] = created
	return created.Copy(), nil
}

func (r *documentRepository) Get(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[id]
	if !ok || doc.UserID != userID {
		return nil, goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
	}
	return doc.Copy(), nil
}

func (r *documentRepository) Update(ctx context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.documents[doc.ID]
	if !ok || existing.UserID != doc.UserID {
		return goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", doc.ID))
	}

	updated := doc.Copy()
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.documents[doc.ID] = updated
	return nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, userID string, id model.DocumentID, status types.DocumentStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[id]
	if !ok || doc.UserID != userID {
		return goerr.Wrap(model.ErrDocumentNotFound, "document not found", goerr.V("id", id))
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *documentRepository) FindBySource(ctx context.Context, userID string, sourceType types.SourceType, sourceID string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, doc := range r.documents {
		if doc.UserID == userID && doc.SourceType == sourceType && doc.SourceID == sourceID {
			return doc.Copy(), nil
		}
	}
	return nil, nil
}

func (r *documentRepository) List(ctx context.Context, userID string) ([]*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]*model.Document, 0)
	for _, doc := range r.documents {
		if doc.UserID == userID {
			docs = append(docs, doc.Copy())
		}
	}
	slices.SortFunc(docs, func(a, b *model.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return docs, nil
}
