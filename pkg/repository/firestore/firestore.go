package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
)

// Collection names. Every collection lives under users/{userID} so that reads are
// scoped by path, not only by filters.
const (
	CollectionUsers      = "users"
	CollectionDocuments  = "documents"
	CollectionChunks     = "chunks"
	CollectionEmbeddings = "embeddings"
)

// Firestore is the Firestore backed repository
type Firestore struct {
	client    *firestore.Client
	document  *documentRepository
	chunk     *chunkRepository
	embedding *embeddingRepository
}

var _ interfaces.Repository = &Firestore{}

// Option is a functional option for Firestore
type Option func(*Firestore)

// WithCollectionPrefix prefixes the top level collection name
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.document.prefix = prefix
		f.chunk.prefix = prefix
		f.embedding.prefix = prefix
	}
}

// New connects to the Firestore database. An empty databaseID selects the default
// database.
func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	base := collections{client: client}
	f := &Firestore{
		client:    client,
		document:  &documentRepository{collections: base},
		chunk:     &chunkRepository{collections: base},
		embedding: &embeddingRepository{collections: base},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Document() interfaces.DocumentRepository {
	return f.document
}

func (f *Firestore) Chunk() interfaces.ChunkRepository {
	return f.chunk
}

func (f *Firestore) Embedding() interfaces.EmbeddingRepository {
	return f.embedding
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

type collections struct {
	client *firestore.Client
	prefix string
}

func (c collections) user(userID string) *firestore.DocumentRef {
	return c.client.Collection(c.prefix + CollectionUsers).Doc(userID)
}

func (c collections) documents(userID string) *firestore.CollectionRef {
	return c.user(userID).Collection(CollectionDocuments)
}

func (c collections) chunks(userID string) *firestore.CollectionRef {
	return c.user(userID).Collection(CollectionChunks)
}

func (c collections) embeddings(userID string) *firestore.CollectionRef {
	return c.user(userID).Collection(CollectionEmbeddings)
}
