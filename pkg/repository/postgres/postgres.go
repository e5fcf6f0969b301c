package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
)

//go:embed schema.sql
var schemaTmpl string

var schema = template.Must(template.New("schema").Parse(schemaTmpl))

// Postgres stores records in PostgreSQL with the pgvector extension
type Postgres struct {
	db        *sqlx.DB
	document  *documentRepository
	chunk     *chunkRepository
	embedding *embeddingRepository
}

var _ interfaces.Repository = &Postgres{}

// Connect opens a pgx connection pool for dsn
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// New creates a repository on an open database
func New(db *sqlx.DB) *Postgres {
	return &Postgres{
		db:        db,
		document:  &documentRepository{db: db},
		chunk:     &chunkRepository{db: db},
		embedding: &embeddingRepository{db: db},
	}
}

// Schema renders the DDL for vectors of the given dimension
func Schema(dimension int) (string, error) {
	var buf bytes.Buffer
	if err := schema.Execute(&buf, map[string]int{"Dimension": dimension}); err != nil {
		return "", goerr.Wrap(err, "failed to render schema", goerr.V("dimension", dimension))
	}
	return buf.String(), nil
}

// Migrate creates tables and indexes when they do not exist
func Migrate(ctx context.Context, db *sqlx.DB, dimension int) error {
	ddl, err := Schema(dimension)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return goerr.Wrap(err, "failed to apply schema", goerr.V("dimension", dimension))
	}
	return nil
}

func (p *Postgres) Document() interfaces.DocumentRepository {
	return p.document
}

func (p *Postgres) Chunk() interfaces.ChunkRepository {
	return p.chunk
}

func (p *Postgres) Embedding() interfaces.EmbeddingRepository {
	return p.embedding
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode metadata")
	}
	return raw, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, goerr.Wrap(err, "failed to decode metadata")
	}
	return m, nil
}
