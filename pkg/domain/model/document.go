package model

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// DocumentID is a UUID-based identifier for Document
type DocumentID string

// NewDocumentID generates a new UUID v4 DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

func (id DocumentID) String() string {
	return string(id)
}

// Document metadata keys written by the ingestion pipeline
const (
	MetaWordCount         = "word_count"
	MetaCharCount         = "char_count"
	MetaContentHash       = "content_hash"
	MetaExtractedAt       = "extracted_at"
	MetaPageCount         = "page_count"
	MetaChunkCount        = "chunk_count"
	MetaEmbeddedChunks    = "embedded_chunks"
	MetaEmbeddingFailures = "embedding_failures"
	MetaFailedStage       = "failed_stage"
	MetaFileName          = "filename"
	MetaSourceURL         = "source_url"
)

// Document is one ingested content unit owned by a single user
type Document struct {
	ID              DocumentID
	UserID          string
	Title           string
	FilePath        string
	FileType        types.FileType
	Status          types.DocumentStatus
	ErrorMessage    string
	SourceType      types.SourceType
	SourceID        string // native id in the external system
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Copy returns a deep copy of the document
func (d *Document) Copy() *Document {
	if d == nil {
		return nil
	}
	copied := *d
	copied.Metadata = maps.Clone(d.Metadata)
	if d.SourceCreatedAt != nil {
		t := *d.SourceCreatedAt
		copied.SourceCreatedAt = &t
	}
	if d.SourceUpdatedAt != nil {
		t := *d.SourceUpdatedAt
		copied.SourceUpdatedAt = &t
	}
	return &copied
}

// MergeMetadata overlays values onto the document metadata
func (d *Document) MergeMetadata(values map[string]any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any, len(values))
	}
	maps.Copy(d.Metadata, values)
}
