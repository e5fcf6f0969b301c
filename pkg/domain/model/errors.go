package model

import (
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Sentinel errors of the ingestion and query pipelines. Component errors wrap one of
// these with goerr so callers can match them with errors.Is.
var (
	ErrExtraction          = goerr.New("text extraction failed")
	ErrUnsupportedFileType = goerr.New("unsupported file type")
	ErrChunking            = goerr.New("chunking failed")
	ErrEmbedding           = goerr.New("embedding failed")
	ErrVectorSearch        = goerr.New("vector search failed")
	ErrContextAssembly     = goerr.New("context assembly failed")
	ErrInvalidQuery        = goerr.New("invalid query")
	ErrDocumentNotFound    = goerr.New("document not found")
)

// EmbeddingError is a provider failure after retries. ChunkID is empty when the
// failure is not attributable to one chunk.
type EmbeddingError struct {
	ChunkID ChunkID
	Err     error
}

func (e *EmbeddingError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("embedding failed for chunk %s: %v", e.ChunkID, e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() []error {
	return []error{ErrEmbedding, e.Err}
}

// DocumentProcessingError is the only error returned by document ingestion. It
// names the document record that carries the error state and the failed stage.
type DocumentProcessingError struct {
	DocumentID DocumentID
	Stage      types.Stage
	Err        error
}

func (e *DocumentProcessingError) Error() string {
	return fmt.Sprintf("document %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *DocumentProcessingError) Unwrap() error {
	return e.Err
}

// QueryProcessingError wraps a failure of one query stage
type QueryProcessingError struct {
	Stage types.Stage
	Err   error
}

func (e *QueryProcessingError) Error() string {
	return fmt.Sprintf("query failed at %s: %v", e.Stage, e.Err)
}

func (e *QueryProcessingError) Unwrap() error {
	return e.Err
}

// StageOf returns the pipeline stage attached to err, if any
func StageOf(err error) (types.Stage, bool) {
	var docErr *DocumentProcessingError
	if errors.As(err, &docErr) {
		return docErr.Stage, true
	}
	var queryErr *QueryProcessingError
	if errors.As(err, &queryErr) {
		return queryErr.Stage, true
	}
	return "", false
}
