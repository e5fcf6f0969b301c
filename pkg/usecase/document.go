package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/chunker"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/service/extractor"
	"github.com/secmon-lab/mnemosyne/pkg/utils/async"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// DefaultStorageBatchSize is the number of chunks written per repository call
const DefaultStorageBatchSize = 10

// dedupThreshold is passed to chunker.Deduplicate, which only removes exact matches
const dedupThreshold = 0.95

// DocumentUseCase runs the ingestion pipeline: extraction, chunking, storage and
// embedding of one document.
type DocumentUseCase struct {
	repo             interfaces.Repository
	blob             interfaces.BlobStorage
	extractor        *extractor.Extractor
	chunker          *chunker.Chunker
	embedding        *embedding.Service
	storageBatchSize int
}

// NewDocumentUseCase creates a DocumentUseCase. blob may be nil when only raw content
// is ingested.
func NewDocumentUseCase(repo interfaces.Repository, blob interfaces.BlobStorage, ext *extractor.Extractor, chk *chunker.Chunker, emb *embedding.Service, storageBatchSize int) *DocumentUseCase {
	return &DocumentUseCase{
		repo:             repo,
		blob:             blob,
		extractor:        ext,
		chunker:          chk,
		embedding:        emb,
		storageBatchSize: storageBatchSize,
	}
}

// ProcessDocumentInput describes one document to ingest. Either FilePath and FileType
// or RawContent must be set.
type ProcessDocumentInput struct {
	// DocumentID names a record created beforehand. A new record is created when empty.
	DocumentID      model.DocumentID
	UserID          string
	Title           string
	FilePath        string
	FileType        types.FileType
	RawContent      string
	SourceType      types.SourceType
	SourceID        string
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time
	Metadata        map[string]any
	ChunkOptions    []chunker.Option
}

func (in *ProcessDocumentInput) validate() error {
	if in.UserID == "" {
		return goerr.Wrap(ErrInvalidInput, "user ID is required")
	}
	if in.RawContent == "" && in.FilePath == "" {
		return goerr.Wrap(ErrInvalidInput, "either file path or raw content is required")
	}
	if in.SourceType == "" {
		in.SourceType = types.SourceTypeFileUpload
	}
	if !in.SourceType.IsValid() {
		return goerr.Wrap(ErrInvalidInput, "invalid source type", goerr.V("source_type", in.SourceType))
	}
	return nil
}

// ProcessDocumentResult summarizes a successful ingestion
type ProcessDocumentResult struct {
	DocumentID       model.DocumentID     `json:"document_id"`
	Status           types.DocumentStatus `json:"status"`
	ChunkCount       int                  `json:"chunk_count"`
	EmbeddedCount    int                  `json:"embedded_count"`
	FailedEmbeddings int                  `json:"failed_embeddings"`
}

// ProcessDocument ingests a document synchronously. Any failure after the record is
// created leaves the record in error state and is returned as
// *model.DocumentProcessingError.
func (uc *DocumentUseCase) ProcessDocument(ctx context.Context, input ProcessDocumentInput) (*ProcessDocumentResult, error) {
	if err := input.validate(); err != nil {
		return nil, &model.DocumentProcessingError{DocumentID: input.DocumentID, Stage: types.StageExtraction, Err: err}
	}

	doc, err := uc.prepareRecord(ctx, input)
	if err != nil {
		return nil, &model.DocumentProcessingError{DocumentID: input.DocumentID, Stage: types.StageStorage, Err: err}
	}
	return uc.run(ctx, doc, input)
}

// StartIngestion creates the document record and processes it in the background.
// The returned document is in processing state; poll GetStatus for the outcome.
func (uc *DocumentUseCase) StartIngestion(ctx context.Context, input ProcessDocumentInput) (*model.Document, error) {
	if err := input.validate(); err != nil {
		return nil, &model.DocumentProcessingError{DocumentID: input.DocumentID, Stage: types.StageExtraction, Err: err}
	}

	doc, err := uc.prepareRecord(ctx, input)
	if err != nil {
		return nil, &model.DocumentProcessingError{DocumentID: input.DocumentID, Stage: types.StageStorage, Err: err}
	}

	input.DocumentID = doc.ID
	async.Dispatch(ctx, "ingest_document", func(ctx context.Context) error {
		_, err := uc.run(ctx, doc, input)
		return err
	})
	return doc, nil
}

// GetStatus returns the document record of the user
func (uc *DocumentUseCase) GetStatus(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error) {
	doc, err := uc.repo.Document().Get(ctx, userID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("document_id", id))
	}
	return doc, nil
}

// prepareRecord returns the document record in processing state. An existing record
// named by the input, or synced earlier from the same external item, is reused and
// its chunks are dropped.
func (uc *DocumentUseCase) prepareRecord(ctx context.Context, input ProcessDocumentInput) (*model.Document, error) {
	var existing *model.Document
	switch {
	case input.DocumentID != "":
		doc, err := uc.repo.Document().Get(ctx, input.UserID, input.DocumentID)
		if err != nil {
			return nil, err
		}
		existing = doc

	case input.SourceType.IsExternal() && input.SourceID != "":
		doc, err := uc.repo.Document().FindBySource(ctx, input.UserID, input.SourceType, input.SourceID)
		if err != nil {
			return nil, err
		}
		existing = doc
	}

	if existing == nil {
		doc, err := uc.repo.Document().Create(ctx, &model.Document{
			ID:              input.DocumentID,
			UserID:          input.UserID,
			Title:           input.Title,
			FilePath:        input.FilePath,
			FileType:        input.FileType,
			Status:          types.DocumentStatusProcessing,
			SourceType:      input.SourceType,
			SourceID:        input.SourceID,
			SourceCreatedAt: input.SourceCreatedAt,
			SourceUpdatedAt: input.SourceUpdatedAt,
			Metadata:        input.Metadata,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create document record")
		}
		return doc, nil
	}

	if err := uc.repo.Chunk().DeleteByDocument(ctx, input.UserID, existing.ID); err != nil {
		return nil, goerr.Wrap(err, "failed to drop previous chunks", goerr.V("document_id", existing.ID))
	}

	if input.Title != "" {
		existing.Title = input.Title
	}
	if input.FilePath != "" {
		existing.FilePath = input.FilePath
		existing.FileType = input.FileType
	}
	if input.SourceUpdatedAt != nil {
		existing.SourceUpdatedAt = input.SourceUpdatedAt
	}
	existing.MergeMetadata(input.Metadata)
	existing.Status = types.DocumentStatusProcessing
	existing.ErrorMessage = ""
	if err := uc.repo.Document().Update(ctx, existing); err != nil {
		return nil, goerr.Wrap(err, "failed to reset document record", goerr.V("document_id", existing.ID))
	}
	return existing, nil
}

func (uc *DocumentUseCase) run(ctx context.Context, doc *model.Document, input ProcessDocumentInput) (*ProcessDocumentResult, error) {
	ctx = logging.With(ctx, logging.From(ctx).With("document_id", doc.ID, "user_id", doc.UserID))
	started := time.Now()

	result, stage, err := uc.process(ctx, doc, input)
	if err != nil {
		uc.markFailed(ctx, doc, stage, err)
		return nil, &model.DocumentProcessingError{DocumentID: doc.ID, Stage: stage, Err: err}
	}

	logging.From(ctx).Info("document processed",
		"chunks", result.ChunkCount,
		"embedded", result.EmbeddedCount,
		"embedding_failures", result.FailedEmbeddings,
		"duration", time.Since(started).String(),
	)
	return result, nil
}

func (uc *DocumentUseCase) process(ctx context.Context, doc *model.Document, input ProcessDocumentInput) (*ProcessDocumentResult, types.Stage, error) {
	extracted, err := uc.extract(ctx, input)
	if err != nil {
		return nil, types.StageExtraction, err
	}
	if err := uc.mergeMetadata(ctx, doc, extracted.Metadata()); err != nil {
		return nil, types.StageStorage, err
	}

	chunks, err := uc.chunk(extracted.Text, doc, input.ChunkOptions)
	if err != nil {
		return nil, types.StageChunking, err
	}

	result := &ProcessDocumentResult{DocumentID: doc.ID}
	if len(chunks) > 0 {
		stored, err := uc.store(ctx, doc, chunks)
		if err != nil {
			return nil, types.StageStorage, err
		}
		result.ChunkCount = len(stored)

		embedded, err := uc.embedding.EmbedChunks(ctx, doc.UserID, stored)
		if err != nil {
			return nil, types.StageEmbedding, err
		}
		for _, e := range embedded {
			if e.Embedding != nil {
				result.EmbeddedCount++
			} else {
				result.FailedEmbeddings++
			}
		}
	}

	if err := uc.markProcessed(ctx, doc, result); err != nil {
		return nil, types.StageStorage, err
	}
	result.Status = types.DocumentStatusProcessed
	return result, "", nil
}

func (uc *DocumentUseCase) extract(ctx context.Context, input ProcessDocumentInput) (*extractor.Result, error) {
	if input.RawContent != "" {
		return uc.extractor.FromText(input.RawContent), nil
	}
	if !input.FileType.IsValid() {
		return nil, goerr.Wrap(model.ErrUnsupportedFileType, "cannot extract text",
			goerr.V("file_type", input.FileType), goerr.V("file_path", input.FilePath))
	}
	if uc.blob == nil {
		return nil, goerr.Wrap(model.ErrExtraction, "blob storage is not configured", goerr.V("file_path", input.FilePath))
	}

	data, err := uc.blob.Download(ctx, input.FilePath)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExtraction, "failed to download file",
			goerr.V("file_path", input.FilePath), goerr.V("cause", err.Error()))
	}
	return uc.extractor.Extract(ctx, data, input.FileType)
}

func (uc *DocumentUseCase) chunk(text string, doc *model.Document, opts []chunker.Option) ([]*model.Chunk, error) {
	chk := uc.chunker
	if len(opts) > 0 {
		derived, err := chk.With(opts...)
		if err != nil {
			return nil, err
		}
		chk = derived
	}

	chunks, err := chk.Chunk(text, doc.ID, nil)
	if err != nil {
		return nil, err
	}
	return chunker.Deduplicate(chunks, dedupThreshold), nil
}

// store writes chunks in fixed-size batches. Chunks with empty content or of another
// document are skipped.
func (uc *DocumentUseCase) store(ctx context.Context, doc *model.Document, chunks []*model.Chunk) ([]*model.Chunk, error) {
	valid := make([]*model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" || c.DocumentID != doc.ID {
			logging.From(ctx).Warn("skipping invalid chunk", "chunk_index", c.ChunkIndex, "chunk_document_id", c.DocumentID)
			continue
		}
		valid = append(valid, c)
	}

	for start := 0; start < len(valid); start += uc.storageBatchSize {
		batch := valid[start:min(start+uc.storageBatchSize, len(valid))]
		if err := uc.repo.Chunk().CreateBatch(ctx, doc.UserID, batch); err != nil {
			return nil, goerr.Wrap(err, "failed to store chunk batch",
				goerr.V("batch_start", start), goerr.V("batch_size", len(batch)))
		}
	}
	return valid, nil
}

// mergeMetadata re-reads the record so concurrent metadata writes are not lost
func (uc *DocumentUseCase) mergeMetadata(ctx context.Context, doc *model.Document, values map[string]any) error {
	current, err := uc.repo.Document().Get(ctx, doc.UserID, doc.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to read document for metadata merge")
	}
	current.MergeMetadata(values)
	if err := uc.repo.Document().Update(ctx, current); err != nil {
		return goerr.Wrap(err, "failed to write document metadata")
	}
	return nil
}

func (uc *DocumentUseCase) markProcessed(ctx context.Context, doc *model.Document, result *ProcessDocumentResult) error {
	current, err := uc.repo.Document().Get(ctx, doc.UserID, doc.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to read document for completion")
	}
	current.MergeMetadata(map[string]any{
		model.MetaChunkCount:        result.ChunkCount,
		model.MetaEmbeddedChunks:    result.EmbeddedCount,
		model.MetaEmbeddingFailures: result.FailedEmbeddings,
	})
	current.Status = types.DocumentStatusProcessed
	current.ErrorMessage = ""
	if err := uc.repo.Document().Update(ctx, current); err != nil {
		return goerr.Wrap(err, "failed to mark document processed")
	}
	return nil
}

// markFailed records the error on the document. Failures here are logged only, the
// original error is what the caller needs.
func (uc *DocumentUseCase) markFailed(ctx context.Context, doc *model.Document, stage types.Stage, cause error) {
	logger := logging.From(ctx)
	logger.Error("document processing failed", "stage", stage, "error", cause)

	current, err := uc.repo.Document().Get(ctx, doc.UserID, doc.ID)
	if err == nil {
		current.MergeMetadata(map[string]any{model.MetaFailedStage: stage.String()})
		current.Status = types.DocumentStatusError
		current.ErrorMessage = cause.Error()
		if err = uc.repo.Document().Update(ctx, current); err == nil {
			return
		}
	}

	logger.Warn("failed to record error metadata, updating status only", "error", err)
	if err := uc.repo.Document().UpdateStatus(ctx, doc.UserID, doc.ID, types.DocumentStatusError, cause.Error()); err != nil {
		logger.Error("failed to record document error", "error", err)
	}
}
