package search

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// QueryEmbedder turns a query into a vector
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string, task types.EmbeddingTask) ([]float32, error)
	Model() string
}

// Service runs vector search scoped to one user
type Service struct {
	embedder  QueryEmbedder
	repo      interfaces.EmbeddingRepository
	threshold float64
	limit     int
	overfetch int
}

// Option is a functional option for Service
type Option func(*Service)

// WithThreshold sets the default minimum similarity
func WithThreshold(v float64) Option {
	return func(s *Service) {
		s.threshold = v
	}
}

// WithLimit sets the default result cap
func WithLimit(n int) Option {
	return func(s *Service) {
		s.limit = n
	}
}

// WithOverfetch sets the multiplier applied to the limit when in-process filters may
// drop rows returned by the storage engine.
func WithOverfetch(n int) Option {
	return func(s *Service) {
		s.overfetch = n
	}
}

// New creates a search Service
func New(embedder QueryEmbedder, repo interfaces.EmbeddingRepository, opts ...Option) *Service {
	s := &Service{
		embedder:  embedder,
		repo:      repo,
		threshold: model.DefaultSimilarityThreshold,
		limit:     model.DefaultSearchLimit,
		overfetch: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search embeds query and returns matching chunks ranked by similarity. Zero-valued
// Threshold and Limit in opts fall back to the service defaults.
func (s *Service) Search(ctx context.Context, query string, opts model.SearchOptions) ([]*model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "query is empty")
	}
	if opts.UserID == "" {
		return nil, goerr.Wrap(model.ErrVectorSearch, "user ID is required")
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}

	vector, err := s.embedder.EmbedText(ctx, query, types.EmbeddingTaskQuery)
	if err != nil {
		return nil, goerr.Wrap(model.ErrVectorSearch, "failed to embed query", goerr.V("cause", err.Error()))
	}

	fetch := limit
	if hasPostFilters(opts) && s.overfetch > 1 {
		fetch = limit * s.overfetch
	}

	matches, err := s.repo.SearchSimilar(ctx, model.SimilarityQuery{
		UserID:     opts.UserID,
		Vector:     vector,
		Threshold:  threshold,
		Limit:      fetch,
		Model:      s.embedder.Model(),
		SourceType: opts.SourceType,
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrVectorSearch, "similarity search failed",
			goerr.V("cause", err.Error()), goerr.V("user_id", opts.UserID))
	}

	results := make([]*model.SearchResult, 0, min(len(matches), limit))
	for _, m := range matches {
		if !accept(m, opts) {
			continue
		}
		results = append(results, toResult(m))
		if len(results) >= limit {
			break
		}
	}

	logging.From(ctx).Debug("vector search done",
		"user_id", opts.UserID,
		"matches", len(matches),
		"results", len(results),
		"threshold", threshold,
	)
	return results, nil
}

func hasPostFilters(opts model.SearchOptions) bool {
	return opts.DocumentType != "" || len(opts.Metadata) > 0 || len(opts.ExcludeDocumentIDs) > 0
}

func accept(m *model.SimilarityMatch, opts model.SearchOptions) bool {
	if m == nil || m.Chunk == nil {
		return false
	}
	// storage scoping is trusted but not relied on
	if m.DocumentUserID != opts.UserID {
		return false
	}
	if opts.DocumentType != "" &&
		opts.DocumentType != m.DocumentFileType.String() &&
		opts.DocumentType != m.DocumentSourceType.String() {
		return false
	}
	for k, want := range opts.Metadata {
		got, ok := m.Chunk.Metadata[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	if slices.Contains(opts.ExcludeDocumentIDs, m.Chunk.DocumentID) {
		return false
	}
	return true
}

func toResult(m *model.SimilarityMatch) *model.SearchResult {
	docType := m.DocumentFileType.String()
	if docType == "" {
		docType = m.DocumentSourceType.String()
	}
	return &model.SearchResult{
		Chunk:             m.Chunk,
		Similarity:        m.Similarity,
		DocumentTitle:     m.DocumentTitle,
		DocumentType:      docType,
		SourceType:        m.DocumentSourceType,
		DocumentUpdatedAt: m.DocumentUpdatedAt,
	}
}
