package usecase

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/service/assembler"
	"github.com/secmon-lab/mnemosyne/pkg/service/cache"
	"github.com/secmon-lab/mnemosyne/pkg/service/chunker"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/service/extractor"
	"github.com/secmon-lab/mnemosyne/pkg/service/prompt"
	"github.com/secmon-lab/mnemosyne/pkg/service/response"
	"github.com/secmon-lab/mnemosyne/pkg/service/search"
	"github.com/secmon-lab/mnemosyne/pkg/utils/retry"
)

// UseCases bundles the application use cases built by New
type UseCases struct {
	Document *DocumentUseCase
	Query    *QueryUseCase
	Sync     *SyncUseCase
	Auth     AuthUseCaseInterface
}

type settings struct {
	blob       interfaces.BlobStorage
	cache      interfaces.QueryCache
	retry      *retry.Policy
	sources    []interfaces.SourceClient
	auth       AuthUseCaseInterface
	syncUserID string
	lookback   time.Duration

	extractorOpts []extractor.Option
	chunkerOpts   []chunker.Option
	embeddingOpts []embedding.Option
	searchOpts    []search.Option
	assemblerOpts []assembler.Option
	promptOpts    []prompt.Option
	queryOpts     []QueryOption

	storageBatchSize int
}

// Option configures New
type Option func(*settings)

// WithBlobStorage sets where uploaded files are downloaded from
func WithBlobStorage(blob interfaces.BlobStorage) Option {
	return func(s *settings) {
		s.blob = blob
	}
}

// WithQueryCache replaces the default in-memory query cache
func WithQueryCache(c interfaces.QueryCache) Option {
	return func(s *settings) {
		s.cache = c
	}
}

// WithRetryPolicy sets the policy shared by embedding and generation
func WithRetryPolicy(p *retry.Policy) Option {
	return func(s *settings) {
		s.retry = p
	}
}

// WithSources registers external sources pulled by SyncUseCase on behalf of userID
func WithSources(userID string, sources ...interfaces.SourceClient) Option {
	return func(s *settings) {
		s.syncUserID = userID
		s.sources = append(s.sources, sources...)
	}
}

// WithSyncLookback sets how far back the first sync of a source reads
func WithSyncLookback(d time.Duration) Option {
	return func(s *settings) {
		s.lookback = d
	}
}

// WithAuth sets the authenticator exposed as UseCases.Auth
func WithAuth(auth AuthUseCaseInterface) Option {
	return func(s *settings) {
		s.auth = auth
	}
}

// WithExtractorOptions are passed to extractor.New
func WithExtractorOptions(opts ...extractor.Option) Option {
	return func(s *settings) {
		s.extractorOpts = append(s.extractorOpts, opts...)
	}
}

// WithChunkerOptions are passed to chunker.New
func WithChunkerOptions(opts ...chunker.Option) Option {
	return func(s *settings) {
		s.chunkerOpts = append(s.chunkerOpts, opts...)
	}
}

// WithEmbeddingOptions are passed to embedding.New
func WithEmbeddingOptions(opts ...embedding.Option) Option {
	return func(s *settings) {
		s.embeddingOpts = append(s.embeddingOpts, opts...)
	}
}

// WithSearchOptions are passed to search.New
func WithSearchOptions(opts ...search.Option) Option {
	return func(s *settings) {
		s.searchOpts = append(s.searchOpts, opts...)
	}
}

// WithAssemblerOptions are passed to assembler.New
func WithAssemblerOptions(opts ...assembler.Option) Option {
	return func(s *settings) {
		s.assemblerOpts = append(s.assemblerOpts, opts...)
	}
}

// WithPromptOptions are passed to prompt.New
func WithPromptOptions(opts ...prompt.Option) Option {
	return func(s *settings) {
		s.promptOpts = append(s.promptOpts, opts...)
	}
}

// WithQueryOptions are passed to NewQueryUseCase
func WithQueryOptions(opts ...QueryOption) Option {
	return func(s *settings) {
		s.queryOpts = append(s.queryOpts, opts...)
	}
}

// WithStorageBatchSize sets how many chunks are written per repository call
func WithStorageBatchSize(n int) Option {
	return func(s *settings) {
		s.storageBatchSize = n
	}
}

// New wires the ingestion and query pipelines on top of repo and the LLM provider
func New(repo interfaces.Repository, embedder interfaces.Embedder, llm interfaces.LLMClient, opts ...Option) (*UseCases, error) {
	s := &settings{
		retry:            retry.New(),
		lookback:         30 * 24 * time.Hour,
		storageBatchSize: DefaultStorageBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.storageBatchSize <= 0 {
		return nil, goerr.New("storage batch size must be positive", goerr.V("storage_batch_size", s.storageBatchSize))
	}

	chk, err := chunker.New(s.chunkerOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure chunker")
	}
	emb, err := embedding.New(embedder, repo.Embedding(),
		append([]embedding.Option{embedding.WithRetryPolicy(s.retry)}, s.embeddingOpts...)...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure embedding service")
	}
	asm, err := assembler.New(llm, s.assemblerOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure context assembler")
	}
	fmtr, err := prompt.New(s.promptOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure prompt formatter")
	}

	doc := NewDocumentUseCase(repo, s.blob, extractor.New(s.extractorOpts...), chk, emb, s.storageBatchSize)
	query := NewQueryUseCase(
		search.New(emb, repo.Embedding(), s.searchOpts...),
		asm, fmtr, llm, response.New(), s.cache,
		append([]QueryOption{WithGenerationRetry(s.retry)}, s.queryOpts...)...,
	)

	return &UseCases{
		Document: doc,
		Query:    query,
		Sync:     NewSyncUseCase(repo, doc, s.syncUserID, s.sources, s.lookback),
		Auth:     s.auth,
	}, nil
}
