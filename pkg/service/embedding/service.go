package embedding

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/retry"
	"golang.org/x/time/rate"
)

// Defaults for batching
const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 200 * time.Millisecond
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

// Service converts text and chunks into vectors. Stored embeddings are reused
// before the provider is called.
type Service struct {
	embedder  interfaces.Embedder
	repo      interfaces.EmbeddingRepository
	batchSize int
	limiter   *rate.Limiter
	retry     *retry.Policy
	dimension int
	now       func() time.Time
}

// Option is a functional option for Service
type Option func(*Service)

// WithBatchSize sets the number of texts sent per provider call
func WithBatchSize(n int) Option {
	return func(s *Service) {
		s.batchSize = n
	}
}

// WithBatchDelay sets the minimum interval between provider batches. Zero disables
// throttling.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Service) {
		if d <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetryPolicy replaces the policy used for provider calls
func WithRetryPolicy(p *retry.Policy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

// WithDimension overrides the dimension looked up from the model identifier
func WithDimension(n int) Option {
	return func(s *Service) {
		s.dimension = n
	}
}

// New creates an embedding Service. repo may be nil, which disables reuse and
// persistence of chunk embeddings.
func New(embedder interfaces.Embedder, repo interfaces.EmbeddingRepository, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}

	s := &Service{
		embedder:  embedder,
		repo:      repo,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Every(DefaultBatchDelay), 1),
		retry:     retry.New(),
		dimension: model.EmbeddingDimensionOf(embedder.Model()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.batchSize <= 0 {
		return nil, goerr.New("batch size must be positive", goerr.V("batch_size", s.batchSize))
	}
	if s.dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V("dimension", s.dimension))
	}
	return s, nil
}

// Model returns the embedding model identifier
func (s *Service) Model() string {
	return s.embedder.Model()
}

// Dimension returns the vector size of the model
func (s *Service) Dimension() int {
	return s.dimension
}

// EmbedText returns the vector of one text. Empty text yields a zero vector without
// calling the provider.
func (s *Service) EmbedText(ctx context.Context, text string, task types.EmbeddingTask) ([]float32, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return make([]float32, s.dimension), nil
	}

	vectors, err := s.embedWithRetry(ctx, []string{cleaned}, task)
	if err != nil {
		return nil, &model.EmbeddingError{Err: err}
	}
	return vectors[0], nil
}

// EmbedChunks returns one EmbeddedChunk per input chunk, in order. A chunk whose
// embedding could not be produced after retries has a nil Embedding; this is not an
// error. Errors are returned only for cancellation and persistence failures.
func (s *Service) EmbedChunks(ctx context.Context, userID string, chunks []*model.Chunk) ([]*model.EmbeddedChunk, error) {
	results := make([]*model.EmbeddedChunk, 0, len(chunks))

	for start := 0; start < len(chunks); start += s.batchSize {
		batch := chunks[start:min(start+s.batchSize, len(chunks))]

		embedded, err := s.embedBatch(ctx, userID, batch)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed chunk batch",
				goerr.V("batch_start", start), goerr.V("batch_size", len(batch)))
		}
		results = append(results, embedded...)
	}

	return results, nil
}

func (s *Service) embedBatch(ctx context.Context, userID string, batch []*model.Chunk) ([]*model.EmbeddedChunk, error) {
	logger := logging.From(ctx)
	results := make([]*model.EmbeddedChunk, len(batch))

	cached := s.lookupCached(ctx, userID, batch)

	var (
		pendingIdx   []int
		pendingTexts []string
		computed     []*model.Embedding
	)
	for i, chunk := range batch {
		results[i] = &model.EmbeddedChunk{Chunk: chunk}
		if emb, ok := cached[chunk.ID]; ok {
			results[i].Embedding = emb
			results[i].Cached = true
			continue
		}

		text := CleanText(chunk.Content)
		if text == "" {
			emb := s.newEmbedding(userID, chunk.ID, make([]float32, s.dimension))
			results[i].Embedding = emb
			computed = append(computed, emb)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, text)
	}

	if len(pendingTexts) > 0 {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, goerr.Wrap(err, "interrupted while waiting for embedding rate limit")
			}
		}

		vectors, err := s.embedWithRetry(ctx, pendingTexts, types.EmbeddingTaskDocument)
		if err != nil {
			logger.Warn("batch embedding failed, falling back to per-chunk requests",
				"error", err, "chunks", len(pendingTexts))
			vectors = s.embedEach(ctx, batch, pendingIdx, pendingTexts)
		}

		for j, idx := range pendingIdx {
			if vectors[j] == nil {
				continue
			}
			emb := s.newEmbedding(userID, batch[idx].ID, vectors[j])
			results[idx].Embedding = emb
			computed = append(computed, emb)
		}
	}

	if s.repo != nil && len(computed) > 0 {
		if err := s.repo.Save(ctx, userID, computed); err != nil {
			return nil, goerr.Wrap(err, "failed to save embeddings", goerr.V("count", len(computed)))
		}
	}

	return results, nil
}

// embedEach embeds chunks one at a time. Chunks that still fail get a nil vector.
func (s *Service) embedEach(ctx context.Context, batch []*model.Chunk, idx []int, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for j, text := range texts {
		if ctx.Err() != nil {
			break
		}
		v, err := s.embedWithRetry(ctx, []string{text}, types.EmbeddingTaskDocument)
		if err != nil {
			embErr := &model.EmbeddingError{ChunkID: batch[idx[j]].ID, Err: err}
			logging.From(ctx).Warn("chunk left without embedding", "error", embErr, "chunk_id", batch[idx[j]].ID)
			continue
		}
		vectors[j] = v[0]
	}
	return vectors
}

func (s *Service) lookupCached(ctx context.Context, userID string, batch []*model.Chunk) map[model.ChunkID]*model.Embedding {
	if s.repo == nil {
		return nil
	}

	ids := make([]model.ChunkID, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}

	cached, err := s.repo.GetByChunkIDs(ctx, userID, ids, s.Model())
	if err != nil {
		// a cache miss only costs provider calls
		logging.From(ctx).Warn("failed to look up stored embeddings", "error", err, "chunks", len(ids))
		return nil
	}
	return cached
}

func (s *Service) embedWithRetry(ctx context.Context, texts []string, task types.EmbeddingTask) ([][]float32, error) {
	var vectors [][]float32
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		v, err := s.embedder.Embed(ctx, texts, task)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return retry.Permanent(goerr.New("embedding count mismatch",
				goerr.V("expected", len(texts)), goerr.V("actual", len(v))))
		}
		for i := range v {
			if len(v[i]) != s.dimension {
				return retry.Permanent(goerr.New("embedding dimension mismatch",
					goerr.V("expected", s.dimension), goerr.V("actual", len(v[i])), goerr.V("model", s.Model())))
			}
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *Service) newEmbedding(userID string, chunkID model.ChunkID, vector []float32) *model.Embedding {
	return &model.Embedding{
		ID:        model.NewEmbeddingID(),
		ChunkID:   chunkID,
		UserID:    userID,
		Vector:    vector,
		Model:     s.Model(),
		CreatedAt: s.now().UTC(),
	}
}

// CleanText collapses consecutive blank lines and trims text before embedding
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}
