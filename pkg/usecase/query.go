package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/assembler"
	"github.com/secmon-lab/mnemosyne/pkg/service/prompt"
	"github.com/secmon-lab/mnemosyne/pkg/service/response"
	"github.com/secmon-lab/mnemosyne/pkg/service/search"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/retry"
	"golang.org/x/sync/singleflight"
)

// Defaults of answer generation
const (
	DefaultTemperature       = 0.2
	DefaultMaxTokens         = 1024
	DefaultSearchTimeout     = 30 * time.Second
	DefaultGenerationTimeout = 120 * time.Second
)

// QueryUseCase answers a question from the user's documents: search, context
// assembly, prompt formatting, generation and citation extraction.
type QueryUseCase struct {
	search    *search.Service
	assembler *assembler.Assembler
	formatter *prompt.Formatter
	llm       interfaces.LLMClient
	response  *response.Processor
	cache     interfaces.QueryCache
	retry     *retry.Policy
	group     singleflight.Group

	temperature       float64
	maxTokens         int
	searchTimeout     time.Duration
	generationTimeout time.Duration
	debug             bool
}

// QueryOption is a functional option for QueryUseCase
type QueryOption func(*QueryUseCase)

// WithTemperature sets the sampling temperature of generation
func WithTemperature(v float64) QueryOption {
	return func(uc *QueryUseCase) {
		uc.temperature = v
	}
}

// WithMaxTokens caps the length of the generated answer
func WithMaxTokens(n int) QueryOption {
	return func(uc *QueryUseCase) {
		uc.maxTokens = n
	}
}

// WithStageTimeouts bounds the search and generation stages. Zero keeps the default.
func WithStageTimeouts(searchTimeout, generationTimeout time.Duration) QueryOption {
	return func(uc *QueryUseCase) {
		if searchTimeout > 0 {
			uc.searchTimeout = searchTimeout
		}
		if generationTimeout > 0 {
			uc.generationTimeout = generationTimeout
		}
	}
}

// WithDebugMode attaches intermediate artifacts to every result
func WithDebugMode(enabled bool) QueryOption {
	return func(uc *QueryUseCase) {
		uc.debug = enabled
	}
}

// WithGenerationRetry replaces the retry policy of the LLM call
func WithGenerationRetry(p *retry.Policy) QueryOption {
	return func(uc *QueryUseCase) {
		uc.retry = p
	}
}

// NewQueryUseCase creates a QueryUseCase. cache may be nil.
func NewQueryUseCase(searchSvc *search.Service, asm *assembler.Assembler, fmtr *prompt.Formatter, llm interfaces.LLMClient, resp *response.Processor, cache interfaces.QueryCache, opts ...QueryOption) *QueryUseCase {
	uc := &QueryUseCase{
		search:            searchSvc,
		assembler:         asm,
		formatter:         fmtr,
		llm:               llm,
		response:          resp,
		cache:             cache,
		retry:             retry.New(),
		temperature:       DefaultTemperature,
		maxTokens:         DefaultMaxTokens,
		searchTimeout:     DefaultSearchTimeout,
		generationTimeout: DefaultGenerationTimeout,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ProcessQuery answers q. Failures are returned as *model.QueryProcessingError naming
// the stage. Identical concurrent queries share one pipeline run.
func (uc *QueryUseCase) ProcessQuery(ctx context.Context, q model.Query) (*model.QueryResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, &model.QueryProcessingError{Stage: types.StageSearch, Err: goerr.Wrap(model.ErrInvalidQuery, "query text is empty")}
	}
	if q.UserID == "" {
		return nil, &model.QueryProcessingError{Stage: types.StageSearch, Err: goerr.Wrap(model.ErrInvalidQuery, "user ID is required")}
	}

	key := q.CacheKey()
	logger := logging.From(ctx)

	if hit := uc.cached(ctx, key); hit != nil {
		logger.Debug("query cache hit", "user_id", q.UserID)
		return hit, nil
	}

	// the run is shared by every caller with the same key, so one caller's
	// cancellation must not fail the others; stage timeouts still bound it
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := uc.group.Do(key, func() (any, error) {
		// a run that finished between the lookup above and Do has already filled the cache
		if hit := uc.cached(runCtx, key); hit != nil {
			return hit, nil
		}
		result, err := uc.run(runCtx, q)
		if err != nil {
			return nil, err
		}
		if uc.cache != nil {
			if err := uc.cache.Set(runCtx, key, result); err != nil {
				logger.Warn("failed to store query result in cache", "error", err)
			}
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	result := *v.(*model.QueryResult)
	if shared {
		logger.Debug("query result shared with concurrent caller", "user_id", q.UserID)
	}
	return &result, nil
}

// cached returns a copy of the cached result marked as a hit. Lookup errors count as
// a miss.
func (uc *QueryUseCase) cached(ctx context.Context, key string) *model.QueryResult {
	if uc.cache == nil {
		return nil
	}
	cached, err := uc.cache.Get(ctx, key)
	if err != nil {
		logging.From(ctx).Warn("query cache lookup failed", "error", err)
		return nil
	}
	if cached == nil {
		return nil
	}
	hit := *cached
	hit.Metadata.CacheHit = true
	return &hit
}

func (uc *QueryUseCase) run(ctx context.Context, q model.Query) (*model.QueryResult, error) {
	started := time.Now()
	timings := make(model.StageTimings, 4)

	results, err := measure(timings, types.StageSearch, func() ([]*model.SearchResult, error) {
		sctx, cancel := context.WithTimeout(ctx, uc.searchTimeout)
		defer cancel()
		opts := q.Search
		opts.UserID = q.UserID
		return uc.search.Search(sctx, q.Text, opts)
	})
	if err != nil {
		return nil, err
	}

	assembled, err := measure(timings, types.StageAssembly, func() (*model.AssembledContext, error) {
		return uc.assembler.Assemble(ctx, results, q.Text)
	})
	if err != nil {
		return nil, err
	}

	formatted, err := measure(timings, types.StageFormatting, func() (*model.FormattedPrompt, error) {
		return uc.formatter.Format(q.Text, assembled)
	})
	if err != nil {
		return nil, err
	}

	generation, err := measure(timings, types.StageGeneration, func() (*model.Generation, error) {
		return uc.generate(ctx, q, formatted)
	})
	if err != nil {
		return nil, err
	}

	processed := uc.response.Process(generation.Text, assembled.Chunks)
	result := &model.QueryResult{
		Answer:  processed.Text,
		Sources: processed.Sources,
		Metadata: model.QueryMetadata{
			Timings:       timings,
			TotalDuration: time.Since(started),
			Usage:         generation.Usage,
			TotalChunks:   assembled.TotalChunks,
			UsedChunks:    assembled.UsedChunks,
			ContextTokens: assembled.TokenCount,
			PromptType:    uc.formatter.PromptType().String(),
		},
	}
	if uc.debug {
		result.Debug = &model.QueryDebug{
			SearchResults:   results,
			Context:         assembled,
			Prompt:          formatted,
			RawResponseText: generation.Text,
		}
	}

	logging.From(ctx).Info("query processed",
		"user_id", q.UserID,
		"results", len(results),
		"used_chunks", assembled.UsedChunks,
		"sources", len(result.Sources),
		"total_tokens", generation.Usage.TotalTokens,
		"duration", result.Metadata.TotalDuration.String(),
	)
	return result, nil
}

func (uc *QueryUseCase) generate(ctx context.Context, q model.Query, formatted *model.FormattedPrompt) (*model.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.generationTimeout)
	defer cancel()

	input := model.GenerateInput{
		SystemPrompt: formatted.SystemMessage,
		Prompt:       formatted.UserMessage,
		History:      q.History,
		Temperature:  uc.temperature,
		MaxTokens:    uc.maxTokens,
	}

	var generation *model.Generation
	err := uc.retry.Do(ctx, func(ctx context.Context) error {
		g, err := uc.llm.Generate(ctx, input)
		if err != nil {
			return err
		}
		generation = g
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer")
	}
	return generation, nil
}

// measure runs one stage, records its duration and attaches the stage to its error
func measure[T any](timings model.StageTimings, stage types.Stage, fn func() (T, error)) (T, error) {
	started := time.Now()
	v, err := fn()
	timings[stage] = time.Since(started)
	if err != nil {
		var zero T
		return zero, &model.QueryProcessingError{Stage: stage, Err: err}
	}
	return v, nil
}
