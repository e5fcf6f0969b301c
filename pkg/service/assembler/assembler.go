package assembler

import (
	"context"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Defaults for context assembly
const (
	DefaultMaxTokens      = 6000
	DefaultReservedTokens = 1000

	// minimum share of a truncated chunk kept when cutting at a sentence boundary
	sentenceCutRatio = 0.7

	maxTruncateAttempts = 8
)

// Assembler packs ranked search results into a token-budgeted context
type Assembler struct {
	counter         interfaces.TokenCounter
	maxTokens       int
	reservedTokens  int
	overlap         types.OverlapStrategy
	prioritize      types.PrioritizeStrategy
	includeMetadata bool
	format          types.FormatType
}

// Option is a functional option for Assembler
type Option func(*Assembler)

// WithMaxTokens sets the total token budget of the prompt
func WithMaxTokens(n int) Option {
	return func(a *Assembler) {
		a.maxTokens = n
	}
}

// WithReservedTokens sets the share of the budget kept for the query and system prompt
func WithReservedTokens(n int) Option {
	return func(a *Assembler) {
		a.reservedTokens = n
	}
}

// WithOverlapStrategy sets how adjacent chunks of one document are combined
func WithOverlapStrategy(s types.OverlapStrategy) Option {
	return func(a *Assembler) {
		a.overlap = s
	}
}

// WithPrioritizeStrategy sets the order in which results are packed
func WithPrioritizeStrategy(s types.PrioritizeStrategy) Option {
	return func(a *Assembler) {
		a.prioritize = s
	}
}

// WithIncludeMetadata adds type, relevance and update date to each document section
func WithIncludeMetadata(v bool) Option {
	return func(a *Assembler) {
		a.includeMetadata = v
	}
}

// WithFormat selects markdown, json or text output
func WithFormat(f types.FormatType) Option {
	return func(a *Assembler) {
		a.format = f
	}
}

// New creates an Assembler that measures tokens with counter
func New(counter interfaces.TokenCounter, opts ...Option) (*Assembler, error) {
	a := &Assembler{
		counter:        counter,
		maxTokens:      DefaultMaxTokens,
		reservedTokens: DefaultReservedTokens,
		overlap:        types.OverlapRemove,
		prioritize:     types.PrioritizeSimilarity,
		format:         types.FormatMarkdown,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// With returns a copy of the assembler with opts applied
func (a *Assembler) With(opts ...Option) (*Assembler, error) {
	copied := *a
	for _, opt := range opts {
		opt(&copied)
	}
	if err := copied.validate(); err != nil {
		return nil, err
	}
	return &copied, nil
}

func (a *Assembler) validate() error {
	if a.counter == nil {
		return goerr.Wrap(model.ErrContextAssembly, "token counter is required")
	}
	if a.reservedTokens < 0 || a.maxTokens <= a.reservedTokens {
		return goerr.Wrap(model.ErrContextAssembly, "max tokens must exceed reserved tokens",
			goerr.V("max_tokens", a.maxTokens), goerr.V("reserved_tokens", a.reservedTokens))
	}
	if !a.overlap.IsValid() {
		return goerr.Wrap(model.ErrContextAssembly, "invalid overlap strategy", goerr.V("strategy", a.overlap))
	}
	if !a.prioritize.IsValid() {
		return goerr.Wrap(model.ErrContextAssembly, "invalid prioritize strategy", goerr.V("strategy", a.prioritize))
	}
	if !a.format.IsValid() {
		return goerr.Wrap(model.ErrContextAssembly, "invalid format type", goerr.V("format", a.format))
	}
	return nil
}

// Budget returns the number of tokens available to the context text
func (a *Assembler) Budget() int {
	return a.maxTokens - a.reservedTokens
}

// Assemble selects and formats results so that the formatted text stays within the
// budget. The input slice is not modified.
func (a *Assembler) Assemble(ctx context.Context, results []*model.SearchResult, query string) (*model.AssembledContext, error) {
	candidates := make([]*model.SearchResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Chunk != nil {
			candidates = append(candidates, copyResult(r))
		}
	}

	out := &model.AssembledContext{TotalChunks: len(candidates)}
	if len(candidates) == 0 {
		return out, nil
	}

	ordered := prioritize(candidates, a.prioritize)
	ordered = deOverlap(ordered, a.overlap)

	selected, text, tokens, err := a.pack(ctx, ordered)
	if err != nil {
		return nil, err
	}

	_, sections, err := a.render(selected)
	if err != nil {
		return nil, err
	}

	out.Text = text
	out.Sections = sections
	out.TokenCount = tokens
	out.UsedChunks = len(selected)
	out.Chunks = selected
	out.Sources = buildSources(selected)

	logging.From(ctx).Debug("context assembled",
		"query_length", len(query),
		"total_chunks", out.TotalChunks,
		"used_chunks", out.UsedChunks,
		"tokens", out.TokenCount,
		"budget", a.Budget(),
	)
	return out, nil
}

func (a *Assembler) pack(ctx context.Context, ordered []*model.SearchResult) ([]*model.SearchResult, string, int, error) {
	budget := a.Budget()

	var (
		selected []*model.SearchResult
		text     string
		tokens   int
	)
	for i, cand := range ordered {
		trial := append(slices.Clone(selected), cand)
		trialText, _, err := a.render(trial)
		if err != nil {
			return nil, "", 0, err
		}
		n, err := a.count(ctx, trialText)
		if err != nil {
			return nil, "", 0, err
		}

		if n <= budget {
			selected, text, tokens = trial, trialText, n
			continue
		}
		if i == 0 {
			fitted, fittedText, fittedTokens, err := a.truncateToFit(ctx, cand, n)
			if err != nil {
				return nil, "", 0, err
			}
			if fitted != nil {
				selected = []*model.SearchResult{fitted}
				text, tokens = fittedText, fittedTokens
				continue
			}
		}
		break
	}

	return selected, text, tokens, nil
}

// truncateToFit shortens an oversized chunk until its rendered form fits the budget.
// It returns nil when even a heavily truncated chunk does not fit.
func (a *Assembler) truncateToFit(ctx context.Context, cand *model.SearchResult, tokens int) (*model.SearchResult, string, int, error) {
	budget := a.Budget()
	runes := []rune(cand.Chunk.Content)
	length := len(runes)

	for attempt := 0; attempt < maxTruncateAttempts && length > 0 && tokens > 0; attempt++ {
		next := int(float64(length) * float64(budget) / float64(tokens) * 0.9)
		if next >= length {
			next = length - 1
		}
		if next <= 0 {
			break
		}

		trial := copyResult(cand)
		trial.Chunk.Content = cutAtSentence(runes[:next])
		length = len([]rune(trial.Chunk.Content))

		text, _, err := a.render([]*model.SearchResult{trial})
		if err != nil {
			return nil, "", 0, err
		}
		n, err := a.count(ctx, text)
		if err != nil {
			return nil, "", 0, err
		}
		if n <= budget {
			logging.From(ctx).Debug("truncated oversized chunk",
				"chunk_id", cand.Chunk.ID,
				"original_length", len(runes),
				"truncated_length", length,
			)
			return trial, text, n, nil
		}
		tokens = n
	}

	return nil, "", 0, nil
}

func (a *Assembler) count(ctx context.Context, text string) (int, error) {
	n, err := a.counter.CountTokens(ctx, text)
	if err != nil {
		return 0, goerr.Wrap(model.ErrContextAssembly, "failed to count tokens",
			goerr.V("cause", err.Error()), goerr.V("length", len(text)))
	}
	return n, nil
}

// cutAtSentence cuts r after the last sentence-ending mark found in its final 30%.
// Without such a mark r is returned as is.
func cutAtSentence(r []rune) string {
	floor := int(float64(len(r)) * sentenceCutRatio)
	for i := len(r) - 1; i >= floor && i >= 0; i-- {
		switch r[i] {
		case '.', '!', '?', '。', '！', '？':
			return trimRunes(r[:i+1])
		}
	}
	return trimRunes(r)
}

func buildSources(selected []*model.SearchResult) []model.Source {
	seen := make(map[model.DocumentID]bool)
	var sources []model.Source
	for _, r := range selected {
		docID := r.Chunk.DocumentID
		if seen[docID] {
			continue
		}
		seen[docID] = true
		sources = append(sources, model.Source{
			DocumentID:   docID,
			Title:        r.DocumentTitle,
			DocumentType: r.DocumentType,
			ChunkID:      r.Chunk.ID,
			ChunkIndex:   r.Chunk.ChunkIndex,
			Similarity:   r.Similarity,
		})
	}
	return sources
}

func copyResult(r *model.SearchResult) *model.SearchResult {
	copied := *r
	copied.Chunk = r.Chunk.Copy()
	return &copied
}
