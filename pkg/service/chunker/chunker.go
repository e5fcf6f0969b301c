package chunker

import (
	"maps"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Defaults used when no option overrides them
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var (
	defaultParagraphSeparator = regexp.MustCompile(`\n[ \t]*\n`)
	defaultUnitSeparator      = regexp.MustCompile(`[.!?。！？]+[ \t\n]*`)
)

// Chunker splits plain text into ordered chunks. It is immutable and safe for
// concurrent use.
type Chunker struct {
	chunkSize          int
	chunkOverlap       int
	strategy           types.ChunkStrategy
	preserveSentences  bool
	paragraphSeparator *regexp.Regexp
	unitSeparator      *regexp.Regexp
	now                func() time.Time
}

// Option is a functional option for Chunker
type Option func(*Chunker)

// WithChunkSize sets the maximum characters per chunk
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		c.chunkSize = n
	}
}

// WithChunkOverlap sets the characters carried over to the next chunk
func WithChunkOverlap(n int) Option {
	return func(c *Chunker) {
		c.chunkOverlap = n
	}
}

// WithStrategy selects fixed, paragraph or semantic splitting
func WithStrategy(s types.ChunkStrategy) Option {
	return func(c *Chunker) {
		c.strategy = s
	}
}

// WithPreserveSentences pulls fixed-size cuts back to a sentence end when possible
func WithPreserveSentences(b bool) Option {
	return func(c *Chunker) {
		c.preserveSentences = b
	}
}

// WithParagraphSeparator sets the pattern splitting paragraphs
func WithParagraphSeparator(re *regexp.Regexp) Option {
	return func(c *Chunker) {
		c.paragraphSeparator = re
	}
}

// WithUnitSeparator sets the pattern ending a unit in semantic mode. The matched
// separator stays attached to the unit it ends.
func WithUnitSeparator(re *regexp.Regexp) Option {
	return func(c *Chunker) {
		c.unitSeparator = re
	}
}

// New creates a Chunker. Invalid configuration wraps model.ErrChunking.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:          DefaultChunkSize,
		chunkOverlap:       DefaultChunkOverlap,
		strategy:           types.ChunkStrategyFixed,
		preserveSentences:  true,
		paragraphSeparator: defaultParagraphSeparator,
		unitSeparator:      defaultUnitSeparator,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// With returns a copy of the chunker with additional options applied
func (c *Chunker) With(opts ...Option) (*Chunker, error) {
	derived := *c
	for _, opt := range opts {
		opt(&derived)
	}
	if err := derived.validate(); err != nil {
		return nil, err
	}
	return &derived, nil
}

func (c *Chunker) validate() error {
	if c.chunkSize <= 0 {
		return goerr.Wrap(model.ErrChunking, "chunk size must be positive", goerr.V("chunk_size", c.chunkSize))
	}
	if c.chunkOverlap < 0 || c.chunkOverlap >= c.chunkSize {
		return goerr.Wrap(model.ErrChunking, "chunk overlap must be in [0, chunk size)",
			goerr.V("chunk_size", c.chunkSize), goerr.V("chunk_overlap", c.chunkOverlap))
	}
	if !c.strategy.IsValid() {
		return goerr.Wrap(model.ErrChunking, "unknown chunk strategy", goerr.V("strategy", c.strategy))
	}
	if c.paragraphSeparator == nil || c.unitSeparator == nil {
		return goerr.Wrap(model.ErrChunking, "separator pattern is required")
	}
	return nil
}

// Strategy returns the configured strategy
func (c *Chunker) Strategy() types.ChunkStrategy {
	return c.strategy
}

// Chunk splits text into chunks of documentID. Chunk indexes are contiguous from 0
// and whitespace-only pieces are dropped.
func (c *Chunker) Chunk(text string, documentID model.DocumentID, metadata map[string]any) ([]*model.Chunk, error) {
	if documentID == "" {
		return nil, goerr.Wrap(model.ErrChunking, "document ID is required")
	}

	var pieces []string
	switch c.strategy {
	case types.ChunkStrategyFixed:
		pieces = c.splitFixed([]rune(CleanText(text)))
	case types.ChunkStrategyParagraph:
		pieces = c.splitParagraphs(normalizeNewlines(text))
	case types.ChunkStrategySemantic:
		pieces = c.splitUnits(normalizeNewlines(text))
	default:
		return nil, goerr.Wrap(model.ErrChunking, "unknown chunk strategy", goerr.V("strategy", c.strategy))
	}

	now := c.now().UTC()
	chunks := make([]*model.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		content := strings.TrimSpace(piece)
		if content == "" {
			continue
		}

		meta := maps.Clone(metadata)
		if meta == nil {
			meta = make(map[string]any, 4)
		}
		meta[model.ChunkMetaIndex] = len(chunks)
		meta[model.ChunkMetaCharCount] = utf8.RuneCountInString(content)
		meta[model.ChunkMetaWordCount] = len(strings.Fields(content))
		meta[model.ChunkMetaStrategy] = c.strategy.String()

		chunks = append(chunks, &model.Chunk{
			ID:         model.NewChunkID(),
			DocumentID: documentID,
			Content:    content,
			ChunkIndex: len(chunks),
			Metadata:   meta,
			CreatedAt:  now,
		})
	}

	return chunks, nil
}
