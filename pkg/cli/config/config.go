package config

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/assembler"
	"github.com/secmon-lab/mnemosyne/pkg/service/chunker"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/service/prompt"
	"github.com/secmon-lab/mnemosyne/pkg/service/search"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// PipelineConfig is the TOML tuning file of the ingestion and query pipeline.
// Zero values keep the package defaults.
type PipelineConfig struct {
	Chunker    ChunkerConfig    `toml:"chunker"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Search     SearchConfig     `toml:"search"`
	Assembler  AssemblerConfig  `toml:"assembler"`
	Prompt     PromptConfig     `toml:"prompt"`
	Generation GenerationConfig `toml:"generation"`
	Storage    StorageConfig    `toml:"storage"`
}

type ChunkerConfig struct {
	ChunkSize         int    `toml:"chunk_size"`
	ChunkOverlap      *int   `toml:"chunk_overlap"`
	Strategy          string `toml:"strategy"`
	PreserveSentences *bool  `toml:"preserve_sentences"`
}

type EmbeddingConfig struct {
	BatchSize  int    `toml:"batch_size"`
	BatchDelay string `toml:"batch_delay"`
}

type SearchConfig struct {
	Threshold *float64 `toml:"threshold"`
	Limit     int      `toml:"limit"`
}

type AssemblerConfig struct {
	MaxTokens          int    `toml:"max_tokens"`
	ReservedTokens     *int   `toml:"reserved_tokens"`
	OverlapStrategy    string `toml:"overlap_strategy"`
	PrioritizeStrategy string `toml:"prioritize_strategy"`
	IncludeMetadata    *bool  `toml:"include_metadata"`
	Format             string `toml:"format"`
}

type PromptConfig struct {
	Type     string `toml:"type"`
	Citation string `toml:"citation"`
}

type GenerationConfig struct {
	Temperature       *float64 `toml:"temperature"`
	MaxTokens         int      `toml:"max_tokens"`
	SearchTimeout     string   `toml:"search_timeout"`
	GenerationTimeout string   `toml:"generation_timeout"`
	Debug             bool     `toml:"debug"`
}

type StorageConfig struct {
	BatchSize int `toml:"batch_size"`
}

// Pipeline holds the CLI flag pointing at a PipelineConfig file
type Pipeline struct {
	path  string
	debug bool
}

// Flags returns CLI flags for pipeline configuration
func (x *Pipeline) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to pipeline TOML config file. Defaults are used when empty",
			Category:    "Pipeline",
			Sources:     cli.EnvVars("MNEMOSYNE_CONFIG"),
			Destination: &x.path,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Attach search results, context and prompt to query responses",
			Category:    "Pipeline",
			Sources:     cli.EnvVars("MNEMOSYNE_DEBUG"),
			Destination: &x.debug,
		},
	}
}

// LogAttrs returns log attributes for the pipeline configuration
func (x *Pipeline) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("path", x.path),
		slog.Bool("debug", x.debug),
	}
}

// Configure loads the config file, if any, and converts it into use case options
func (x *Pipeline) Configure() ([]usecase.Option, error) {
	cfg := &PipelineConfig{}
	if x.path != "" {
		loaded, err := LoadPipelineConfig(x.path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if x.debug {
		cfg.Generation.Debug = true
	}
	return cfg.Options()
}

// LoadPipelineConfig reads and validates a pipeline config from a TOML file
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "pipeline config does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	return ParsePipelineConfig(data)
}

// ParsePipelineConfig decodes and validates TOML. Unknown keys are rejected.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return nil, goerr.Wrap(ErrUnknownField, "unknown key in config", goerr.V("detail", strictErr.String()))
		}
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config", goerr.V("error", err.Error()))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(section, field string, value any) error {
	return goerr.Wrap(ErrInvalidConfig, "invalid value",
		goerr.V(SectionKey, section), goerr.V(FieldKey, field), goerr.V("value", value))
}

func parseDuration(section, field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, invalid(section, field, s)
	}
	return d, nil
}

// Validate checks ranges and enum values of every section
func (c *PipelineConfig) Validate() error {
	_, err := c.Options()
	return err
}

// Options converts the config into use case options
func (c *PipelineConfig) Options() ([]usecase.Option, error) {
	var opts []usecase.Option

	chunkOpts, err := c.Chunker.options()
	if err != nil {
		return nil, err
	}
	if len(chunkOpts) > 0 {
		opts = append(opts, usecase.WithChunkerOptions(chunkOpts...))
	}

	var embOpts []embedding.Option
	if c.Embedding.BatchSize < 0 {
		return nil, invalid("embedding", "batch_size", c.Embedding.BatchSize)
	}
	if c.Embedding.BatchSize > 0 {
		embOpts = append(embOpts, embedding.WithBatchSize(c.Embedding.BatchSize))
	}
	if c.Embedding.BatchDelay != "" {
		d, err := parseDuration("embedding", "batch_delay", c.Embedding.BatchDelay)
		if err != nil {
			return nil, err
		}
		embOpts = append(embOpts, embedding.WithBatchDelay(d))
	}
	if len(embOpts) > 0 {
		opts = append(opts, usecase.WithEmbeddingOptions(embOpts...))
	}

	var searchOpts []search.Option
	if th := c.Search.Threshold; th != nil {
		if *th < 0 || *th > 1 {
			return nil, invalid("search", "threshold", *th)
		}
		searchOpts = append(searchOpts, search.WithThreshold(*th))
	}
	if c.Search.Limit < 0 {
		return nil, invalid("search", "limit", c.Search.Limit)
	}
	if c.Search.Limit > 0 {
		searchOpts = append(searchOpts, search.WithLimit(c.Search.Limit))
	}
	if len(searchOpts) > 0 {
		opts = append(opts, usecase.WithSearchOptions(searchOpts...))
	}

	asmOpts, err := c.Assembler.options()
	if err != nil {
		return nil, err
	}
	if len(asmOpts) > 0 {
		opts = append(opts, usecase.WithAssemblerOptions(asmOpts...))
	}

	var promptOpts []prompt.Option
	if c.Prompt.Type != "" {
		t, err := types.ParsePromptType(c.Prompt.Type)
		if err != nil {
			return nil, invalid("prompt", "type", c.Prompt.Type)
		}
		promptOpts = append(promptOpts, prompt.WithPromptType(t))
	}
	if c.Prompt.Citation != "" {
		s, err := types.ParseCitationStyle(c.Prompt.Citation)
		if err != nil {
			return nil, invalid("prompt", "citation", c.Prompt.Citation)
		}
		promptOpts = append(promptOpts, prompt.WithCitationStyle(s))
	}
	if len(promptOpts) > 0 {
		opts = append(opts, usecase.WithPromptOptions(promptOpts...))
	}

	queryOpts, err := c.Generation.options()
	if err != nil {
		return nil, err
	}
	if len(queryOpts) > 0 {
		opts = append(opts, usecase.WithQueryOptions(queryOpts...))
	}

	if c.Storage.BatchSize < 0 {
		return nil, invalid("storage", "batch_size", c.Storage.BatchSize)
	}
	if c.Storage.BatchSize > 0 {
		opts = append(opts, usecase.WithStorageBatchSize(c.Storage.BatchSize))
	}

	return opts, nil
}

func (c ChunkerConfig) options() ([]chunker.Option, error) {
	var opts []chunker.Option
	if c.ChunkSize < 0 {
		return nil, invalid("chunker", "chunk_size", c.ChunkSize)
	}
	if c.ChunkSize > 0 {
		opts = append(opts, chunker.WithChunkSize(c.ChunkSize))
	}
	if c.ChunkOverlap != nil {
		size := c.ChunkSize
		if size == 0 {
			size = chunker.DefaultChunkSize
		}
		if *c.ChunkOverlap < 0 || *c.ChunkOverlap >= size {
			return nil, invalid("chunker", "chunk_overlap", *c.ChunkOverlap)
		}
		opts = append(opts, chunker.WithChunkOverlap(*c.ChunkOverlap))
	}
	if c.Strategy != "" {
		s, err := types.ParseChunkStrategy(c.Strategy)
		if err != nil {
			return nil, invalid("chunker", "strategy", c.Strategy)
		}
		opts = append(opts, chunker.WithStrategy(s))
	}
	if c.PreserveSentences != nil {
		opts = append(opts, chunker.WithPreserveSentences(*c.PreserveSentences))
	}
	return opts, nil
}

func (c AssemblerConfig) options() ([]assembler.Option, error) {
	var opts []assembler.Option
	maxTokens := assembler.DefaultMaxTokens
	if c.MaxTokens < 0 {
		return nil, invalid("assembler", "max_tokens", c.MaxTokens)
	}
	if c.MaxTokens > 0 {
		maxTokens = c.MaxTokens
		opts = append(opts, assembler.WithMaxTokens(c.MaxTokens))
	}
	if c.ReservedTokens != nil {
		if *c.ReservedTokens < 0 || *c.ReservedTokens >= maxTokens {
			return nil, invalid("assembler", "reserved_tokens", *c.ReservedTokens)
		}
		opts = append(opts, assembler.WithReservedTokens(*c.ReservedTokens))
	}
	if c.OverlapStrategy != "" {
		s, err := types.ParseOverlapStrategy(c.OverlapStrategy)
		if err != nil {
			return nil, invalid("assembler", "overlap_strategy", c.OverlapStrategy)
		}
		opts = append(opts, assembler.WithOverlapStrategy(s))
	}
	if c.PrioritizeStrategy != "" {
		s, err := types.ParsePrioritizeStrategy(c.PrioritizeStrategy)
		if err != nil {
			return nil, invalid("assembler", "prioritize_strategy", c.PrioritizeStrategy)
		}
		opts = append(opts, assembler.WithPrioritizeStrategy(s))
	}
	if c.IncludeMetadata != nil {
		opts = append(opts, assembler.WithIncludeMetadata(*c.IncludeMetadata))
	}
	if c.Format != "" {
		f, err := types.ParseFormatType(c.Format)
		if err != nil {
			return nil, invalid("assembler", "format", c.Format)
		}
		opts = append(opts, assembler.WithFormat(f))
	}
	return opts, nil
}

func (c GenerationConfig) options() ([]usecase.QueryOption, error) {
	var opts []usecase.QueryOption
	if t := c.Temperature; t != nil {
		if *t < 0 || *t > 2 {
			return nil, invalid("generation", "temperature", *t)
		}
		opts = append(opts, usecase.WithTemperature(*t))
	}
	if c.MaxTokens < 0 {
		return nil, invalid("generation", "max_tokens", c.MaxTokens)
	}
	if c.MaxTokens > 0 {
		opts = append(opts, usecase.WithMaxTokens(c.MaxTokens))
	}

	searchTimeout, err := parseDuration("generation", "search_timeout", c.SearchTimeout)
	if err != nil {
		return nil, err
	}
	genTimeout, err := parseDuration("generation", "generation_timeout", c.GenerationTimeout)
	if err != nil {
		return nil, err
	}
	if searchTimeout > 0 || genTimeout > 0 {
		opts = append(opts, usecase.WithStageTimeouts(searchTimeout, genTimeout))
	}
	if c.Debug {
		opts = append(opts, usecase.WithDebugMode(true))
	}
	return opts, nil
}
