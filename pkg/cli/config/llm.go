package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/service/llm"
	"github.com/urfave/cli/v3"
)

// LLM providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLMProvider generates answers and embeddings
type LLMProvider interface {
	interfaces.LLMClient
	interfaces.Embedder
}

// LLM holds configuration for the generation and embedding provider
type LLM struct {
	provider       string
	embeddingModel string

	geminiProject  string
	geminiLocation string
	geminiModel    string

	openaiAPIKey  string
	openaiBaseURL string
	openaiModel   string
}

// Flags returns CLI flags for LLM configuration
func (x *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "LLM provider (gemini or openai)",
			Value:       ProviderGemini,
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_LLM_PROVIDER"),
			Destination: &x.provider,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model identifier. Decides the vector dimension",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_EMBEDDING_MODEL"),
			Destination: &x.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_GEMINI_PROJECT"),
			Destination: &x.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_GEMINI_LOCATION"),
			Destination: &x.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generation model",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_GEMINI_MODEL"),
			Destination: &x.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &x.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible API base URL",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_OPENAI_BASE_URL"),
			Destination: &x.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI chat model",
			Category:    "LLM",
			Sources:     cli.EnvVars("MNEMOSYNE_OPENAI_MODEL"),
			Destination: &x.openaiModel,
		},
	}
}

// LogAttrs returns log attributes for the LLM configuration
func (x *LLM) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("provider", x.provider),
		slog.String("embedding_model", x.EmbeddingModel()),
	}
	switch x.provider {
	case ProviderGemini:
		attrs = append(attrs,
			slog.String("project_id", x.geminiProject),
			slog.String("location", x.geminiLocation),
			slog.String("model", x.geminiModel),
		)
	case ProviderOpenAI:
		attrs = append(attrs,
			slog.String("base_url", x.openaiBaseURL),
			slog.String("model", x.openaiModel),
		)
	}
	return attrs
}

// EmbeddingModel returns the configured embedding model, or the provider default
func (x *LLM) EmbeddingModel() string {
	if x.embeddingModel != "" {
		return x.embeddingModel
	}
	if x.provider == ProviderOpenAI {
		return llm.DefaultOpenAIEmbeddingModel
	}
	return model.DefaultEmbeddingModel
}

// EmbeddingDimension returns the vector size of the configured embedding model
func (x *LLM) EmbeddingDimension() int {
	return model.EmbeddingDimensionOf(x.EmbeddingModel())
}

// geminiOptions always sets the embedding model so that the vectors match the model
// recorded on stored embeddings
func (x *LLM) geminiOptions() []gemini.Option {
	opts := []gemini.Option{gemini.WithEmbeddingModel(x.EmbeddingModel())}
	if x.geminiModel != "" {
		opts = append(opts, gemini.WithModel(x.geminiModel))
	}
	return opts
}

// Configure creates the provider adapter selected by --llm-provider
func (x *LLM) Configure(ctx context.Context) (LLMProvider, error) {
	switch x.provider {
	case ProviderGemini:
		if x.geminiProject == "" {
			return nil, goerr.New("gemini-project is required when using gemini provider")
		}
		client, err := gemini.New(ctx, x.geminiProject, x.geminiLocation, x.geminiOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		return llm.NewGollem(client, llm.WithEmbeddingModel(x.EmbeddingModel())), nil

	case ProviderOpenAI:
		opts := []llm.OpenAIOption{llm.WithOpenAIEmbeddingModel(x.EmbeddingModel())}
		if x.openaiBaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(x.openaiBaseURL))
		}
		if x.openaiModel != "" {
			opts = append(opts, llm.WithOpenAIChatModel(x.openaiModel))
		}
		client, err := llm.NewOpenAI(x.openaiAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI client")
		}
		return client, nil

	default:
		return nil, goerr.New("invalid LLM provider", goerr.V("provider", x.provider))
	}
}
