package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Gollem adapts a gollem.LLMClient to the embedding and generation interfaces
type Gollem struct {
	client         gollem.LLMClient
	embeddingModel string
	dimension      int
}

// GollemOption is a functional option for Gollem
type GollemOption func(*Gollem)

// WithEmbeddingModel sets the model identifier reported by Model. It also decides the
// requested vector dimension.
func WithEmbeddingModel(name string) GollemOption {
	return func(g *Gollem) {
		g.embeddingModel = name
		g.dimension = model.EmbeddingDimensionOf(name)
	}
}

// NewGollem creates a Gollem adapter
func NewGollem(client gollem.LLMClient, opts ...GollemOption) *Gollem {
	g := &Gollem{
		client:         client,
		embeddingModel: model.DefaultEmbeddingModel,
		dimension:      model.EmbeddingDimension,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the embedding model identifier
func (g *Gollem) Model() string {
	return g.embeddingModel
}

// Embed generates vectors for texts. The task hint is not supported by gollem and is
// ignored.
func (g *Gollem) Embed(ctx context.Context, texts []string, _ types.EmbeddingTask) ([][]float32, error) {
	embeddings, err := g.client.GenerateEmbedding(ctx, g.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embeddings",
			goerr.V("count", len(texts)), goerr.V("model", g.embeddingModel))
	}

	vectors := make([][]float32, len(embeddings))
	for i, e64 := range embeddings {
		e32 := make([]float32, len(e64))
		for j, v := range e64 {
			e32[j] = float32(v)
		}
		vectors[i] = e32
	}
	return vectors, nil
}

// CountTokens counts tokens with the provider's tokenizer
func (g *Gollem) CountTokens(ctx context.Context, text string) (int, error) {
	session, err := g.client.NewSession(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to create LLM session")
	}
	n, err := session.CountToken(ctx, gollem.Text(text))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count tokens", goerr.V("length", len(text)))
	}
	return n, nil
}

// Generate runs one completion. Temperature is always sent; max tokens only when
// positive.
func (g *Gollem) Generate(ctx context.Context, input model.GenerateInput) (*model.Generation, error) {
	var opts []gollem.SessionOption
	if input.SystemPrompt != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(input.SystemPrompt))
	}

	session, err := g.client.NewSession(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	var inputs []gollem.Input
	if len(input.History) > 0 {
		inputs = append(inputs, gollem.Text(renderHistory(input.History)))
	}
	inputs = append(inputs, gollem.Text(input.Prompt))

	genOpts := []gollem.GenerateOption{gollem.WithTemperature(input.Temperature)}
	if input.MaxTokens > 0 {
		genOpts = append(genOpts, gollem.WithMaxTokens(input.MaxTokens))
	}

	resp, err := session.Generate(ctx, inputs, genOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}
	if len(resp.Texts) == 0 {
		return nil, goerr.New("LLM returned no text")
	}

	return &model.Generation{
		Text: strings.Join(resp.Texts, ""),
		Usage: model.TokenUsage{
			PromptTokens:     resp.InputToken,
			CompletionTokens: resp.OutputToken,
			TotalTokens:      resp.InputToken + resp.OutputToken,
		},
	}, nil
}

func renderHistory(history []model.Message) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
