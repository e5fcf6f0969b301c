package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/llm"
)

type mockSession struct {
	generateFn   func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error)
	countTokenFn func(ctx context.Context, input ...gollem.Input) (int, error)
}

func (s *mockSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	return s.generateFn(ctx, input, opts...)
}

func (s *mockSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.generateFn(ctx, input)
}

func (s *mockSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	if s.countTokenFn != nil {
		return s.countTokenFn(ctx, input...)
	}
	return 0, nil
}

type mockClient struct {
	session             *mockSession
	sessionOptions      []gollem.SessionOption
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	c.sessionOptions = options
	return c.session, nil
}

func (c *mockClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return c.generateEmbeddingFn(ctx, dimension, input)
}

func TestGollem_Embed(t *testing.T) {
	var requestedDim int
	client := &mockClient{
		generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
			requestedDim = dimension
			out := make([][]float64, len(input))
			for i := range input {
				out[i] = []float64{0.5, float64(i)}
			}
			return out, nil
		},
	}
	adapter := llm.NewGollem(client)

	vectors, err := adapter.Embed(context.Background(), []string{"a", "b"}, types.EmbeddingTaskDocument)
	gt.NoError(t, err).Required()
	gt.Array(t, vectors).Length(2)
	gt.Value(t, vectors[1][0]).Equal(float32(0.5))
	gt.Value(t, vectors[1][1]).Equal(float32(1))
	gt.Number(t, requestedDim).Equal(model.EmbeddingDimension)
	gt.Value(t, adapter.Model()).Equal(model.DefaultEmbeddingModel)
}

func TestGollem_Generate(t *testing.T) {
	t.Run("joins texts and reports usage", func(t *testing.T) {
		var inputs []gollem.Input
		var genOpts []gollem.GenerateOption
		client := &mockClient{session: &mockSession{
			generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
				inputs = input
				genOpts = opts
				return &gollem.Response{Texts: []string{"Hello ", "world"}, InputToken: 12, OutputToken: 3}, nil
			},
		}}
		adapter := llm.NewGollem(client)

		gen, err := adapter.Generate(context.Background(), model.GenerateInput{
			SystemPrompt: "be brief",
			Prompt:       "question",
			History:      []model.Message{{Role: model.RoleUser, Content: "earlier"}},
			Temperature:  0.9,
			MaxTokens:    7,
		})
		gt.NoError(t, err).Required()
		gt.Value(t, gen.Text).Equal("Hello world")
		gt.Number(t, gen.Usage.TotalTokens).Equal(15)
		gt.Array(t, inputs).Length(2)
		gt.Array(t, client.sessionOptions).Length(1)

		cfg := gollem.NewGenerateConfig(genOpts...)
		gt.Value(t, cfg.Temperature()).NotNil().Required()
		gt.Value(t, *cfg.Temperature()).Equal(0.9)
		gt.Value(t, cfg.MaxTokens()).NotNil().Required()
		gt.Value(t, *cfg.MaxTokens()).Equal(7)
	})

	t.Run("max tokens omitted when unset", func(t *testing.T) {
		var genOpts []gollem.GenerateOption
		client := &mockClient{session: &mockSession{
			generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
				genOpts = opts
				return &gollem.Response{Texts: []string{"ok"}}, nil
			},
		}}
		_, err := llm.NewGollem(client).Generate(context.Background(), model.GenerateInput{Prompt: "q"})
		gt.NoError(t, err).Required()

		cfg := gollem.NewGenerateConfig(genOpts...)
		gt.Value(t, cfg.Temperature()).NotNil().Required()
		gt.Value(t, *cfg.Temperature()).Equal(0.0)
		gt.Value(t, cfg.MaxTokens()).Nil()
	})

	t.Run("empty response is an error", func(t *testing.T) {
		client := &mockClient{session: &mockSession{
			generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
				return &gollem.Response{}, nil
			},
		}}
		_, err := llm.NewGollem(client).Generate(context.Background(), model.GenerateInput{Prompt: "q"})
		gt.Error(t, err)
	})

	t.Run("provider error is wrapped", func(t *testing.T) {
		cause := errors.New("quota")
		client := &mockClient{session: &mockSession{
			generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
				return nil, cause
			},
		}}
		_, err := llm.NewGollem(client).Generate(context.Background(), model.GenerateInput{Prompt: "q"})
		gt.Error(t, err).Is(cause)
	})
}

func TestGollem_CountTokens(t *testing.T) {
	client := &mockClient{session: &mockSession{
		countTokenFn: func(ctx context.Context, input ...gollem.Input) (int, error) {
			return 42, nil
		},
	}}
	n, err := llm.NewGollem(client).CountTokens(context.Background(), "some text")
	gt.NoError(t, err)
	gt.Number(t, n).Equal(42)
}
