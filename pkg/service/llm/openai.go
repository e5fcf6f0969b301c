package llm

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Defaults for the OpenAI adapter
const (
	DefaultOpenAIChatModel      = "gpt-4o-mini"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

	fallbackEncoding = "cl100k_base"
)

// OpenAI adapts the OpenAI API to the embedding and generation interfaces
type OpenAI struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// OpenAIOption is a functional option for OpenAI
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL        string
	chatModel      string
	embeddingModel string
}

// WithOpenAIBaseURL points the client at an OpenAI compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithOpenAIChatModel sets the model used by Generate
func WithOpenAIChatModel(name string) OpenAIOption {
	return func(c *openAIConfig) {
		c.chatModel = name
	}
}

// WithOpenAIEmbeddingModel sets the model used by Embed and reported by Model
func WithOpenAIEmbeddingModel(name string) OpenAIOption {
	return func(c *openAIConfig) {
		c.embeddingModel = name
	}
}

// NewOpenAI creates an OpenAI adapter
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, goerr.New("OpenAI API key is required")
	}

	cfg := &openAIConfig{
		chatModel:      DefaultOpenAIChatModel,
		embeddingModel: DefaultOpenAIEmbeddingModel,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		chatModel:      cfg.chatModel,
		embeddingModel: cfg.embeddingModel,
	}, nil
}

// Model returns the embedding model identifier
func (o *OpenAI) Model() string {
	return o.embeddingModel
}

// Embed generates vectors for texts in one request
func (o *OpenAI) Embed(ctx context.Context, texts []string, _ types.EmbeddingTask) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings",
			goerr.V("count", len(texts)), goerr.V("model", o.embeddingModel))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// CountTokens counts tokens locally with the chat model's BPE encoding
func (o *OpenAI) CountTokens(_ context.Context, text string) (int, error) {
	enc, err := o.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (o *OpenAI) encoding() (*tiktoken.Tiktoken, error) {
	o.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(o.chatModel)
		if err != nil {
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err != nil {
			o.encErr = goerr.Wrap(err, "failed to load token encoding", goerr.V("model", o.chatModel))
			return
		}
		o.enc = enc
	})
	return o.enc, o.encErr
}

// Generate runs one chat completion
func (o *OpenAI) Generate(ctx context.Context, input model.GenerateInput) (*model.Generation, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(input.History)+2)
	if input.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: input.SystemPrompt,
		})
	}
	for _, msg := range input.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    messages,
		Temperature: float32(input.Temperature),
		MaxTokens:   input.MaxTokens,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", o.chatModel))
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("no completion choices returned", goerr.V("model", o.chatModel))
	}

	return &model.Generation{
		Text: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
