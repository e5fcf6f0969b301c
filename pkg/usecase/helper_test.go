package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/repository/memory"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/retry"
)

type mockEmbedder struct {
	EmbedFn func(ctx context.Context, texts []string, task types.EmbeddingTask) ([][]float32, error)
	calls   atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string, task types.EmbeddingTask) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, texts, task)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = unitVector()
	}
	return out, nil
}

func (m *mockEmbedder) Model() string { return model.DefaultEmbeddingModel }

func unitVector() []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = 1
	return v
}

type mockLLM struct {
	GenerateFn func(ctx context.Context, input model.GenerateInput) (*model.Generation, error)

	mu     sync.Mutex
	inputs []model.GenerateInput
}

func (m *mockLLM) CountTokens(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func (m *mockLLM) Generate(ctx context.Context, input model.GenerateInput) (*model.Generation, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, input)
	}
	return &model.Generation{Text: "answer", Usage: model.TokenUsage{TotalTokens: 10}}, nil
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

type mockBlob struct {
	DownloadFn func(ctx context.Context, path string) ([]byte, error)
}

func (m *mockBlob) Download(ctx context.Context, path string) ([]byte, error) {
	return m.DownloadFn(ctx, path)
}

// countingRepo records every CreateBatch call on top of the memory repository
type countingRepo struct {
	*memory.Memory
	chunks *countingChunkRepo
}

type countingChunkRepo struct {
	interfaces.ChunkRepository
	mu      sync.Mutex
	batches []int
}

func (r *countingChunkRepo) CreateBatch(ctx context.Context, userID string, chunks []*model.Chunk) error {
	r.mu.Lock()
	r.batches = append(r.batches, len(chunks))
	r.mu.Unlock()
	return r.ChunkRepository.CreateBatch(ctx, userID, chunks)
}

func newCountingRepo() *countingRepo {
	mem := memory.New()
	return &countingRepo{Memory: mem, chunks: &countingChunkRepo{ChunkRepository: mem.Chunk()}}
}

func (r *countingRepo) Chunk() interfaces.ChunkRepository {
	return r.chunks
}

func noWaitRetry(maxRetries int) *retry.Policy {
	return retry.New(
		retry.WithMaxRetries(maxRetries),
		retry.WithBackoff(func(int) time.Duration { return 0 }),
	)
}

func newUseCases(t *testing.T, repo interfaces.Repository, emb interfaces.Embedder, llm interfaces.LLMClient, opts ...usecase.Option) *usecase.UseCases {
	t.Helper()
	base := []usecase.Option{
		usecase.WithRetryPolicy(noWaitRetry(1)),
		usecase.WithEmbeddingOptions(embedding.WithBatchDelay(0)),
	}
	uc, err := usecase.New(repo, emb, llm, append(base, opts...)...)
	gt.NoError(t, err).Required()
	return uc
}

// longText returns distinct sentences totalling at least n characters
func longText(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d explains how the deployment pipeline handles step %d. ", i, i*7)
	}
	return b.String()
}
