package assembler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/assembler"
)

// wordCounter counts whitespace separated words
type wordCounter struct {
	err error
}

func (c *wordCounter) CountTokens(_ context.Context, text string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return len(strings.Fields(text)), nil
}

func result(docID string, index int, sim float64, content string) *model.SearchResult {
	return &model.SearchResult{
		Chunk: &model.Chunk{
			ID:         model.ChunkID(fmt.Sprintf("%s-%d", docID, index)),
			DocumentID: model.DocumentID(docID),
			Content:    content,
			ChunkIndex: index,
		},
		Similarity:    sim,
		DocumentTitle: "Doc " + docID,
		DocumentType:  "txt",
	}
}

func newAssembler(t *testing.T, opts ...assembler.Option) *assembler.Assembler {
	t.Helper()
	a, err := assembler.New(&wordCounter{}, opts...)
	gt.NoError(t, err).Required()
	return a
}

func TestAssemble_ThreeChunksTwoDocuments(t *testing.T) {
	a := newAssembler(t)
	results := []*model.SearchResult{
		result("doc-a", 0, 0.9, "Alpha content about deployments."),
		result("doc-b", 3, 0.85, "Beta content about rollbacks."),
		result("doc-a", 5, 0.6, "More alpha content far away."),
	}

	out, err := a.Assemble(context.Background(), results, "how to deploy")
	gt.NoError(t, err).Required()
	gt.Number(t, out.TotalChunks).Equal(3)
	gt.Number(t, out.UsedChunks).Equal(3)
	gt.Array(t, out.Sources).Length(2)
	gt.Value(t, out.Sources[0].DocumentID).Equal(model.DocumentID("doc-a"))
	gt.Value(t, out.Sources[0].ChunkID).Equal(model.ChunkID("doc-a-0"))
	gt.Value(t, out.Sources[1].DocumentID).Equal(model.DocumentID("doc-b"))
	gt.String(t, out.Text).Contains("## Doc doc-a")
	gt.String(t, out.Text).Contains("## Doc doc-b")
	gt.String(t, out.Text).Contains("---")
}

func TestAssemble_Empty(t *testing.T) {
	out, err := newAssembler(t).Assemble(context.Background(), nil, "q")
	gt.NoError(t, err).Required()
	gt.Number(t, out.UsedChunks).Equal(0)
	gt.Value(t, out.Text).Equal("")
	gt.Array(t, out.Sources).Length(0)
}

func TestAssemble_BudgetRespected(t *testing.T) {
	counter := &wordCounter{}
	words := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet. ", 10))

	for _, format := range []types.FormatType{types.FormatMarkdown, types.FormatJSON, types.FormatText} {
		for _, budget := range []int{20, 60, 150, 400} {
			t.Run(fmt.Sprintf("%s/%d", format, budget), func(t *testing.T) {
				a, err := assembler.New(counter,
					assembler.WithMaxTokens(budget+10),
					assembler.WithReservedTokens(10),
					assembler.WithFormat(format),
					assembler.WithIncludeMetadata(true),
				)
				gt.NoError(t, err).Required()

				var results []*model.SearchResult
				for i := 0; i < 8; i++ {
					results = append(results, result(fmt.Sprintf("doc-%d", i%3), i*2, 0.9-float64(i)*0.01, words))
				}

				out, err := a.Assemble(context.Background(), results, "q")
				gt.NoError(t, err).Required()
				n, _ := counter.CountTokens(context.Background(), out.Text)
				gt.Number(t, n).LessOrEqual(budget)
				gt.Number(t, out.TokenCount).Equal(n)
				gt.Number(t, out.UsedChunks).LessOrEqual(out.TotalChunks)
			})
		}
	}
}

func TestAssemble_TruncatesOversizedFirstChunk(t *testing.T) {
	var sentences []string
	for i := 0; i < 60; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d has several words.", i))
	}
	long := strings.Join(sentences, " ")

	a := newAssembler(t, assembler.WithMaxTokens(110), assembler.WithReservedTokens(10))
	out, err := a.Assemble(context.Background(), []*model.SearchResult{
		result("doc-a", 0, 0.95, long),
		result("doc-b", 0, 0.9, "short"),
	}, "q")
	gt.NoError(t, err).Required()
	gt.Number(t, out.UsedChunks).GreaterOrEqual(1)
	gt.Number(t, out.TokenCount).LessOrEqual(100)
	gt.Number(t, out.TokenCount).Greater(0)
	gt.Value(t, out.Chunks[0].Chunk.DocumentID).Equal(model.DocumentID("doc-a"))

	content := out.Chunks[0].Chunk.Content
	gt.B(t, strings.HasSuffix(content, ".")).True()
	gt.B(t, len(content) < len(long)).True()
}

func TestAssemble_DoesNotModifyInput(t *testing.T) {
	results := []*model.SearchResult{
		result("doc-a", 0, 0.9, "alpha beta gamma"),
		result("doc-a", 1, 0.8, "beta gamma delta"),
	}
	a := newAssembler(t, assembler.WithOverlapStrategy(types.OverlapTruncate))
	_, err := a.Assemble(context.Background(), results, "q")
	gt.NoError(t, err).Required()
	gt.Value(t, results[1].Chunk.Content).Equal("beta gamma delta")
}

func TestAssemble_OverlapStrategies(t *testing.T) {
	results := func() []*model.SearchResult {
		return []*model.SearchResult{
			result("doc-a", 0, 0.9, "alpha beta gamma"),
			result("doc-a", 1, 0.8, "beta gamma delta"),
			result("doc-a", 2, 0.7, "epsilon zeta"),
			result("doc-b", 1, 0.6, "other document"),
		}
	}

	t.Run("remove drops chunks adjacent to a kept chunk", func(t *testing.T) {
		out, err := newAssembler(t).Assemble(context.Background(), results(), "q")
		gt.NoError(t, err).Required()
		gt.Number(t, out.UsedChunks).Equal(3)
		var ids []model.ChunkID
		for _, r := range out.Chunks {
			ids = append(ids, r.Chunk.ID)
		}
		gt.Value(t, ids).Equal([]model.ChunkID{"doc-a-0", "doc-a-2", "doc-b-1"})
	})

	t.Run("truncate strips shared text", func(t *testing.T) {
		a := newAssembler(t, assembler.WithOverlapStrategy(types.OverlapTruncate))
		out, err := a.Assemble(context.Background(), results(), "q")
		gt.NoError(t, err).Required()
		gt.Number(t, out.UsedChunks).Equal(4)
		gt.Value(t, out.Chunks[1].Chunk.Content).Equal("delta")
		gt.Value(t, out.Chunks[2].Chunk.Content).Equal("epsilon zeta")
	})

	t.Run("keep leaves chunks untouched", func(t *testing.T) {
		a := newAssembler(t, assembler.WithOverlapStrategy(types.OverlapKeep))
		out, err := a.Assemble(context.Background(), results(), "q")
		gt.NoError(t, err).Required()
		gt.Number(t, out.UsedChunks).Equal(4)
		gt.Value(t, out.Chunks[1].Chunk.Content).Equal("beta gamma delta")
	})
}

func TestAssemble_Prioritize(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := result("doc-old", 0, 0.95, "old but similar")
	old.Chunk.CreatedAt = now.Add(-365 * 24 * time.Hour)
	mid := result("doc-mid", 0, 0.80, "middle")
	mid.Chunk.CreatedAt = now.Add(-30 * 24 * time.Hour)
	fresh := result("doc-new", 0, 0.75, "fresh but less similar")
	fresh.Chunk.CreatedAt = now

	order := func(out *model.AssembledContext) []model.DocumentID {
		var ids []model.DocumentID
		for _, s := range out.Sources {
			ids = append(ids, s.DocumentID)
		}
		return ids
	}

	t.Run("similarity", func(t *testing.T) {
		out, err := newAssembler(t).Assemble(context.Background(), []*model.SearchResult{fresh, mid, old}, "q")
		gt.NoError(t, err).Required()
		gt.Value(t, order(out)).Equal([]model.DocumentID{"doc-old", "doc-mid", "doc-new"})
	})

	t.Run("recency", func(t *testing.T) {
		a := newAssembler(t, assembler.WithPrioritizeStrategy(types.PrioritizeRecency))
		out, err := a.Assemble(context.Background(), []*model.SearchResult{old, fresh, mid}, "q")
		gt.NoError(t, err).Required()
		gt.Value(t, order(out)).Equal([]model.DocumentID{"doc-new", "doc-mid", "doc-old"})
	})

	t.Run("combined", func(t *testing.T) {
		// old: 0.7*0.95 + 0 = 0.665, mid: 0.7*0.80 + 0.3*0.918 = 0.835, new: 0.7*0.75 + 0.3 = 0.825
		a := newAssembler(t, assembler.WithPrioritizeStrategy(types.PrioritizeCombined))
		out, err := a.Assemble(context.Background(), []*model.SearchResult{old, fresh, mid}, "q")
		gt.NoError(t, err).Required()
		gt.Value(t, order(out)).Equal([]model.DocumentID{"doc-mid", "doc-new", "doc-old"})
	})
}

func TestAssemble_Formats(t *testing.T) {
	results := []*model.SearchResult{
		result("doc-a", 0, 0.9, "first"),
		result("doc-b", 0, 0.8, "second"),
	}

	t.Run("json", func(t *testing.T) {
		a := newAssembler(t, assembler.WithFormat(types.FormatJSON), assembler.WithIncludeMetadata(true))
		out, err := a.Assemble(context.Background(), results, "q")
		gt.NoError(t, err).Required()

		var docs []map[string]any
		gt.NoError(t, json.Unmarshal([]byte(out.Text), &docs)).Required()
		gt.Array(t, docs).Length(2)
		gt.Value(t, docs[0]["document_id"]).Equal("doc-a")
		gt.Value(t, docs[0]["document_type"]).Equal("txt")
	})

	t.Run("text", func(t *testing.T) {
		a := newAssembler(t, assembler.WithFormat(types.FormatText))
		out, err := a.Assemble(context.Background(), results, "q")
		gt.NoError(t, err).Required()
		gt.Value(t, out.Text).Equal("Document: Doc doc-a\nfirst\n\nDocument: Doc doc-b\nsecond")
	})

	t.Run("markdown with metadata", func(t *testing.T) {
		a := newAssembler(t, assembler.WithIncludeMetadata(true))
		out, err := a.Assemble(context.Background(), results[:1], "q")
		gt.NoError(t, err).Required()
		gt.Value(t, out.Text).Equal("## Doc doc-a\n> Type: txt | Relevance: 0.90\n\nfirst")
	})
}

func TestAssemble_CounterFailure(t *testing.T) {
	a, err := assembler.New(&wordCounter{err: errors.New("tokenizer down")})
	gt.NoError(t, err).Required()

	_, err = a.Assemble(context.Background(), []*model.SearchResult{result("doc-a", 0, 0.9, "x")}, "q")
	gt.Error(t, err).Is(model.ErrContextAssembly)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := assembler.New(&wordCounter{}, assembler.WithMaxTokens(100), assembler.WithReservedTokens(100))
	gt.Error(t, err).Is(model.ErrContextAssembly)

	_, err = assembler.New(&wordCounter{}, assembler.WithFormat("yaml"))
	gt.Error(t, err).Is(model.ErrContextAssembly)

	_, err = assembler.New(nil)
	gt.Error(t, err).Is(model.ErrContextAssembly)
}

func TestAssemble_SectionsFollowDocuments(t *testing.T) {
	results := []*model.SearchResult{
		result("doc-a", 0, 0.9, "## Setup\nInstall the agent.\n> note: root only\n---"),
		result("doc-b", 0, 0.8, "Rotate keys monthly."),
	}

	for _, format := range []types.FormatType{types.FormatMarkdown, types.FormatText} {
		t.Run(format.String(), func(t *testing.T) {
			a := newAssembler(t, assembler.WithFormat(format))
			out, err := a.Assemble(context.Background(), results, "q")
			gt.NoError(t, err).Required()
			gt.A(t, out.Sections).Length(2).Required()

			lines := strings.Split(out.Text, "\n")
			content := func(sec model.ContextSection) string {
				return strings.Join(lines[sec.ContentStart:sec.ContentEnd], "\n")
			}
			gt.Value(t, out.Sections[0].DocumentID).Equal(model.DocumentID("doc-a"))
			gt.Value(t, content(out.Sections[0])).Equal("## Setup\nInstall the agent.\n> note: root only\n---")
			gt.Value(t, out.Sections[1].DocumentID).Equal(model.DocumentID("doc-b"))
			gt.Value(t, content(out.Sections[1])).Equal("Rotate keys monthly.")
		})
	}

	t.Run("json has no sections", func(t *testing.T) {
		a := newAssembler(t, assembler.WithFormat(types.FormatJSON))
		out, err := a.Assemble(context.Background(), results, "q")
		gt.NoError(t, err).Required()
		gt.A(t, out.Sections).Length(0)
	})
}
