package prompt_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/assembler"
	"github.com/secmon-lab/mnemosyne/pkg/service/prompt"
)

type wordCounter struct{}

func (wordCounter) CountTokens(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func assembled() *model.AssembledContext {
	return &model.AssembledContext{
		Text: "## Runbook\n> Type: md | Relevance: 0.90\n\nRestart the service.\nCheck the logs.\n\n---\n\n## Postmortem\n\nThe outage lasted 2 hours.",
		Sources: []model.Source{
			{DocumentID: "doc-runbook", Title: "Runbook"},
			{DocumentID: "doc-pm", Title: "Postmortem"},
		},
		Sections: []model.ContextSection{
			{DocumentID: "doc-runbook", ContentStart: 3, ContentEnd: 5},
			{DocumentID: "doc-pm", ContentStart: 10, ContentEnd: 11},
		},
	}
}

func TestAddInlineCitations(t *testing.T) {
	a := assembled()
	got := prompt.AddInlineCitations(a.Text, a.Sections)
	want := "## Runbook\n> Type: md | Relevance: 0.90\n\nRestart the service. [1]\nCheck the logs. [1]\n\n---\n\n## Postmortem\n\nThe outage lasted 2 hours. [2]"
	gt.Value(t, got).Equal(want)
}

func TestAddInlineCitations_TextFormat(t *testing.T) {
	sections := []model.ContextSection{
		{DocumentID: "a", ContentStart: 1, ContentEnd: 2},
		{DocumentID: "b", ContentStart: 4, ContentEnd: 5},
	}
	got := prompt.AddInlineCitations("Document: A\nline one\n\nDocument: B\nline two", sections)
	gt.Value(t, got).Equal("Document: A\nline one [1]\n\nDocument: B\nline two [2]")
}

func TestAddInlineCitations_MarkdownInsideContent(t *testing.T) {
	asm, err := assembler.New(wordCounter{})
	gt.NoError(t, err).Required()
	out, err := asm.Assemble(context.Background(), []*model.SearchResult{
		{
			Chunk:         &model.Chunk{ID: "a-0", DocumentID: "doc-a", Content: "## Setup\nInstall the agent.\n> note: root only"},
			Similarity:    0.9,
			DocumentTitle: "Agent guide",
		},
		{
			Chunk:         &model.Chunk{ID: "b-0", DocumentID: "doc-b", Content: "Rotate keys monthly."},
			Similarity:    0.8,
			DocumentTitle: "Key policy",
		},
	}, "q")
	gt.NoError(t, err).Required()

	got := prompt.AddInlineCitations(out.Text, out.Sections)
	gt.String(t, got).Contains("## Setup [1]\nInstall the agent. [1]\n> note: root only [1]")
	gt.String(t, got).Contains("Rotate keys monthly. [2]")
	gt.String(t, got).NotContains("[3]")
	gt.String(t, got).Contains("## Agent guide\n")
	gt.String(t, got).Contains("## Key policy\n")
}

func TestFormat_RAGDefault(t *testing.T) {
	f, err := prompt.New()
	gt.NoError(t, err).Required()

	p, err := f.Format("How do I recover?", assembled())
	gt.NoError(t, err).Required()

	gt.String(t, p.SystemMessage).Contains(prompt.RefusalMessage)
	gt.String(t, p.UserMessage).Contains("Restart the service. [1]")
	gt.String(t, p.UserMessage).Contains("The outage lasted 2 hours. [2]")
	gt.String(t, p.UserMessage).Contains("Question: How do I recover?")
	gt.String(t, p.UserMessage).Contains("[2] document ID: doc-pm")
	gt.String(t, p.UserMessage).Contains(prompt.SourcesLinePrefix)
	gt.Array(t, p.Sources).Length(2)
}

func TestFormat_EndCitations(t *testing.T) {
	f, err := prompt.New(prompt.WithCitationStyle(types.CitationEnd))
	gt.NoError(t, err).Required()

	p, err := f.Format("q", assembled())
	gt.NoError(t, err).Required()
	gt.B(t, strings.Contains(p.UserMessage, "[1]\n")).False()
	gt.String(t, p.UserMessage).Contains("Restart the service.\nCheck the logs.")
	gt.String(t, p.UserMessage).Contains("Sources:\n[1] Runbook (document ID: doc-runbook)\n[2] Postmortem (document ID: doc-pm)")
}

func TestFormat_PromptTypes(t *testing.T) {
	for _, pt := range []types.PromptType{types.PromptQA, types.PromptSummary, types.PromptAnalysis} {
		t.Run(pt.String(), func(t *testing.T) {
			f, err := prompt.New(prompt.WithPromptType(pt))
			gt.NoError(t, err).Required()

			p, err := f.Format("deployment risks", assembled())
			gt.NoError(t, err).Required()
			gt.B(t, strings.Contains(p.SystemMessage, prompt.RefusalMessage)).False()
			gt.String(t, p.UserMessage).Contains("deployment risks")
			gt.String(t, p.UserMessage).Contains("Restart the service. [1]")
		})
	}
}

func TestFormat_VerbatimSubstitution(t *testing.T) {
	f, err := prompt.New(prompt.WithCitationStyle(types.CitationEnd))
	gt.NoError(t, err).Required()

	ctx := &model.AssembledContext{Text: "## Notes\n\nliteral {query} and {{ .X }}"}
	p, err := f.Format("<b>&</b>", ctx)
	gt.NoError(t, err).Required()
	gt.String(t, p.UserMessage).Contains("literal {query} and {{ .X }}")
	gt.String(t, p.UserMessage).Contains("Question: <b>&</b>")
}

func TestFormat_EmptyContext(t *testing.T) {
	f, err := prompt.New()
	gt.NoError(t, err).Required()

	p, err := f.Format("anything", nil)
	gt.NoError(t, err).Required()
	gt.String(t, p.UserMessage).Contains("Primary Sources:")
	gt.Array(t, p.Sources).Length(0)
}

func TestNew_Invalid(t *testing.T) {
	_, err := prompt.New(prompt.WithPromptType("poem"))
	gt.Error(t, err)
	_, err = prompt.New(prompt.WithCitationStyle("footnote"))
	gt.Error(t, err)
}
