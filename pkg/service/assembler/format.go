package assembler

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Line markers of the markdown and text formats
const (
	MarkdownHeadingPrefix  = "## "
	MarkdownMetadataPrefix = "> "
	MarkdownSeparator      = "---"
	TextHeadingPrefix      = "Document: "
	TextMetadataPrefix     = "Metadata: "

	untitled = "Untitled"
)

type documentGroup struct {
	first  *model.SearchResult
	chunks []*model.SearchResult
}

// groupByDocument keeps documents in first-seen order and chunks in index order
func groupByDocument(selected []*model.SearchResult) []*documentGroup {
	index := make(map[model.DocumentID]*documentGroup)
	var groups []*documentGroup
	for _, r := range selected {
		g, ok := index[r.Chunk.DocumentID]
		if !ok {
			g = &documentGroup{first: r}
			index[r.Chunk.DocumentID] = g
			groups = append(groups, g)
		}
		g.chunks = append(g.chunks, r)
	}
	for _, g := range groups {
		slices.SortStableFunc(g.chunks, func(x, y *model.SearchResult) int {
			return x.Chunk.ChunkIndex - y.Chunk.ChunkIndex
		})
	}
	return groups
}

func (a *Assembler) render(selected []*model.SearchResult) (string, []model.ContextSection, error) {
	groups := groupByDocument(selected)
	switch a.format {
	case types.FormatJSON:
		text, err := renderJSON(groups, a.includeMetadata)
		return text, nil, err
	case types.FormatText:
		text, sections := renderText(groups, a.includeMetadata)
		return text, sections, nil
	default:
		text, sections := renderMarkdown(groups, a.includeMetadata)
		return text, sections, nil
	}
}

// lineWriter joins lines with newlines and records where each document's content
// lands in the result
type lineWriter struct {
	lines    []string
	sections []model.ContextSection
}

func (w *lineWriter) add(lines ...string) {
	w.lines = append(w.lines, lines...)
}

func (w *lineWriter) content(docID model.DocumentID, text string) {
	start := len(w.lines)
	w.add(strings.Split(text, "\n")...)
	w.sections = append(w.sections, model.ContextSection{
		DocumentID:   docID,
		ContentStart: start,
		ContentEnd:   len(w.lines),
	})
}

func (w *lineWriter) String() string {
	return strings.Join(w.lines, "\n")
}

func renderMarkdown(groups []*documentGroup, withMeta bool) (string, []model.ContextSection) {
	var w lineWriter
	for i, g := range groups {
		if i > 0 {
			w.add("", MarkdownSeparator, "")
		}
		w.add(MarkdownHeadingPrefix + title(g.first))
		if withMeta {
			w.add(MarkdownMetadataPrefix + metadataLine(g))
		}
		w.add("")
		w.content(g.first.Chunk.DocumentID, joinContent(g.chunks))
	}
	return w.String(), w.sections
}

func renderText(groups []*documentGroup, withMeta bool) (string, []model.ContextSection) {
	var w lineWriter
	for i, g := range groups {
		if i > 0 {
			w.add("")
		}
		w.add(TextHeadingPrefix + title(g.first))
		if withMeta {
			w.add(TextMetadataPrefix + metadataLine(g))
		}
		w.content(g.first.Chunk.DocumentID, joinContent(g.chunks))
	}
	return w.String(), w.sections
}

type jsonChunk struct {
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity,omitempty"`
}

type jsonDocument struct {
	DocumentID   model.DocumentID `json:"document_id"`
	Title        string           `json:"title"`
	DocumentType string           `json:"document_type,omitempty"`
	SourceType   string           `json:"source_type,omitempty"`
	UpdatedAt    string           `json:"updated_at,omitempty"`
	Chunks       []jsonChunk      `json:"chunks"`
}

func renderJSON(groups []*documentGroup, withMeta bool) (string, error) {
	docs := make([]jsonDocument, 0, len(groups))
	for _, g := range groups {
		doc := jsonDocument{
			DocumentID: g.first.Chunk.DocumentID,
			Title:      title(g.first),
		}
		if withMeta {
			doc.DocumentType = g.first.DocumentType
			doc.SourceType = g.first.SourceType.String()
			if !g.first.DocumentUpdatedAt.IsZero() {
				doc.UpdatedAt = g.first.DocumentUpdatedAt.UTC().Format("2006-01-02")
			}
		}
		for _, r := range g.chunks {
			c := jsonChunk{ChunkIndex: r.Chunk.ChunkIndex, Content: r.Chunk.Content}
			if withMeta {
				c.Similarity = r.Similarity
			}
			doc.Chunks = append(doc.Chunks, c)
		}
		docs = append(docs, doc)
	}

	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", goerr.Wrap(model.ErrContextAssembly, "failed to encode context as JSON", goerr.V("cause", err.Error()))
	}
	return string(raw), nil
}

func title(r *model.SearchResult) string {
	if t := strings.TrimSpace(r.DocumentTitle); t != "" {
		return t
	}
	return untitled
}

func metadataLine(g *documentGroup) string {
	parts := make([]string, 0, 3)
	if g.first.DocumentType != "" {
		parts = append(parts, "Type: "+g.first.DocumentType)
	}
	best := 0.0
	for _, r := range g.chunks {
		best = max(best, r.Similarity)
	}
	parts = append(parts, fmt.Sprintf("Relevance: %.2f", best))
	if !g.first.DocumentUpdatedAt.IsZero() {
		parts = append(parts, "Updated: "+g.first.DocumentUpdatedAt.UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, " | ")
}

func joinContent(chunks []*model.SearchResult) string {
	parts := make([]string, 0, len(chunks))
	for _, r := range chunks {
		if c := strings.TrimSpace(r.Chunk.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}
