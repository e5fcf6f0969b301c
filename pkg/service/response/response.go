package response

import (
	"fmt"
	"strings"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

const (
	// DefaultSnippetLength is the maximum number of characters of a source snippet
	DefaultSnippetLength = 150

	sourcesPrefix = "primary sources:"
)

// Processor resolves the citation line of an LLM answer into display-ready sources
type Processor struct {
	snippetLength int
}

// Option is a functional option for Processor
type Option func(*Processor)

// WithSnippetLength sets the maximum snippet length in runes
func WithSnippetLength(n int) Option {
	return func(p *Processor) {
		p.snippetLength = n
	}
}

// New creates a Processor
func New(opts ...Option) *Processor {
	p := &Processor{snippetLength: DefaultSnippetLength}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process strips the trailing "Primary Sources:" line from text and resolves its ids
// against the chunks used as context. An id matches a document when it equals or is
// a prefix of the document ID. A missing line or "None" yields no sources.
func (p *Processor) Process(text string, used []*model.SearchResult) *model.ProcessedResponse {
	body, ids, found := splitSourcesLine(text)
	out := &model.ProcessedResponse{Text: body}
	if !found {
		return out
	}

	seen := make(map[model.DocumentID]bool)
	for _, id := range ids {
		r := findByPrefix(used, id)
		if r == nil || seen[r.Chunk.DocumentID] {
			continue
		}
		seen[r.Chunk.DocumentID] = true
		out.Sources = append(out.Sources, p.toSource(r))
	}
	return out
}

// splitSourcesLine removes the last "Primary Sources:" line and returns the
// remaining text with the listed ids.
func splitSourcesLine(text string) (string, []string, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	at := -1
	var value string
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.Trim(strings.TrimSpace(lines[i]), "*_")
		if len(line) >= len(sourcesPrefix) && strings.EqualFold(line[:len(sourcesPrefix)], sourcesPrefix) {
			at = i
			value = strings.Trim(strings.TrimSpace(line[len(sourcesPrefix):]), "*_ ")
			break
		}
	}
	if at < 0 {
		return strings.TrimSpace(text), nil, false
	}

	body := strings.TrimSpace(strings.Join(append(lines[:at:at], lines[at+1:]...), "\n"))
	if value == "" || strings.EqualFold(strings.Trim(value, "."), "none") {
		return body, nil, true
	}

	var ids []string
	for _, part := range strings.Split(value, ",") {
		id := strings.Trim(strings.TrimSpace(part), "[]()`'\".")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return body, ids, true
}

func findByPrefix(used []*model.SearchResult, id string) *model.SearchResult {
	for _, r := range used {
		if r == nil || r.Chunk == nil {
			continue
		}
		if strings.HasPrefix(r.Chunk.DocumentID.String(), id) {
			return r
		}
	}
	return nil
}

func (p *Processor) toSource(r *model.SearchResult) model.ResponseSource {
	title := r.DocumentTitle
	if title == "" {
		title = "Untitled"
	}
	return model.ResponseSource{
		DocumentID: r.Chunk.DocumentID,
		ChunkID:    r.Chunk.ID,
		Title:      fmt.Sprintf("%s (Part %d)", title, r.Chunk.ChunkIndex+1),
		ChunkIndex: r.Chunk.ChunkIndex,
		Snippet:    snippet(r.Chunk.Content, p.snippetLength),
		Similarity: r.Similarity,
	}
}

func snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if n <= 0 || len(runes) <= n {
		return content
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
