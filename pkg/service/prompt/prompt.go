package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// RefusalMessage is the exact answer required from the rag prompt when the context
// is insufficient.
const RefusalMessage = "I don't have enough information in the provided documents to answer this question."

// SourcesLinePrefix starts the trailing line the model is asked to emit
const SourcesLinePrefix = "Primary Sources:"

//go:embed prompt/*.md
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "prompt/*.md"))

// Formatter renders system and user messages from an assembled context
type Formatter struct {
	promptType types.PromptType
	citation   types.CitationStyle
}

// Option is a functional option for Formatter
type Option func(*Formatter)

// WithPromptType selects the template family
func WithPromptType(t types.PromptType) Option {
	return func(f *Formatter) {
		f.promptType = t
	}
}

// WithCitationStyle places source references inline or after the context
func WithCitationStyle(s types.CitationStyle) Option {
	return func(f *Formatter) {
		f.citation = s
	}
}

// New creates a Formatter. The default is the rag prompt with inline citations.
func New(opts ...Option) (*Formatter, error) {
	f := &Formatter{
		promptType: types.PromptRAG,
		citation:   types.CitationInline,
	}
	for _, opt := range opts {
		opt(f)
	}
	if !f.promptType.IsValid() {
		return nil, goerr.New("invalid prompt type", goerr.V("prompt_type", f.promptType))
	}
	if !f.citation.IsValid() {
		return nil, goerr.New("invalid citation style", goerr.V("citation_style", f.citation))
	}
	return f, nil
}

// With returns a copy of the formatter with opts applied
func (f *Formatter) With(opts ...Option) (*Formatter, error) {
	copied := *f
	for _, opt := range opts {
		opt(&copied)
	}
	if !copied.promptType.IsValid() || !copied.citation.IsValid() {
		return nil, goerr.New("invalid formatter option",
			goerr.V("prompt_type", copied.promptType), goerr.V("citation_style", copied.citation))
	}
	return &copied, nil
}

// PromptType returns the configured template family
func (f *Formatter) PromptType() types.PromptType {
	return f.promptType
}

type sourceEntry struct {
	Number     int
	Title      string
	DocumentID model.DocumentID
}

type instructionData struct {
	Sources      []sourceEntry
	Inline       bool
	EndCitations bool
}

// Format builds the prompt for query. {context} and {query} in the templates are
// replaced verbatim.
func (f *Formatter) Format(query string, assembled *model.AssembledContext) (*model.FormattedPrompt, error) {
	if assembled == nil {
		assembled = &model.AssembledContext{}
	}

	system, err := f.execute(f.promptType.String()+"_system.md", map[string]string{"Refusal": RefusalMessage})
	if err != nil {
		return nil, err
	}
	userTmpl, err := f.execute(f.promptType.String()+"_user.md", nil)
	if err != nil {
		return nil, err
	}

	contextText := assembled.Text
	if f.citation == types.CitationInline {
		contextText = AddInlineCitations(contextText, assembled.Sections)
	}

	entries := make([]sourceEntry, len(assembled.Sources))
	for i, s := range assembled.Sources {
		entries[i] = sourceEntry{Number: i + 1, Title: s.Title, DocumentID: s.DocumentID}
	}
	instructions, err := f.execute("instructions.md", instructionData{
		Sources:      entries,
		Inline:       f.citation == types.CitationInline && len(entries) > 0,
		EndCitations: f.citation == types.CitationEnd && len(entries) > 0,
	})
	if err != nil {
		return nil, err
	}

	user := strings.NewReplacer("{context}", contextText, "{query}", query).Replace(userTmpl)
	user = strings.TrimRight(user, "\n") + "\n\n" + strings.TrimSpace(instructions)

	return &model.FormattedPrompt{
		SystemMessage: strings.TrimSpace(system),
		UserMessage:   user,
		Sources:       assembled.Sources,
	}, nil
}

func (f *Formatter) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt template", goerr.V("template", name))
	}
	return buf.String(), nil
}

// AddInlineCitations appends a [n] marker to every non-blank content line of the
// n-th section. Lines outside any section are left as they are.
func AddInlineCitations(text string, sections []model.ContextSection) string {
	lines := strings.Split(text, "\n")
	for n, sec := range sections {
		for i := max(sec.ContentStart, 0); i < min(sec.ContentEnd, len(lines)); i++ {
			if strings.TrimSpace(lines[i]) == "" {
				continue
			}
			lines[i] = fmt.Sprintf("%s [%d]", lines[i], n+1)
		}
	}
	return strings.Join(lines, "\n")
}
