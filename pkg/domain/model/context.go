package model

// Source is a document referenced by an assembled context
type Source struct {
	DocumentID   DocumentID `json:"document_id"`
	Title        string     `json:"title"`
	DocumentType string     `json:"document_type,omitempty"`
	ChunkID      ChunkID    `json:"chunk_id"`
	ChunkIndex   int        `json:"chunk_index"`
	Similarity   float64    `json:"similarity"`
}

// AssembledContext is the token-budgeted context handed to the prompt formatter
type AssembledContext struct {
	Text        string
	Sources     []Source
	TokenCount  int
	TotalChunks int
	UsedChunks  int
	Chunks      []*SearchResult
	// Sections is empty for the json format
	Sections []ContextSection
}

// ContextSection locates the content lines of one document in AssembledContext.Text.
// Line numbers are zero-based and ContentEnd is exclusive. Sections follow the order
// of Sources.
type ContextSection struct {
	DocumentID   DocumentID
	ContentStart int
	ContentEnd   int
}

// FormattedPrompt is the rendered system and user message pair
type FormattedPrompt struct {
	SystemMessage string
	UserMessage   string
	Sources       []Source
}
