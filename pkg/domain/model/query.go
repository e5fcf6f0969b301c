package model

import (
	"strings"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Role of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of prior conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Query is a natural-language question from a user
type Query struct {
	Text    string
	UserID  string
	History []Message
	Search  SearchOptions
}

// CacheKey normalizes the query text and scopes it by user
func (q Query) CacheKey() string {
	return q.UserID + ":" + strings.ToLower(strings.TrimSpace(q.Text))
}

// GenerateInput is a request to the LLM provider
type GenerateInput struct {
	SystemPrompt string
	Prompt       string
	History      []Message
	Temperature  float64
	MaxTokens    int
}

// TokenUsage counts tokens of one generation
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generation is the typed result of an LLM call
type Generation struct {
	Text  string
	Usage TokenUsage
}

// StageTimings records wall-clock duration per query stage
type StageTimings map[types.Stage]time.Duration

// QueryMetadata describes how a QueryResult was produced
type QueryMetadata struct {
	CacheHit      bool          `json:"cache_hit"`
	Timings       StageTimings  `json:"timings"`
	TotalDuration time.Duration `json:"total_duration"`
	Usage         TokenUsage    `json:"usage"`
	TotalChunks   int           `json:"total_chunks"`
	UsedChunks    int           `json:"used_chunks"`
	ContextTokens int           `json:"context_tokens"`
	PromptType    string        `json:"prompt_type"`
}

// QueryDebug holds intermediate artifacts, attached only in debug mode
type QueryDebug struct {
	SearchResults   []*SearchResult   `json:"search_results"`
	Context         *AssembledContext `json:"context"`
	Prompt          *FormattedPrompt  `json:"prompt"`
	RawResponseText string            `json:"raw_response_text"`
}

// QueryResult is the answer to a query
type QueryResult struct {
	Answer   string           `json:"answer"`
	Sources  []ResponseSource `json:"sources"`
	Metadata QueryMetadata    `json:"metadata"`
	Debug    *QueryDebug      `json:"debug,omitempty"`
}

// ResponseSource is a display-ready citation
type ResponseSource struct {
	DocumentID DocumentID `json:"document_id"`
	ChunkID    ChunkID    `json:"chunk_id"`
	Title      string     `json:"title"`
	ChunkIndex int        `json:"chunk_index"`
	Snippet    string     `json:"snippet"`
	Similarity float64    `json:"similarity"`
}

// ProcessedResponse is the LLM answer with its citation line resolved
type ProcessedResponse struct {
	Text    string
	Sources []ResponseSource
}
