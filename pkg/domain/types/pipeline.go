package types

import "fmt"

// ChunkStrategy selects how text is split into chunks
type ChunkStrategy string

const (
	ChunkStrategyFixed     ChunkStrategy = "fixed"
	ChunkStrategyParagraph ChunkStrategy = "paragraph"
	ChunkStrategySemantic  ChunkStrategy = "semantic"
)

func (s ChunkStrategy) IsValid() bool {
	switch s {
	case ChunkStrategyFixed, ChunkStrategyParagraph, ChunkStrategySemantic:
		return true
	}
	return false
}

func (s ChunkStrategy) String() string { return string(s) }

func ParseChunkStrategy(s string) (ChunkStrategy, error) {
	v := ChunkStrategy(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid chunk strategy: %s", s)
	}
	return v, nil
}

// OverlapStrategy controls how index-adjacent chunks of one document are combined
type OverlapStrategy string

const (
	OverlapRemove   OverlapStrategy = "remove"
	OverlapKeep     OverlapStrategy = "keep"
	OverlapTruncate OverlapStrategy = "truncate"
)

func (s OverlapStrategy) IsValid() bool {
	switch s {
	case OverlapRemove, OverlapKeep, OverlapTruncate:
		return true
	}
	return false
}

func (s OverlapStrategy) String() string { return string(s) }

func ParseOverlapStrategy(s string) (OverlapStrategy, error) {
	v := OverlapStrategy(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid overlap strategy: %s", s)
	}
	return v, nil
}

// PrioritizeStrategy orders search results before packing
type PrioritizeStrategy string

const (
	PrioritizeSimilarity PrioritizeStrategy = "similarity"
	PrioritizeRecency    PrioritizeStrategy = "recency"
	PrioritizeCombined   PrioritizeStrategy = "combined"
)

func (s PrioritizeStrategy) IsValid() bool {
	switch s {
	case PrioritizeSimilarity, PrioritizeRecency, PrioritizeCombined:
		return true
	}
	return false
}

func (s PrioritizeStrategy) String() string { return string(s) }

func ParsePrioritizeStrategy(s string) (PrioritizeStrategy, error) {
	v := PrioritizeStrategy(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid prioritize strategy: %s", s)
	}
	return v, nil
}

// FormatType is the output format of assembled context
type FormatType string

const (
	FormatMarkdown FormatType = "markdown"
	FormatJSON     FormatType = "json"
	FormatText     FormatType = "text"
)

func (f FormatType) IsValid() bool {
	switch f {
	case FormatMarkdown, FormatJSON, FormatText:
		return true
	}
	return false
}

func (f FormatType) String() string { return string(f) }

func ParseFormatType(s string) (FormatType, error) {
	v := FormatType(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid format type: %s", s)
	}
	return v, nil
}

// PromptType selects a prompt template family
type PromptType string

const (
	PromptRAG      PromptType = "rag"
	PromptQA       PromptType = "qa"
	PromptSummary  PromptType = "summary"
	PromptAnalysis PromptType = "analysis"
)

func (p PromptType) IsValid() bool {
	switch p {
	case PromptRAG, PromptQA, PromptSummary, PromptAnalysis:
		return true
	}
	return false
}

func (p PromptType) String() string { return string(p) }

func ParsePromptType(s string) (PromptType, error) {
	v := PromptType(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid prompt type: %s", s)
	}
	return v, nil
}

// CitationStyle controls where source references are placed in the prompt
type CitationStyle string

const (
	CitationInline CitationStyle = "inline"
	CitationEnd    CitationStyle = "end"
)

func (c CitationStyle) IsValid() bool {
	return c == CitationInline || c == CitationEnd
}

func (c CitationStyle) String() string { return string(c) }

func ParseCitationStyle(s string) (CitationStyle, error) {
	v := CitationStyle(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid citation style: %s", s)
	}
	return v, nil
}
