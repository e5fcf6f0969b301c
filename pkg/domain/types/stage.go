package types

// Stage is a pipeline phase used to attribute failures
type Stage string

// Ingestion stages
const (
	StageExtraction Stage = "extraction"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageStorage    Stage = "storage"
)

// Query stages
const (
	StageSearch     Stage = "search"
	StageAssembly   Stage = "assembly"
	StageFormatting Stage = "formatting"
	StageGeneration Stage = "generation"
)

// IsIngestion reports whether s belongs to the document ingestion pipeline
func (s Stage) IsIngestion() bool {
	switch s {
	case StageExtraction, StageChunking, StageEmbedding, StageStorage:
		return true
	}
	return false
}

// IsQuery reports whether s belongs to the query pipeline
func (s Stage) IsQuery() bool {
	switch s {
	case StageSearch, StageAssembly, StageFormatting, StageGeneration:
		return true
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

// EmbeddingTask hints the embedding provider about how the vector will be used
type EmbeddingTask string

const (
	EmbeddingTaskDocument EmbeddingTask = "retrieval_document"
	EmbeddingTaskQuery    EmbeddingTask = "retrieval_query"
)
