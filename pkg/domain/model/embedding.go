package model

// DefaultEmbeddingModel is used when no model is configured
const DefaultEmbeddingModel = "text-embedding-004"

// EmbeddingDimension is the dimension of DefaultEmbeddingModel. Vector indexes are
// created with this size.
const EmbeddingDimension = 768

var embeddingDimensions = map[string]int{
	"text-embedding-004":              768,
	"text-embedding-005":              768,
	"text-multilingual-embedding-002": 768,
	"gemini-embedding-001":            768,
	"text-embedding-3-small":          1536,
	"text-embedding-3-large":          3072,
	"text-embedding-ada-002":          1536,
}

// EmbeddingDimensionOf returns the fixed vector size of a model. Unknown models fall
// back to EmbeddingDimension.
func EmbeddingDimensionOf(model string) int {
	if d, ok := embeddingDimensions[model]; ok {
		return d
	}
	return EmbeddingDimension
}
