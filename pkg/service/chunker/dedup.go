package chunker

import (
	"crypto/sha256"
	"strings"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// Deduplicate drops chunks whose content equals an earlier chunk after lowercasing
// and collapsing whitespace. Only exact matches are removed; similarityThreshold is
// accepted for API compatibility and not used. Survivors are renumbered so that
// ChunkIndex stays contiguous; renumbered chunks are copies.
func Deduplicate(chunks []*model.Chunk, similarityThreshold float64) []*model.Chunk {
	seen := make(map[[sha256.Size]byte]struct{}, len(chunks))
	result := make([]*model.Chunk, 0, len(chunks))

	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		key := sha256.Sum256([]byte(normalizeForHash(chunk.Content)))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if chunk.ChunkIndex != len(result) {
			chunk = chunk.Copy()
			chunk.ChunkIndex = len(result)
			if chunk.Metadata != nil {
				chunk.Metadata[model.ChunkMetaIndex] = chunk.ChunkIndex
			}
		}
		result = append(result, chunk)
	}

	return result
}

func normalizeForHash(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
