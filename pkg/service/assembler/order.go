package assembler

import (
	"slices"
	"strings"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

const (
	similarityWeight = 0.7
	recencyWeight    = 0.3
)

func prioritize(results []*model.SearchResult, strategy types.PrioritizeStrategy) []*model.SearchResult {
	ordered := slices.Clone(results)

	switch strategy {
	case types.PrioritizeRecency:
		slices.SortStableFunc(ordered, func(x, y *model.SearchResult) int {
			return y.Recency().Compare(x.Recency())
		})

	case types.PrioritizeCombined:
		scores := combinedScores(ordered)
		slices.SortStableFunc(ordered, func(x, y *model.SearchResult) int {
			return compareDesc(scores[x], scores[y])
		})

	default:
		slices.SortStableFunc(ordered, func(x, y *model.SearchResult) int {
			return compareDesc(x.Similarity, y.Similarity)
		})
	}
	return ordered
}

// combinedScores weights similarity with recency rescaled to [0,1] over the set
func combinedScores(results []*model.SearchResult) map[*model.SearchResult]float64 {
	oldest, newest := results[0].Recency(), results[0].Recency()
	for _, r := range results[1:] {
		t := r.Recency()
		if t.Before(oldest) {
			oldest = t
		}
		if t.After(newest) {
			newest = t
		}
	}
	span := newest.Sub(oldest)

	scores := make(map[*model.SearchResult]float64, len(results))
	for _, r := range results {
		recency := 1.0
		if span > 0 {
			recency = float64(r.Recency().Sub(oldest)) / float64(span)
		}
		scores[r] = similarityWeight*r.Similarity + recencyWeight*recency
	}
	return scores
}

func compareDesc(x, y float64) int {
	switch {
	case x > y:
		return -1
	case x < y:
		return 1
	}
	return 0
}

// deOverlap handles index-adjacent chunks of the same document and returns the
// surviving results in their original order.
func deOverlap(ordered []*model.SearchResult, strategy types.OverlapStrategy) []*model.SearchResult {
	if strategy == types.OverlapKeep {
		return ordered
	}

	groups := make(map[model.DocumentID][]*model.SearchResult)
	for _, r := range ordered {
		docID := r.Chunk.DocumentID
		groups[docID] = append(groups[docID], r)
	}

	drop := make(map[*model.SearchResult]bool)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		byIndex := slices.Clone(group)
		slices.SortStableFunc(byIndex, func(x, y *model.SearchResult) int {
			return x.Chunk.ChunkIndex - y.Chunk.ChunkIndex
		})

		switch strategy {
		case types.OverlapRemove:
			last := byIndex[0]
			for _, r := range byIndex[1:] {
				if r.Chunk.ChunkIndex-last.Chunk.ChunkIndex == 1 {
					drop[r] = true
					continue
				}
				last = r
			}

		case types.OverlapTruncate:
			// compare against original content so a chain of adjacent chunks is
			// trimmed pairwise
			originals := make([]string, len(byIndex))
			for i, r := range byIndex {
				originals[i] = r.Chunk.Content
			}
			for i := 1; i < len(byIndex); i++ {
				if byIndex[i].Chunk.ChunkIndex-byIndex[i-1].Chunk.ChunkIndex != 1 {
					continue
				}
				n := overlapLength(originals[i-1], originals[i])
				if n == 0 {
					continue
				}
				trimmed := strings.TrimSpace(originals[i][n:])
				if trimmed == "" {
					drop[byIndex[i]] = true
					continue
				}
				byIndex[i].Chunk.Content = trimmed
			}
		}
	}

	kept := make([]*model.SearchResult, 0, len(ordered))
	for _, r := range ordered {
		if !drop[r] {
			kept = append(kept, r)
		}
	}
	return kept
}

// overlapLength returns the byte length of the longest suffix of prev that is also
// a prefix of cur.
func overlapLength(prev, cur string) int {
	maxLen := min(len(prev), len(cur))
	for n := maxLen; n > 0; n-- {
		if strings.HasSuffix(prev, cur[:n]) {
			return n
		}
	}
	return 0
}

func trimRunes(r []rune) string {
	return strings.TrimSpace(string(r))
}
