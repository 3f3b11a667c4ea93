package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

// nearDuplicateOverlap is the token-overlap ratio above which two chunks are
// collapsed even when their text is not byte-identical.
const nearDuplicateOverlap = 0.9

// Deduplicate collapses near-duplicate chunks inside one result list,
// keeping the instance with the smallest distance. Identical chunk IDs and
// identical text always collapse; otherwise a lightweight token-overlap
// heuristic decides. Output length is never greater than input length and
// every kept result retains its corpus tag.
func Deduplicate(results []domain.RetrievalResult) []domain.RetrievalResult {
	if len(results) <= 1 {
		return results
	}

	ordered := make([]domain.RetrievalResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Distance != ordered[j].Distance {
			return ordered[i].Distance < ordered[j].Distance
		}
		return ordered[i].ChunkID < ordered[j].ChunkID
	})

	kept := make([]domain.RetrievalResult, 0, len(ordered))
	keptTokens := make([]map[string]struct{}, 0, len(ordered))
	seenIDs := make(map[string]struct{}, len(ordered))

	for _, candidate := range ordered {
		if candidate.ChunkID != "" {
			if _, dup := seenIDs[candidate.ChunkID]; dup {
				continue
			}
		}
		tokens := toTokenSet(candidate.Text)
		duplicate := false
		for i, existing := range kept {
			if existing.Text == candidate.Text {
				duplicate = true
				break
			}
			if tokenOverlap(tokens, keptTokens[i]) >= nearDuplicateOverlap {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, candidate)
		keptTokens = append(keptTokens, tokens)
		if candidate.ChunkID != "" {
			seenIDs[candidate.ChunkID] = struct{}{}
		}
	}
	return kept
}

// MergeRanked orders deduplicated general results and appends hospital
// results as their own block, so distances from different vector spaces are
// never compared. With emergencyFirst the general block is grouped
// emergency-then-treatment, each ascending by distance; otherwise the
// general block is a single ascending list.
func MergeRanked(general, hospital []domain.RetrievalResult, emergencyFirst bool) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, 0, len(general)+len(hospital))

	if emergencyFirst {
		out = append(out, sortedByDistance(filterCorpus(general, domain.CorpusEmergency))...)
		out = append(out, sortedByDistance(filterCorpus(general, domain.CorpusTreatment))...)
	} else {
		out = append(out, sortedByDistance(general)...)
	}
	out = append(out, sortedByDistance(hospital)...)
	return out
}

func filterCorpus(results []domain.RetrievalResult, corpus domain.CorpusType) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Corpus == corpus {
			out = append(out, r)
		}
	}
	return out
}

func sortedByDistance(results []domain.RetrievalResult) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	matches := 0
	for token := range small {
		if _, ok := large[token]; ok {
			matches++
		}
	}
	union := len(a) + len(b) - matches
	if union == 0 {
		return 0
	}
	return float64(matches) / float64(union)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
