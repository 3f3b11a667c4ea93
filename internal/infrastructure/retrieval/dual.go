// Package retrieval implements the search engines over the preprocessed
// guideline and hospital corpora.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/vecindex"
)

// DualEngine searches the emergency and treatment guideline indices. Both
// indices live in the same embedding space, so one query embedding serves
// both, and their results may be ranked against each other.
type DualEngine struct {
	embedder  ports.Embedder
	emergency *vecindex.Index
	treatment *vecindex.Index
}

func NewDualEngine(embedder ports.Embedder, emergency, treatment *vecindex.Index) *DualEngine {
	return &DualEngine{embedder: embedder, emergency: emergency, treatment: treatment}
}

var _ ports.GuidelineSearcher = (*DualEngine)(nil)

// Search embeds the concatenated keyword groups once and queries both
// corpora with that single vector, tagging every result with its origin. An
// empty group degenerates to the other group's text on its own.
func (e *DualEngine) Search(ctx context.Context, emergencyKeywords, treatmentKeywords string, k int) ([]domain.RetrievalResult, error) {
	parts := make([]string, 0, 2)
	for _, group := range []string{emergencyKeywords, treatmentKeywords} {
		if text := keywordText(group); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "guideline_search", domain.ErrRetrievalEmpty)
	}

	vec, err := e.embedder.EmbedQuery(ctx, strings.Join(parts, " "))
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed_keywords", err)
	}

	emergencyHits, err := e.emergency.Search(vec, k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search_emergency_index", err)
	}
	treatmentHits, err := e.treatment.Search(vec, k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search_treatment_index", err)
	}

	results := make([]domain.RetrievalResult, 0, len(emergencyHits)+len(treatmentHits))
	results = append(results, tagged(emergencyHits, domain.CorpusEmergency)...)
	results = append(results, tagged(treatmentHits, domain.CorpusTreatment)...)
	slog.Debug("guideline_search_done",
		"emergency_hits", len(emergencyHits),
		"treatment_hits", len(treatmentHits),
	)
	return results, nil
}

// SearchSlidingWindow runs the raw query against both corpora and returns the
// k globally nearest chunks, keeping corpus tags. Both corpora share one
// embedding space, so a global ranking is well defined here.
func (e *DualEngine) SearchSlidingWindow(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "sliding_window_search", domain.ErrRetrievalEmpty)
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed_query", err)
	}

	emergencyHits, err := e.emergency.Search(vec, k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search_emergency_index", err)
	}
	treatmentHits, err := e.treatment.Search(vec, k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search_treatment_index", err)
	}

	merged := append(tagged(emergencyHits, domain.CorpusEmergency), tagged(treatmentHits, domain.CorpusTreatment)...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

func tagged(hits []vecindex.Hit, corpus domain.CorpusType) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.RetrievalResult{
			ChunkID:    h.Item.ID,
			DocumentID: h.Item.DocumentID,
			Text:       h.Item.Text,
			Corpus:     corpus,
			Distance:   h.Distance,
		})
	}
	return out
}

// keywordText flattens a pipe-joined keyword group into embedding input.
func keywordText(group string) string {
	terms := domain.Keywords(group)
	return strings.Join(terms, " ")
}
