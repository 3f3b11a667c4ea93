package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/vecindex"
)

// HospitalConfig tunes the two-stage search over institution documents.
// Similarity floors are absolute cosine thresholds; Top-P values cut the
// normalized score mass of the candidates that survive the floor.
type HospitalConfig struct {
	MinTagSimilarity   float64
	TagTopP            float64
	MinChunkSimilarity float64
	ChunkTopP          float64
	MaxCandidates      int
}

func (c HospitalConfig) normalize() HospitalConfig {
	out := c
	if out.MinTagSimilarity <= 0 {
		out.MinTagSimilarity = 0.25
	}
	if out.TagTopP <= 0 || out.TagTopP > 1 {
		out.TagTopP = 0.6
	}
	if out.MinChunkSimilarity <= 0 {
		out.MinChunkSimilarity = 0.3
	}
	if out.ChunkTopP <= 0 || out.ChunkTopP > 1 {
		out.ChunkTopP = 0.6
	}
	if out.MaxCandidates <= 0 {
		out.MaxCandidates = 20
	}
	return out
}

// TwoStageEngine narrows the hospital corpus by document tags before
// searching chunks, so a query about chest pain never ranks chunks from
// documents tagged only for, say, obstetric protocols. Hospital embeddings
// live in their own vector space and are never mixed with the guideline
// indices.
type TwoStageEngine struct {
	embedder ports.Embedder
	llm      ports.CompletionClient
	tags     []vecindex.TagRecord
	chunks   *vecindex.Index
	cfg      HospitalConfig
}

// NewTwoStageEngine builds the engine. llm is optional; when present it
// condenses the query into search keywords before embedding.
func NewTwoStageEngine(
	embedder ports.Embedder,
	llm ports.CompletionClient,
	tags []vecindex.TagRecord,
	chunks *vecindex.Index,
	cfg HospitalConfig,
) *TwoStageEngine {
	return &TwoStageEngine{
		embedder: embedder,
		llm:      llm,
		tags:     tags,
		chunks:   chunks,
		cfg:      cfg.normalize(),
	}
}

var _ ports.HospitalSearcher = (*TwoStageEngine)(nil)

// Search runs tag filtering then chunk search. An empty result is normal
// when no institution document covers the query topic.
func (e *TwoStageEngine) Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hospital_search", fmt.Errorf("empty query"))
	}

	searchText := e.condenseQuery(ctx, query)
	vec, err := e.embedder.EmbedQuery(ctx, searchText)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed_hospital_query", err)
	}

	candidates := e.filterByTags(vec)
	if len(candidates) == 0 {
		slog.Debug("hospital_tags_no_match", "query_len", len(query))
		return nil, nil
	}

	allow := func(item vecindex.Item) bool {
		_, ok := candidates[item.DocumentID]
		return ok
	}
	hits, err := e.chunks.SearchFiltered(vec, e.cfg.MaxCandidates, allow)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search_hospital_chunks", err)
	}

	results := selectChunkHits(hits, e.cfg.MinChunkSimilarity, e.cfg.ChunkTopP)
	if len(results) > k {
		results = results[:k]
	}
	slog.Debug("hospital_search_done", "candidate_docs", len(candidates), "chunks", len(results))
	return results, nil
}

// condenseQuery asks the model for compact search keywords, falling back to
// the raw query on any failure.
func (e *TwoStageEngine) condenseQuery(ctx context.Context, query string) string {
	if e.llm == nil {
		return query
	}
	prompt := fmt.Sprintf(
		"Extract the key medical search terms from this query as a short space-separated list. "+
			"Return only the terms, nothing else.\n\nQuery: %s", query)
	keywords, err := e.llm.Complete(ctx, prompt, 0.1, 60)
	if err != nil || strings.TrimSpace(keywords) == "" {
		if err != nil {
			slog.Debug("hospital_keyword_extraction_skipped", "error", err)
		}
		return query
	}
	return strings.TrimSpace(keywords)
}

// filterByTags returns the set of document IDs whose tags both clear the
// similarity floor and fall inside the Top-P mass of the surviving tags.
func (e *TwoStageEngine) filterByTags(queryVec []float32) map[string]struct{} {
	type tagScore struct {
		record     vecindex.TagRecord
		similarity float64
	}

	surviving := make([]tagScore, 0, len(e.tags))
	var total float64
	for _, tag := range e.tags {
		sim := vecindex.CosineSimilarity(queryVec, tag.Embedding)
		if sim < e.cfg.MinTagSimilarity {
			continue
		}
		surviving = append(surviving, tagScore{record: tag, similarity: sim})
		total += sim
	}
	if len(surviving) == 0 || total == 0 {
		return nil
	}

	sort.SliceStable(surviving, func(i, j int) bool {
		if surviving[i].similarity != surviving[j].similarity {
			return surviving[i].similarity > surviving[j].similarity
		}
		return surviving[i].record.Tag < surviving[j].record.Tag
	})

	candidates := make(map[string]struct{})
	var mass float64
	for _, ts := range surviving {
		for _, doc := range ts.record.Documents {
			candidates[doc] = struct{}{}
		}
		mass += ts.similarity / total
		if mass >= e.cfg.TagTopP {
			break
		}
	}
	return candidates
}

// selectChunkHits applies the chunk similarity floor and Top-P cut to the
// filtered hits, preserving ascending distance order.
func selectChunkHits(hits []vecindex.Hit, minSimilarity, topP float64) []domain.RetrievalResult {
	type scored struct {
		hit        vecindex.Hit
		similarity float64
	}

	surviving := make([]scored, 0, len(hits))
	var total float64
	for _, h := range hits {
		sim := vecindex.CosineFromAngular(h.Distance)
		if sim < minSimilarity {
			continue
		}
		surviving = append(surviving, scored{hit: h, similarity: sim})
		total += sim
	}
	if len(surviving) == 0 || total == 0 {
		return nil
	}

	out := make([]domain.RetrievalResult, 0, len(surviving))
	var mass float64
	for _, s := range surviving {
		out = append(out, domain.RetrievalResult{
			ChunkID:    s.hit.Item.ID,
			DocumentID: s.hit.Item.DocumentID,
			Text:       s.hit.Item.Text,
			Corpus:     domain.CorpusHospital,
			Distance:   s.hit.Distance,
		})
		mass += s.similarity / total
		if mass >= topP {
			break
		}
	}
	return out
}
