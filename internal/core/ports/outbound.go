package ports

import (
	"context"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

// Embedder maps text to a fixed-dimension vector. One instance exists per
// vector space (general vs hospital); vectors never cross spaces.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CompletionClient is the stateless request/response wrapper around the
// hosted medical language model.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error)
}

// GuidelineSearcher is the dual-index engine over the general emergency and
// treatment corpora.
type GuidelineSearcher interface {
	// Search embeds the joined keyword groups and queries both indices for k
	// chunks each. Results are corpus-tagged before any merging.
	Search(ctx context.Context, emergencyKeywords, treatmentKeywords string, k int) ([]domain.RetrievalResult, error)
	// SearchSlidingWindow searches the combined overlapping-window corpus,
	// used by the semantic fallback and the generic probe.
	SearchSlidingWindow(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}

// HospitalSearcher is the two-stage tag-filtered engine over the
// institution-specific corpus.
type HospitalSearcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}
