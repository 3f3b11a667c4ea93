package ports

import (
	"context"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

// AdviceService is the inbound contract of the query pipeline.
type AdviceService interface {
	// Resolve classifies a free-text query without running retrieval.
	Resolve(ctx context.Context, query string) (domain.ConditionMatch, error)
	// Advise runs the full pipeline. A non-empty intention overrides
	// surface-cue detection.
	Advise(ctx context.Context, query string, intention domain.Intention) (*domain.AdviceResponse, error)
}
