package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
)

// PipelineService runs the full query pipeline: resolve, retrieve from both
// engines, deduplicate and rank, then generate grounded advice.
type PipelineService struct {
	resolver   *ConditionResolver
	guidelines ports.GuidelineSearcher
	hospital   ports.HospitalSearcher
	generator  *AdviceGenerator
	topK       int
}

func NewPipelineService(
	resolver *ConditionResolver,
	guidelines ports.GuidelineSearcher,
	hospital ports.HospitalSearcher,
	generator *AdviceGenerator,
	topK int,
) *PipelineService {
	if topK <= 0 {
		topK = 5
	}
	return &PipelineService{
		resolver:   resolver,
		guidelines: guidelines,
		hospital:   hospital,
		generator:  generator,
		topK:       topK,
	}
}

// Resolve classifies a query without touching the retrieval engines.
func (s *PipelineService) Resolve(ctx context.Context, query string) (domain.ConditionMatch, error) {
	return s.resolver.Resolve(ctx, query)
}

// Advise runs the full pipeline. Retrieval failures degrade to an empty
// guideline list; only invalid input or cancellation abort the request.
func (s *PipelineService) Advise(ctx context.Context, query string, intention domain.Intention) (*domain.AdviceResponse, error) {
	match, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	// Rejected queries short-circuit: no retrieval, no generation.
	if match.Rejected() {
		return &domain.AdviceResponse{
			Match: match,
			Advice: domain.GeneratedAdvice{
				Text:       match.Message,
				Confidence: 0,
			},
		}, nil
	}

	general := s.searchGeneral(ctx, match, query)
	hospital := s.searchHospital(ctx, query)

	retrieved := len(general) + len(hospital)
	general = Deduplicate(general)
	hospital = Deduplicate(hospital)

	emergencyFirst := match.Source != domain.SourceGeneric
	ranked := MergeRanked(general, hospital, emergencyFirst)
	stats := domain.RetrievalStats{
		EmergencyChunks:   len(filterCorpus(general, domain.CorpusEmergency)),
		TreatmentChunks:   len(filterCorpus(general, domain.CorpusTreatment)),
		HospitalChunks:    len(hospital),
		DuplicatesRemoved: retrieved - len(general) - len(hospital),
	}
	if len(ranked) == 0 {
		slog.Info("retrieval_empty", "condition", match.Condition)
	}

	if intention == "" {
		intention = DetectIntention(query)
	}
	advice := s.generator.Generate(ctx, query, intention, ranked)

	return &domain.AdviceResponse{
		Match:      match,
		Guidelines: ranked,
		Advice:     advice,
		Stats:      stats,
	}, nil
}

func (s *PipelineService) searchGeneral(ctx context.Context, match domain.ConditionMatch, query string) []domain.RetrievalResult {
	emergencyKW := match.EmergencyKeywords
	treatmentKW := match.TreatmentKeywords
	if strings.TrimSpace(emergencyKW+treatmentKW) == "" {
		emergencyKW = match.Condition
		if strings.TrimSpace(emergencyKW) == "" {
			emergencyKW = query
		}
	}

	results, err := s.guidelines.Search(ctx, emergencyKW, treatmentKW, s.topK)
	if err != nil {
		slog.Error("guideline_search_failed", "error", err)
		return nil
	}
	return results
}

func (s *PipelineService) searchHospital(ctx context.Context, query string) []domain.RetrievalResult {
	if s.hospital == nil {
		return nil
	}
	results, err := s.hospital.Search(ctx, query, s.topK)
	if err != nil {
		// Institution-specific retrieval is best effort; the general
		// corpora still ground the answer.
		slog.Warn("hospital_search_skipped", "error", err)
		return nil
	}
	return results
}
