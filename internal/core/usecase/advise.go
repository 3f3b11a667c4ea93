package usecase

import (
	"context"
	"log/slog"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
)

const adviceDisclaimer = "This advice is for informational purposes only and should not replace " +
	"professional medical consultation. Always consult qualified healthcare providers for medical decisions."

const apologyText = "I apologize, but I encountered an error while processing your medical query. " +
	"Please try rephrasing your question or contact technical support if the issue persists."

// chunkBudget fixes how many chunks of each general corpus a given intention
// may contribute to the prompt. Hospital chunks are always appended on top.
type chunkBudget struct {
	emergency int
	treatment int
}

var intentionBudgets = map[domain.Intention]chunkBudget{
	domain.IntentionDiagnosis: {emergency: 4, treatment: 2},
	domain.IntentionTreatment: {emergency: 2, treatment: 4},
}

// maxChunksWithoutIntention caps the relevance-ordered selection when no
// intention is known.
const maxChunksWithoutIntention = 6

// GenerationConfig tunes the advice model call.
type GenerationConfig struct {
	Temperature float32
	MaxTokens   int
}

func (c GenerationConfig) normalize() GenerationConfig {
	out := c
	if out.Temperature <= 0 {
		out.Temperature = 0.3
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 800
	}
	return out
}

// AdviceGenerator selects grounded chunks, builds the prompt, and converts
// every model failure into a user-safe apology response.
type AdviceGenerator struct {
	llm ports.CompletionClient
	cfg GenerationConfig
}

func NewAdviceGenerator(llm ports.CompletionClient, cfg GenerationConfig) *AdviceGenerator {
	return &AdviceGenerator{llm: llm, cfg: cfg.normalize()}
}

// Generate never returns an error: transport, quota, and timeout failures
// become the apology response with confidence 0 and zero chunks used, with
// the cause logged for diagnosis.
func (g *AdviceGenerator) Generate(
	ctx context.Context,
	query string,
	intention domain.Intention,
	ranked []domain.RetrievalResult,
) domain.GeneratedAdvice {
	selected := selectChunks(intention, ranked)
	prompt := buildAdvicePrompt(query, intention, selected)

	text, err := g.llm.Complete(ctx, prompt, g.cfg.Temperature, g.cfg.MaxTokens)
	if err != nil {
		slog.Error("advice_generation_failed", "error", domain.WrapError(domain.ErrGenerationFailed, "generate", err))
		return domain.GeneratedAdvice{
			Text:       apologyText,
			Confidence: 0,
			Intention:  intention,
			Disclaimer: adviceDisclaimer,
		}
	}

	ids := make([]string, 0, len(selected))
	for _, res := range selected {
		ids = append(ids, res.ChunkID)
	}

	return domain.GeneratedAdvice{
		Text:       text,
		Confidence: confidenceScore(len(selected), len(text)),
		Intention:  intention,
		ChunkIDs:   ids,
		Disclaimer: adviceDisclaimer,
	}
}

// selectChunks applies the intention budget over the ranked list. The list
// arrives with the general block first and the hospital block last (see
// MergeRanked); hospital chunks always ride along.
func selectChunks(intention domain.Intention, ranked []domain.RetrievalResult) []domain.RetrievalResult {
	hospital := filterCorpus(ranked, domain.CorpusHospital)

	budget, ok := intentionBudgets[intention]
	if !ok {
		general := make([]domain.RetrievalResult, 0, len(ranked))
		for _, r := range ranked {
			if r.Corpus != domain.CorpusHospital {
				general = append(general, r)
			}
		}
		general = sortedByDistance(general)
		if len(general) > maxChunksWithoutIntention {
			general = general[:maxChunksWithoutIntention]
		}
		return append(general, hospital...)
	}

	selected := make([]domain.RetrievalResult, 0, budget.emergency+budget.treatment+len(hospital))
	selected = append(selected, headOf(filterCorpus(ranked, domain.CorpusEmergency), budget.emergency)...)
	selected = append(selected, headOf(filterCorpus(ranked, domain.CorpusTreatment), budget.treatment)...)
	return append(selected, hospital...)
}

func headOf(results []domain.RetrievalResult, n int) []domain.RetrievalResult {
	if len(results) > n {
		return results[:n]
	}
	return results
}

// confidenceScore blends source coverage, response length, and a clean-run
// factor, clamped to [0.1, 0.95]. Zero guidelines still produce advice, just
// with correspondingly low confidence.
func confidenceScore(sources, responseLen int) float64 {
	sourceFactor := float64(sources) / float64(maxChunksWithoutIntention)
	if sourceFactor > 1 {
		sourceFactor = 1
	}
	lengthFactor := float64(responseLen) / 500.0
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	score := (sourceFactor + lengthFactor + 0.8) / 3.0
	if score < 0.1 {
		return 0.1
	}
	if score > 0.95 {
		return 0.95
	}
	return score
}
