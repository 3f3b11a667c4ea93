package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
)

// Generic fallback retrieval basis assigned at the last level, so every
// query that passed validation gets some searchable keywords.
const (
	genericCondition         = "generic medical query"
	genericEmergencyKeywords = "medical|emergency"
	genericTreatmentKeywords = "treatment|management"
)

// rejectionMessage is the user-safe terminal answer for non-medical input.
const rejectionMessage = "This appears to be a non-medical query, which is outside the scope of this system. " +
	"Please rephrase your question using specific medical terms, for example: " +
	"'how to treat chest pain', 'acute stroke management', or 'pulmonary embolism treatment'."

type resolverState int

const (
	statePredefined resolverState = iota
	stateLLMExtract
	stateSemantic
	stateValidate
	stateGeneric
	stateResolved
	stateRejected
)

type levelOutcome int

const (
	outcomeResolved levelOutcome = iota
	outcomeFailed
	outcomeRejected
)

// transition fixes where each level goes on success and on failure. Keeping
// it as data makes the at-most-once-per-level guarantee structural: the
// cascade can only move forward.
type transition struct {
	onResolved resolverState
	onFailed   resolverState
}

var resolverTransitions = map[resolverState]transition{
	statePredefined: {onResolved: stateResolved, onFailed: stateLLMExtract},
	stateLLMExtract: {onResolved: stateResolved, onFailed: stateSemantic},
	stateSemantic:   {onResolved: stateResolved, onFailed: stateValidate},
	stateValidate:   {onResolved: stateResolved, onFailed: stateGeneric},
	stateGeneric:    {onResolved: stateResolved, onFailed: stateResolved},
}

// ResolverConfig tunes the fallback cascade.
type ResolverConfig struct {
	// SemanticTopK is how many sliding-window chunks the semantic fallback
	// inspects.
	SemanticTopK int
	// SemanticThreshold is the minimum keyword co-occurrence score needed to
	// infer a condition from retrieved text.
	SemanticThreshold float64
	// RejectAmbiguousValidation decides the policy for a validation response
	// that neither confirms nor denies medical scope: true rejects the query,
	// false (the default) lets it fall through to the generic level.
	RejectAmbiguousValidation bool
	// ExtractionMaxTokens bounds the extraction and validation completions.
	ExtractionMaxTokens int
}

func (c ResolverConfig) normalize() ResolverConfig {
	out := c
	if out.SemanticTopK <= 0 {
		out.SemanticTopK = 5
	}
	if out.SemanticThreshold <= 0 || out.SemanticThreshold > 1 {
		out.SemanticThreshold = 0.7
	}
	if out.ExtractionMaxTokens <= 0 {
		out.ExtractionMaxTokens = 100
	}
	return out
}

// ConditionResolver classifies a free-text query through a five-level
// fallback cascade. Every level runs at most once; network failures inside a
// level are absorbed and cascade to the next level.
type ConditionResolver struct {
	table      *domain.ConditionTable
	llm        ports.CompletionClient
	guidelines ports.GuidelineSearcher
	cfg        ResolverConfig
}

func NewConditionResolver(
	table *domain.ConditionTable,
	llm ports.CompletionClient,
	guidelines ports.GuidelineSearcher,
	cfg ResolverConfig,
) *ConditionResolver {
	return &ConditionResolver{
		table:      table,
		llm:        llm,
		guidelines: guidelines,
		cfg:        cfg.normalize(),
	}
}

// Resolve walks the cascade until a terminal state. The returned match is
// immutable; its Elapsed field covers the whole walk.
func (r *ConditionResolver) Resolve(ctx context.Context, query string) (domain.ConditionMatch, error) {
	if strings.TrimSpace(query) == "" {
		return domain.ConditionMatch{}, domain.ErrInvalidInput
	}

	start := time.Now()
	state := statePredefined
	var match domain.ConditionMatch

	for state != stateResolved && state != stateRejected {
		if err := ctx.Err(); err != nil {
			return domain.ConditionMatch{}, err
		}

		var outcome levelOutcome
		switch state {
		case statePredefined:
			match, outcome = r.runPredefined(query)
		case stateLLMExtract:
			match, outcome = r.runLLMExtraction(ctx, query)
		case stateSemantic:
			match, outcome = r.runSemanticFallback(ctx, query)
		case stateValidate:
			match, outcome = r.runValidation(ctx, query)
		case stateGeneric:
			match, outcome = r.runGeneric(ctx, query)
		}

		if outcome == outcomeRejected {
			state = stateRejected
			break
		}
		next := resolverTransitions[state]
		if outcome == outcomeResolved {
			state = next.onResolved
		} else {
			state = next.onFailed
		}
	}

	match.Elapsed = time.Since(start)
	slog.Info("condition_resolved",
		"level", match.Level.String(),
		"source", string(match.Source),
		"condition", match.Condition,
		"elapsed_ms", float64(match.Elapsed.Microseconds())/1000.0,
	)
	return match, nil
}

// Level 1: deterministic substring match against the canonical table. No
// network, no side effects.
func (r *ConditionResolver) runPredefined(query string) (domain.ConditionMatch, levelOutcome) {
	record, ok := r.table.MatchQuery(query)
	if !ok {
		return domain.ConditionMatch{}, outcomeFailed
	}
	return domain.ConditionMatch{
		Condition:         record.Condition,
		EmergencyKeywords: record.Emergency,
		TreatmentKeywords: record.Treatment,
		Level:             domain.LevelPredefined,
		Source:            domain.SourcePredefined,
	}, outcomeResolved
}

// Level 2: ask the extraction model for a condition name. Success still
// resolves through the canonical table; the model only supplies the key.
func (r *ConditionResolver) runLLMExtraction(ctx context.Context, query string) (domain.ConditionMatch, levelOutcome) {
	resp, err := r.llm.Complete(ctx, buildExtractionPrompt(query), 0.2, r.cfg.ExtractionMaxTokens)
	if err != nil {
		slog.Warn("extraction_level_failed", "error", err)
		return domain.ConditionMatch{}, outcomeFailed
	}

	record, ok := r.table.MatchText(resp)
	if !ok {
		slog.Debug("extraction_no_table_match",
			"error", fmt.Errorf("%w: %q", domain.ErrExtractionFailed, firstLine(resp)))
		return domain.ConditionMatch{}, outcomeFailed
	}
	return domain.ConditionMatch{
		Condition:         record.Condition,
		EmergencyKeywords: record.Emergency,
		TreatmentKeywords: record.Treatment,
		Level:             domain.LevelLLMExtraction,
		Source:            domain.SourceLLM,
	}, outcomeResolved
}

// Level 3: embed the query, search the overlapping-window corpus, and infer
// a condition from keyword co-occurrence in the retrieved text.
func (r *ConditionResolver) runSemanticFallback(ctx context.Context, query string) (domain.ConditionMatch, levelOutcome) {
	results, err := r.guidelines.SearchSlidingWindow(ctx, query, r.cfg.SemanticTopK)
	if err != nil {
		slog.Warn("semantic_level_failed", "error", err)
		return domain.ConditionMatch{}, outcomeFailed
	}
	if len(results) == 0 {
		return domain.ConditionMatch{}, outcomeFailed
	}

	record, score, ok := inferCondition(r.table, results[0].Text)
	if !ok || score < r.cfg.SemanticThreshold {
		return domain.ConditionMatch{}, outcomeFailed
	}
	return domain.ConditionMatch{
		Condition:         record.Condition,
		EmergencyKeywords: record.Emergency,
		TreatmentKeywords: record.Treatment,
		Level:             domain.LevelSemantic,
		Source:            domain.SourceSemantic,
	}, outcomeResolved
}

// Level 4: constrained scope judgment. The model is asked for a single
// categorical token instead of prose, so the rejection signal is parseable.
func (r *ConditionResolver) runValidation(ctx context.Context, query string) (domain.ConditionMatch, levelOutcome) {
	resp, err := r.llm.Complete(ctx, buildValidationPrompt(query), 0, 8)
	if err != nil {
		slog.Warn("validation_level_failed", "error", err)
		return domain.ConditionMatch{}, outcomeFailed
	}

	switch parseValidationVerdict(resp) {
	case verdictNonMedical:
		return rejectedMatch(), outcomeRejected
	case verdictMedical:
		return domain.ConditionMatch{}, outcomeFailed
	default:
		slog.Warn("validation_ambiguous",
			"error", fmt.Errorf("%w: %q", domain.ErrValidationAmbiguous, firstLine(resp)))
		if r.cfg.RejectAmbiguousValidation {
			return rejectedMatch(), outcomeRejected
		}
		return domain.ConditionMatch{}, outcomeFailed
	}
}

// rejectedMatch builds the terminal rejection answer and leaves an audit
// trail for out-of-scope queries.
func rejectedMatch() domain.ConditionMatch {
	slog.Info("query_rejected", "error", domain.ErrRejectedQuery)
	return domain.ConditionMatch{
		Level:   domain.LevelRejected,
		Message: rejectionMessage,
	}
}

// Level 5: fixed generic retrieval basis. A probe against the generic corpus
// is logged for observability but never blocks resolution.
func (r *ConditionResolver) runGeneric(ctx context.Context, query string) (domain.ConditionMatch, levelOutcome) {
	probe, err := r.guidelines.SearchSlidingWindow(ctx, query+" medical treatment", r.cfg.SemanticTopK)
	if err != nil {
		slog.Warn("generic_probe_failed", "error", err)
	} else {
		slog.Debug("generic_probe", "results", len(probe))
	}

	return domain.ConditionMatch{
		Condition:         genericCondition,
		EmergencyKeywords: genericEmergencyKeywords,
		TreatmentKeywords: genericTreatmentKeywords,
		Level:             domain.LevelGeneric,
		Source:            domain.SourceGeneric,
	}, outcomeResolved
}

type validationVerdict int

const (
	verdictAmbiguous validationVerdict = iota
	verdictMedical
	verdictNonMedical
)

func parseValidationVerdict(resp string) validationVerdict {
	token := strings.ToUpper(strings.TrimSpace(firstLine(resp)))
	token = strings.Trim(token, ".!\"' ")
	token = strings.ReplaceAll(token, "-", "_")
	switch token {
	case "NON_MEDICAL":
		return verdictNonMedical
	case "MEDICAL":
		return verdictMedical
	default:
		return verdictAmbiguous
	}
}

// inferCondition scores every table entry against the retrieved text: a
// contained condition name scores 1.0, otherwise the fraction of the entry's
// keywords present in the text. Returns the best-scoring record.
func inferCondition(table *domain.ConditionTable, text string) (domain.ConditionRecord, float64, bool) {
	lower := strings.ToLower(text)
	var best domain.ConditionRecord
	bestScore := 0.0

	for _, record := range table.Records() {
		score := 0.0
		if strings.Contains(lower, strings.ToLower(record.Condition)) {
			score = 1.0
		} else {
			score = keywordFraction(lower, record.Emergency)
			if tf := keywordFraction(lower, record.Treatment); tf > score {
				score = tf
			}
		}
		if score > bestScore {
			bestScore = score
			best = record
		}
	}
	return best, bestScore, bestScore > 0
}

func keywordFraction(lowerText, group string) float64 {
	keywords := domain.Keywords(group)
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
