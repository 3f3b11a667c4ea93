package usecase

import (
	"fmt"
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

func buildExtractionPrompt(query string) string {
	return `You are a medical assistant trained to extract medical conditions.
Reply with only the single most representative condition name for the query below.
Do not provide medical advice, explanations, or punctuation.

Query:
` + query
}

func buildValidationPrompt(query string) string {
	return `Judge whether the query below is a medical question.
Reply with exactly one token: MEDICAL or NON_MEDICAL. No other text.

Query:
` + query
}

func buildAdvicePrompt(query string, intention domain.Intention, selected []domain.RetrievalResult) string {
	var focus string
	switch intention {
	case domain.IntentionTreatment:
		focus = "Focus on specific treatment protocols, management steps, and therapeutic interventions."
	case domain.IntentionDiagnosis:
		focus = "Focus on differential diagnosis, diagnostic criteria, and assessment approaches."
	default:
		focus = "Provide comprehensive guidance covering both diagnostic and treatment aspects as appropriate."
	}

	return fmt.Sprintf(`You are an experienced attending physician advising a junior clinician in an emergency setting.

Clinical question:
%s

Relevant medical guidelines:
%s

Instructions:
%s

Provide guidance with numbered points for key steps, medication dosages and
routes where applicable, and references to the guidelines above. Emphasize
clinical judgment. Keep the response within 700 tokens.`, query, buildContextBlock(selected), focus)
}

func buildContextBlock(selected []domain.RetrievalResult) string {
	if len(selected) == 0 {
		return "No relevant medical guidelines found."
	}

	var b strings.Builder
	for i, res := range selected {
		label := sourceLabel(res.Corpus)
		fmt.Fprintf(&b, "[Guideline %d] (Source: %s, Relevance: %.3f)\n%s",
			i+1, label, relevanceFromDistance(res.Distance), strings.TrimSpace(res.Text))
		if res.Corpus == domain.CorpusHospital && res.DocumentID != "" {
			fmt.Fprintf(&b, "\n(Hospital document: %s)", res.DocumentID)
		}
		if i < len(selected)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func sourceLabel(c domain.CorpusType) string {
	switch c {
	case domain.CorpusEmergency:
		return "Emergency"
	case domain.CorpusTreatment:
		return "Treatment"
	case domain.CorpusHospital:
		return "Hospital Protocol"
	default:
		return "Medical"
	}
}

// relevanceFromDistance converts an angular distance to the cosine-style
// relevance shown in prompts. Clamped so prompt text never shows negatives.
func relevanceFromDistance(d float64) float64 {
	rel := 1 - d*d/2
	if rel < 0 {
		return 0
	}
	return rel
}
