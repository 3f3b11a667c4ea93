package usecase

import (
	"strings"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

var (
	treatmentCues = []string{"treat", "treatment", "manage", "therapy", "protocol", "how to"}
	diagnosisCues = []string{"diagnos", "differential", "symptoms", "signs", "what is"}
)

// DetectIntention classifies a query as diagnosis- or treatment-seeking from
// surface cues. Ties default to treatment, which suits emergency scenarios.
func DetectIntention(query string) domain.Intention {
	lower := strings.ToLower(query)

	treatmentScore := 0
	for _, cue := range treatmentCues {
		if strings.Contains(lower, cue) {
			treatmentScore++
		}
	}
	diagnosisScore := 0
	for _, cue := range diagnosisCues {
		if strings.Contains(lower, cue) {
			diagnosisScore++
		}
	}

	if diagnosisScore > treatmentScore {
		return domain.IntentionDiagnosis
	}
	return domain.IntentionTreatment
}
