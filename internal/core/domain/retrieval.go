package domain

// CorpusType marks the provenance of a retrieved chunk. Emergency and
// treatment chunks live in the general vector space; hospital chunks live in
// their own higher-dimensional space and their distances are never compared
// against general ones.
type CorpusType string

const (
	CorpusEmergency CorpusType = "emergency"
	CorpusTreatment CorpusType = "treatment"
	CorpusHospital  CorpusType = "hospital"
)

// RetrievalResult references one retrieved chunk with its angular distance
// in the vector space of the index it came from (smaller is more similar).
type RetrievalResult struct {
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id"`
	Text       string     `json:"text"`
	Corpus     CorpusType `json:"corpus_type"`
	Distance   float64    `json:"distance"`
}

// Intention is the coarse query goal used to bias chunk selection.
type Intention string

const (
	IntentionDiagnosis Intention = "diagnosis"
	IntentionTreatment Intention = "treatment"
)

// GeneratedAdvice is the terminal artifact returned to the caller.
type GeneratedAdvice struct {
	Text       string    `json:"advice_text"`
	Confidence float64   `json:"confidence"`
	Intention  Intention `json:"intention,omitempty"`
	ChunkIDs   []string  `json:"chunk_ids,omitempty"`
	Disclaimer string    `json:"disclaimer,omitempty"`
}

// ChunksUsed reports how many guideline chunks grounded the advice.
func (a GeneratedAdvice) ChunksUsed() int { return len(a.ChunkIDs) }

// RetrievalStats summarizes the retrieval work behind one response: how many
// chunks each corpus contributed after deduplication, and how many duplicates
// the merge discarded.
type RetrievalStats struct {
	EmergencyChunks   int `json:"emergency_chunks"`
	TreatmentChunks   int `json:"treatment_chunks"`
	HospitalChunks    int `json:"hospital_chunks"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// AdviceResponse bundles everything the pipeline produced for one query.
type AdviceResponse struct {
	Match      ConditionMatch
	Guidelines []RetrievalResult
	Advice     GeneratedAdvice
	Stats      RetrievalStats
}
