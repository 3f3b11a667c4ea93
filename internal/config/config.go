package config

import (
	"os"
	"strconv"
)

type Config struct {
	APIPort  string
	LogLevel string

	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	LLMTimeoutSeconds int
	LLMRequestsPerSec float64

	GeneralEmbedModel  string
	GeneralEmbedDim    int
	HospitalEmbedModel string
	HospitalEmbedDim   int

	EmergencyChunksPath string
	TreatmentChunksPath string
	HospitalChunksPath  string
	HospitalTagsPath    string
	ConditionsPath      string

	RetrievalTopK             int
	SemanticTopK              int
	SemanticThreshold         float64
	ValidationRejectAmbiguous bool
	ExtractionMaxTokens       int

	TagMinSimilarity   float64
	TagTopP            float64
	ChunkMinSimilarity float64
	ChunkTopP          float64
	HospitalMaxChunks  int
	HospitalKeywordLLM bool

	GenTemperature float64
	GenMaxTokens   int
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		LLMBaseURL:        mustEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:         mustEnv("LLM_API_KEY", ""),
		LLMModel:          mustEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeoutSeconds: mustEnvInt("LLM_TIMEOUT_SECONDS", 60),
		LLMRequestsPerSec: mustEnvFloat("LLM_REQUESTS_PER_SEC", 5),

		GeneralEmbedModel:  mustEnv("GENERAL_EMBED_MODEL", "text-embedding-3-small"),
		GeneralEmbedDim:    mustEnvInt("GENERAL_EMBED_DIM", 768),
		HospitalEmbedModel: mustEnv("HOSPITAL_EMBED_MODEL", "text-embedding-3-large"),
		HospitalEmbedDim:   mustEnvInt("HOSPITAL_EMBED_DIM", 1024),

		EmergencyChunksPath: mustEnv("EMERGENCY_CHUNKS_PATH", "./data/emergency_chunks.json"),
		TreatmentChunksPath: mustEnv("TREATMENT_CHUNKS_PATH", "./data/treatment_chunks.json"),
		HospitalChunksPath:  mustEnv("HOSPITAL_CHUNKS_PATH", ""),
		HospitalTagsPath:    mustEnv("HOSPITAL_TAGS_PATH", ""),
		ConditionsPath:      mustEnv("CONDITIONS_PATH", ""),

		RetrievalTopK:             mustEnvInt("RETRIEVAL_TOP_K", 5),
		SemanticTopK:              mustEnvInt("SEMANTIC_TOP_K", 5),
		SemanticThreshold:         mustEnvFloat("SEMANTIC_THRESHOLD", 0.7),
		ValidationRejectAmbiguous: mustEnvBool("VALIDATION_REJECT_AMBIGUOUS", false),
		ExtractionMaxTokens:       mustEnvInt("EXTRACTION_MAX_TOKENS", 100),

		TagMinSimilarity:   mustEnvFloat("TAG_MIN_SIMILARITY", 0.25),
		TagTopP:            mustEnvFloat("TAG_TOP_P", 0.6),
		ChunkMinSimilarity: mustEnvFloat("CHUNK_MIN_SIMILARITY", 0.3),
		ChunkTopP:          mustEnvFloat("CHUNK_TOP_P", 0.6),
		HospitalMaxChunks:  mustEnvInt("HOSPITAL_MAX_CHUNKS", 20),
		HospitalKeywordLLM: mustEnvBool("HOSPITAL_KEYWORD_EXTRACTION", true),

		GenTemperature: mustEnvFloat("GEN_TEMPERATURE", 0.3),
		GenMaxTokens:   mustEnvInt("GEN_MAX_TOKENS", 800),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
