// Package bootstrap wires the whole pipeline once at startup. All session
// state is held here and injected downward; nothing in the pipeline reads
// globals.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/oncallai/clinical-assistant/internal/config"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/core/usecase"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/conditions"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/llm/openaicompat"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/resilience"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/retrieval"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/vecindex"
)

type App struct {
	Config  config.Config
	Service ports.AdviceService
}

func New(cfg config.Config) (*App, error) {
	table, err := conditions.Load(cfg.ConditionsPath)
	if err != nil {
		return nil, fmt.Errorf("load condition table: %w", err)
	}

	emergencyIndex, err := vecindex.LoadChunks(cfg.EmergencyChunksPath, cfg.GeneralEmbedDim)
	if err != nil {
		return nil, fmt.Errorf("load emergency corpus: %w", err)
	}
	treatmentIndex, err := vecindex.LoadChunks(cfg.TreatmentChunksPath, cfg.GeneralEmbedDim)
	if err != nil {
		return nil, fmt.Errorf("load treatment corpus: %w", err)
	}
	slog.Info("corpora_loaded",
		"emergency_chunks", emergencyIndex.Len(),
		"treatment_chunks", treatmentIndex.Len(),
	)

	runner := resilience.NewRunner(resilience.DefaultPolicy())
	llmTimeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second

	completion := openaicompat.NewClient(openaicompat.ClientConfig{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		RequestTimeout:    llmTimeout,
		RequestsPerSecond: cfg.LLMRequestsPerSec,
	}, runner)

	generalEmbedder := openaicompat.NewEmbedder(openaicompat.EmbedderConfig{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.GeneralEmbedModel,
		Dimensions:        cfg.GeneralEmbedDim,
		RequestTimeout:    llmTimeout,
		RequestsPerSecond: cfg.LLMRequestsPerSec,
	}, runner, "embed_general")

	guidelines := retrieval.NewDualEngine(generalEmbedder, emergencyIndex, treatmentIndex)

	hospital, err := buildHospitalEngine(cfg, runner, completion, llmTimeout)
	if err != nil {
		return nil, err
	}

	resolver := usecase.NewConditionResolver(table, completion, guidelines, usecase.ResolverConfig{
		SemanticTopK:              cfg.SemanticTopK,
		SemanticThreshold:         cfg.SemanticThreshold,
		RejectAmbiguousValidation: cfg.ValidationRejectAmbiguous,
		ExtractionMaxTokens:       cfg.ExtractionMaxTokens,
	})
	generator := usecase.NewAdviceGenerator(completion, usecase.GenerationConfig{
		Temperature: float32(cfg.GenTemperature),
		MaxTokens:   cfg.GenMaxTokens,
	})
	service := usecase.NewPipelineService(resolver, guidelines, hospital, generator, cfg.RetrievalTopK)

	return &App{Config: cfg, Service: service}, nil
}

// buildHospitalEngine is optional wiring: without corpus paths the pipeline
// runs on the general guideline indices alone.
func buildHospitalEngine(
	cfg config.Config,
	runner *resilience.Runner,
	completion ports.CompletionClient,
	llmTimeout time.Duration,
) (ports.HospitalSearcher, error) {
	if cfg.HospitalChunksPath == "" || cfg.HospitalTagsPath == "" {
		slog.Info("hospital_corpus_disabled")
		return nil, nil
	}

	chunks, err := vecindex.LoadChunks(cfg.HospitalChunksPath, cfg.HospitalEmbedDim)
	if err != nil {
		return nil, fmt.Errorf("load hospital corpus: %w", err)
	}
	tags, err := vecindex.LoadTags(cfg.HospitalTagsPath, cfg.HospitalEmbedDim)
	if err != nil {
		return nil, fmt.Errorf("load hospital tags: %w", err)
	}
	slog.Info("hospital_corpus_loaded", "chunks", chunks.Len(), "tags", len(tags))

	embedder := openaicompat.NewEmbedder(openaicompat.EmbedderConfig{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.HospitalEmbedModel,
		Dimensions:        cfg.HospitalEmbedDim,
		RequestTimeout:    llmTimeout,
		RequestsPerSecond: cfg.LLMRequestsPerSec,
	}, runner, "embed_hospital")

	var keywordLLM ports.CompletionClient
	if cfg.HospitalKeywordLLM {
		keywordLLM = completion
	}

	return retrieval.NewTwoStageEngine(embedder, keywordLLM, tags, chunks, retrieval.HospitalConfig{
		MinTagSimilarity:   cfg.TagMinSimilarity,
		TagTopP:            cfg.TagTopP,
		MinChunkSimilarity: cfg.ChunkMinSimilarity,
		ChunkTopP:          cfg.ChunkTopP,
		MaxCandidates:      cfg.HospitalMaxChunks,
	}), nil
}
