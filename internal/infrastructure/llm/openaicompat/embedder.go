package openaicompat

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/resilience"
)

// EmbedderConfig configures one embedding space. The guideline and hospital
// corpora use separate instances because their models and dimensions differ.
type EmbedderConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Embedder produces query vectors in one fixed embedding space.
type Embedder struct {
	api        *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	runner     *resilience.Runner
	operation  string
}

// NewEmbedder builds an embedding adapter. The operation name keys the
// circuit breaker, so give each embedding space its own.
func NewEmbedder(cfg EmbedderConfig, runner *resilience.Runner, operation string) *Embedder {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if operation == "" {
		operation = "embed_query"
	}

	return &Embedder{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		timeout:    timeout,
		limiter:    limiter,
		runner:     runner,
		operation:  operation,
	}
}

var _ ports.Embedder = (*Embedder)(nil)

// EmbedQuery returns the embedding for one query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var vector []float32
	call := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		req := openai.EmbeddingRequest{
			Input:          []string{text},
			Model:          e.model,
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		}
		if e.dimensions > 0 {
			req.Dimensions = e.dimensions
		}

		resp, err := e.api.CreateEmbeddings(callCtx, req)
		if err != nil {
			return describeAPIError("embedding", err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("embedding: empty response")
		}
		vector = resp.Data[0].Embedding
		if e.dimensions > 0 && len(vector) != e.dimensions {
			return fmt.Errorf("embedding: got %d dimensions, want %d", len(vector), e.dimensions)
		}
		return nil
	}

	if e.runner == nil {
		if err := call(ctx); err != nil {
			return nil, err
		}
		return vector, nil
	}
	if err := e.runner.Run(ctx, e.operation, call, ClassifyAPIError); err != nil {
		return nil, err
	}
	return vector, nil
}
