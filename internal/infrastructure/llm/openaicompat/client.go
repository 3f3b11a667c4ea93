// Package openaicompat adapts any OpenAI-compatible endpoint (OpenAI,
// Nebius, vLLM, LM Studio) to the completion and embedding ports. All calls
// go through a shared rate limiter and the resilience runner.
package openaicompat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/oncallai/clinical-assistant/internal/core/ports"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/resilience"
)

// ClientConfig configures the chat completion adapter.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
}

// Client calls the chat completion endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	runner  *resilience.Runner
}

func NewClient(cfg ClientConfig, runner *resilience.Runner) *Client {
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
		timeout = 60 * time.Second
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: timeout,
		limiter: limiter,
		runner:  runner,
	}
}

var _ ports.CompletionClient = (*Client)(nil)

// Complete sends one user prompt and returns the trimmed first choice.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var text string
	call := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return describeAPIError("chat completion", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion: empty choice list")
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		slog.Debug("completion_done",
			"model", c.model,
			"prompt_len", len(prompt),
			"completion_len", len(text),
			"duration", time.Since(start),
		)
		return nil
	}

	if c.runner == nil {
		if err := call(ctx); err != nil {
			return "", err
		}
		return text, nil
	}
	if err := c.runner.Run(ctx, "llm_complete", call, ClassifyAPIError); err != nil {
		return "", err
	}
	return text, nil
}
