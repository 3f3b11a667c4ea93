package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oncallai/clinical-assistant/internal/infrastructure/resilience"
)

// ClassifyAPIError decides which endpoint errors are worth retrying and
// which should count against the circuit breaker. Cancellations are neither.
func ClassifyAPIError(err error) resilience.Verdict {
	if err == nil {
		return resilience.Verdict{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{}
	}

	if status, ok := httpStatusOf(err); ok {
		switch {
		case status == 429 || status >= 500:
			return resilience.Verdict{Retry: true, CountAsFailure: true}
		case status >= 400:
			// Bad request, auth, moderation. Retrying will not help and the
			// endpoint itself is healthy.
			return resilience.Verdict{Retry: false, CountAsFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.Verdict{Retry: true, CountAsFailure: true}
	}

	return resilience.Verdict{Retry: false, CountAsFailure: true}
}

func httpStatusOf(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// describeAPIError keeps the endpoint's status and message in the chain
// without leaking response bodies into user-facing errors.
func describeAPIError(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: api status %d: %s: %w", operation, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s: request status %d: %w", operation, reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
