// Package resilience wraps outbound model calls with bounded retries and a
// per-operation circuit breaker. The LLM endpoint is the single external
// dependency of the pipeline, so every call to it goes through a Runner.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict is the classifier's judgment of one error.
type Verdict struct {
	// Retry allows another attempt inside the same call.
	Retry bool
	// CountAsFailure lets the breaker track the error. Cancellations and
	// caller bugs should not trip the breaker.
	CountAsFailure bool
}

// Classify maps an error to its verdict. A nil classifier treats every
// error as terminal and breaker-visible.
type Classify func(err error) Verdict

// Runner executes operations under the configured policy, keeping one
// breaker per operation name so a failing completion endpoint cannot open
// the breaker for embeddings.
type Runner struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRunner(policy Policy) *Runner {
	return &Runner{
		policy:   policy.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Run executes fn under retry and breaker policy.
func (r *Runner) Run(ctx context.Context, operation string, fn func(context.Context) error, classify Classify) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation for %q", operation)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unnamed"
	}
	if classify == nil {
		classify = func(error) Verdict { return Verdict{CountAsFailure: true} }
	}

	if !r.policy.BreakerEnabled {
		return r.attempt(ctx, op, fn, classify)
	}

	breaker := r.breakerFor(op, classify)
	_, err := breaker.Execute(func() (any, error) {
		return nil, r.attempt(ctx, op, fn, classify)
	})
	return err
}

func (r *Runner) attempt(ctx context.Context, op string, fn func(context.Context) error, classify Classify) error {
	wait := r.policy.RetryBaseDelay

	var lastErr error
	for try := 1; try <= r.policy.RetryAttempts; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if verdict := classify(lastErr); !verdict.Retry || try == r.policy.RetryAttempts {
			return lastErr
		}

		slog.Warn("operation_retry",
			"operation", op,
			"attempt", try,
			"max_attempts", r.policy.RetryAttempts,
			"delay", wait,
			"error", lastErr,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * r.policy.RetryGrowth)
		if wait > r.policy.RetryMaxDelay {
			wait = r.policy.RetryMaxDelay
		}
	}
	return lastErr
}

func (r *Runner) breakerFor(op string, classify Classify) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[op]; ok {
		return breaker
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        op,
		MaxRequests: r.policy.BreakerProbeCalls,
		Timeout:     r.policy.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.policy.BreakerMinSamples {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= r.policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classify(err).CountAsFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[op] = breaker
	return breaker
}

// Open reports whether err came from an open or saturated breaker.
func Open(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
