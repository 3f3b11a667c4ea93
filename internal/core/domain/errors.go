package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailed means the extraction model produced no condition
	// that matches the canonical table. Recovered by the next fallback level.
	ErrExtractionFailed = errors.New("condition extraction failed")
	// ErrValidationAmbiguous means the validation model neither confirmed nor
	// rejected medical scope. Never surfaced to the caller.
	ErrValidationAmbiguous = errors.New("medical validation ambiguous")
	// ErrRejectedQuery is the terminal classification for non-medical input.
	// It is a valid outcome, not a failure.
	ErrRejectedQuery = errors.New("query rejected as non-medical")
	// ErrRetrievalEmpty means no chunk cleared the similarity thresholds.
	ErrRetrievalEmpty = errors.New("no chunks above similarity threshold")
	// ErrGenerationFailed wraps transport/quota/timeout errors from the
	// advice model; callers substitute the apology response.
	ErrGenerationFailed = errors.New("advice generation failed")

	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
