package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by every layer. Adapters wrap these with %w.
var (
	// ErrNotFound signals a missing requester or entity.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals a malformed request payload.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized signals a missing or invalid requester identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrProvider signals an embedding or LLM provider failure.
	ErrProvider = errors.New("provider error")
	// ErrRateLimited signals provider-side rate limiting. Always accompanied by ErrProvider.
	ErrRateLimited = errors.New("rate limited")
	// ErrIndex signals a vector index failure.
	ErrIndex = errors.New("vector index error")
	// ErrStore signals an entity store failure.
	ErrStore = errors.New("entity store error")
	// ErrJobBoard signals a job-board API failure.
	ErrJobBoard = errors.New("job board error")
)

// RateLimitError carries the provider's retry-after hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s rate limited, retry after %s", e.Err, e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s rate limited", e.Err, e.Provider)
}

// Is matches both ErrRateLimited and ErrProvider.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrProvider
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// NewRateLimitError wraps a provider 429 response.
func NewRateLimitError(provider string, retryAfter time.Duration, err error) error {
	return &RateLimitError{Provider: provider, RetryAfter: retryAfter, Err: err}
}

// Validationf builds an ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
