package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure. The classification drives the
// retry policy and rate-limit tracker state: not-found is permanent,
// rate-limited parks the account, malformed is treated as an empty result,
// transient-network is retried.
type ErrorKind string

const (
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindRateLimited      ErrorKind = "rate_limited"
	ErrKindMalformed        ErrorKind = "malformed_response"
	ErrKindTransientNetwork ErrorKind = "transient_network"
)

// ProviderError is a classified error from a provider adapter.
// Adapters must return this type (or wrap it) for all request failures so
// callers can branch on Kind.
type ProviderError struct {
	Err        error
	Provider   string
	Ticker     string
	Kind       ErrorKind
	RetryAfter time.Duration // only meaningful for ErrKindRateLimited
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Ticker, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Ticker, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a classified provider error.
func NewProviderError(provider, ticker string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Ticker: ticker, Kind: kind, Err: err}
}

// NewRateLimitError creates a rate-limited provider error carrying the
// provider-reported retry-after interval.
func NewRateLimitError(provider, ticker string, retryAfter time.Duration, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Ticker:     ticker,
		Kind:       ErrKindRateLimited,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// ClassifyError returns the error kind for err, defaulting to
// transient-network for unclassified errors (the conservative choice:
// they get a bounded retry, then count as an empty result).
func ClassifyError(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindTransientNetwork
}

// IsRetryable returns true if the error should be retried by the batch
// orchestrator. Only transient network failures qualify; not-found and
// rate-limited are permanent within a run, malformed is treated as empty.
func IsRetryable(err error) bool {
	return ClassifyError(err) == ErrKindTransientNetwork
}

// IsRateLimited reports whether err is a provider-reported throttle, and if
// so returns the retry-after interval (zero when the provider did not say).
func IsRateLimited(err error) (bool, time.Duration) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == ErrKindRateLimited {
		return true, pe.RetryAfter
	}
	return false, 0
}

// IsNotFound reports whether err means the ticker does not exist at the
// provider.
func IsNotFound(err error) bool {
	return ClassifyError(err) == ErrKindNotFound
}
