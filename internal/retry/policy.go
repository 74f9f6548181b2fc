// Package retry provides the single retry policy shared by the batch
// orchestrator and the provider waterfall. Retries are driven by error
// classification, not by ad-hoc sleep loops at call sites.
package retry

import (
	"context"
	"time"

	"github.com/aristath/harvest/internal/domain"
)

// Policy defines how many times an operation is attempted and how long to
// wait between attempts. The zero value performs exactly one attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Defaults to domain.IsRetryable (transient network errors only).
	Retryable func(error) bool
}

// Default is the policy used when configuration does not say otherwise.
var Default = Policy{MaxAttempts: 3, Delay: 2 * time.Second}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. A cancelled context stops retrying immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return err
}
