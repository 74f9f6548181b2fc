// Package waterfall implements multi-provider data acquisition: providers
// are tried strictly in priority order, partial results are merged
// field-by-field with first-successful-source-wins semantics, and the
// waterfall stops early once every required field is filled.
package waterfall

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
	"github.com/aristath/harvest/internal/providers"
	"github.com/aristath/harvest/internal/retry"
)

// RateLimiter is the quota gate consulted before every provider call.
// Implemented by ratelimit.Tracker.
type RateLimiter interface {
	NextAvailableAccount(provider string) (string, bool)
	RecordCalls(provider, account string, n int) bool
	RecordThrottled(provider, account string, retryAfter time.Duration)
}

// AcquisitionResult is the outcome of one fundamentals waterfall run.
// SuccessRate 0 with an empty snapshot is a normal, expected outcome the
// caller must handle, not an exceptional one.
type AcquisitionResult struct {
	Snapshot        *domain.FundamentalSnapshot
	PrimarySource   string
	FallbackSources []string
	SuccessRate     float64
}

// Manager runs the provider waterfall for one ticker at a time. Providers
// are tried sequentially, never raced in parallel: racing would spend quota
// on providers whose data is not ultimately needed.
type Manager struct {
	adapters []providers.Adapter // fixed priority order, from configuration
	limiter  RateLimiter
	required []domain.Field
	policy   retry.Policy
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates a waterfall manager. The adapter slice order is the
// provider priority order. An empty required set defaults to all canonical
// fields.
func NewManager(adapters []providers.Adapter, limiter RateLimiter, required []domain.Field, policy retry.Policy, log zerolog.Logger) *Manager {
	if len(required) == 0 {
		required = domain.AllFields
	}
	return &Manager{
		adapters: adapters,
		limiter:  limiter,
		required: required,
		policy:   policy,
		now:      time.Now,
		log:      log.With().Str("component", "waterfall").Logger(),
	}
}

// SetClock overrides the manager's time source. Used in tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// AcquireFundamentals assembles a merged fundamental snapshot for the
// ticker. Provider errors never abort the waterfall: an erroring provider
// is logged and treated exactly like one that returned nothing.
func (m *Manager) AcquireFundamentals(ctx context.Context, ticker string) (*AcquisitionResult, error) {
	date := m.now().UTC().Format("2006-01-02")
	result := &AcquisitionResult{
		Snapshot: domain.NewFundamentalSnapshot(ticker, date),
	}

	for _, adapter := range m.adapters {
		if m.requiredFilled(result.Snapshot) {
			break // early stop, remaining providers would be wasted calls
		}

		name := adapter.Name()
		fields, ok := m.callFundamentals(ctx, adapter, ticker)
		if !ok {
			continue
		}

		filled := MergeFields(result.Snapshot, fields, name, m.now())
		if filled > 0 {
			if result.PrimarySource == "" {
				result.PrimarySource = name
			} else {
				result.FallbackSources = append(result.FallbackSources, name)
			}
		}

		m.log.Debug().
			Str("ticker", ticker).
			Str("provider", name).
			Int("new_fields", filled).
			Int("total_fields", result.Snapshot.FilledCount()).
			Msg("Merged provider result")
	}

	result.SuccessRate = m.successRate(result.Snapshot)

	if result.SuccessRate == 0 {
		// Zero usable data is reported distinctly from partial data, and it
		// is the caller's job to decide what to do with it.
		m.log.Warn().Str("ticker", ticker).Msg("No provider returned any fundamental field")
	}
	return result, nil
}

// AcquirePriceHistory runs the same waterfall for daily bars: the first
// provider that returns a non-empty series wins outright, there is no
// field-level merging for bars.
func (m *Manager) AcquirePriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, string, error) {
	for _, adapter := range m.adapters {
		name := adapter.Name()
		account, ok := m.reserve(name, ticker, adapter.PriceHistoryCost())
		if !ok {
			continue
		}

		var bars []domain.PriceBar
		err := m.policy.Do(ctx, func() error {
			var fetchErr error
			bars, fetchErr = adapter.FetchPriceHistory(ctx, ticker, account, from, to)
			return fetchErr
		})
		if err != nil {
			m.observeError(name, account, ticker, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		return bars, name, nil
	}

	return nil, "", fmt.Errorf("no provider returned price history for %s", ticker)
}

// callFundamentals performs the rate-limit gate, the adapter call and the
// retry policy for one provider. Returns false when the provider yielded
// nothing usable.
func (m *Manager) callFundamentals(ctx context.Context, adapter providers.Adapter, ticker string) (map[domain.Field]float64, bool) {
	name := adapter.Name()
	account, ok := m.reserve(name, ticker, adapter.FundamentalsCost())
	if !ok {
		return nil, false
	}

	var fields map[domain.Field]float64
	err := m.policy.Do(ctx, func() error {
		var fetchErr error
		fields, fetchErr = adapter.FetchFundamentals(ctx, ticker, account)
		return fetchErr
	})
	if err != nil {
		m.observeError(name, account, ticker, err)
		return nil, false
	}
	return fields, true
}

// reserve finds an available account for the provider and atomically
// consumes the fetch's full call cost. A provider with no available account
// is skipped without blocking; the waterfall falls through to the next one.
func (m *Manager) reserve(provider, ticker string, cost int) (string, bool) {
	if cost < 1 {
		cost = 1
	}
	account, ok := m.limiter.NextAvailableAccount(provider)
	if !ok {
		m.log.Debug().
			Str("ticker", ticker).
			Str("provider", provider).
			Msg("No account with available quota, skipping provider")
		return "", false
	}
	if !m.limiter.RecordCalls(provider, account, cost) {
		// Either the remaining quota cannot cover the full fetch, or a
		// concurrent worker took the slot between scan and reserve.
		return "", false
	}
	return account, true
}

// observeError records throttle signals against the account and logs the
// failure. All error kinds are absorbed: the waterfall proceeds.
func (m *Manager) observeError(provider, account, ticker string, err error) {
	if throttled, retryAfter := domain.IsRateLimited(err); throttled {
		m.limiter.RecordThrottled(provider, account, retryAfter)
	}
	m.log.Warn().
		Err(err).
		Str("ticker", ticker).
		Str("provider", provider).
		Str("kind", string(domain.ClassifyError(err))).
		Msg("Provider call failed, continuing waterfall")
}

// requiredFilled returns true once every required field has a value.
func (m *Manager) requiredFilled(snapshot *domain.FundamentalSnapshot) bool {
	for _, field := range m.required {
		if !snapshot.Has(field) {
			return false
		}
	}
	return true
}

// successRate is filled-required over total-required.
func (m *Manager) successRate(snapshot *domain.FundamentalSnapshot) float64 {
	if len(m.required) == 0 {
		return 0
	}
	filled := 0
	for _, field := range m.required {
		if snapshot.Has(field) {
			filled++
		}
	}
	return float64(filled) / float64(len(m.required))
}
