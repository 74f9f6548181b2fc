package waterfall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
	"github.com/aristath/harvest/internal/providers"
	"github.com/aristath/harvest/internal/retry"
)

// fakeAdapter scripts one provider's behavior.
type fakeAdapter struct {
	name       string
	fields     map[domain.Field]float64
	bars       []domain.PriceBar
	err        error
	fundCost   int // 0 means 1
	callCount  int
	priceCalls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FundamentalsCost() int {
	if f.fundCost > 0 {
		return f.fundCost
	}
	return 1
}

func (f *fakeAdapter) PriceHistoryCost() int { return 1 }

func (f *fakeAdapter) FetchFundamentals(ctx context.Context, ticker, account string) (map[domain.Field]float64, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func (f *fakeAdapter) FetchPriceHistory(ctx context.Context, ticker, account string, from, to time.Time) ([]domain.PriceBar, error) {
	f.priceCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

// fakeLimiter grants or denies accounts per provider and records throttles.
type fakeLimiter struct {
	denied     map[string]bool
	throttles  map[string]time.Duration
	callCounts map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{
		denied:     make(map[string]bool),
		throttles:  make(map[string]time.Duration),
		callCounts: make(map[string]int),
	}
}

func (f *fakeLimiter) NextAvailableAccount(provider string) (string, bool) {
	if f.denied[provider] {
		return "", false
	}
	return "default", true
}

func (f *fakeLimiter) RecordCalls(provider, account string, n int) bool {
	if f.denied[provider] {
		return false
	}
	f.callCounts[provider] += n
	return true
}

func (f *fakeLimiter) RecordThrottled(provider, account string, retryAfter time.Duration) {
	f.throttles[provider] = retryAfter
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 1}
}

func TestAcquireFundamentalsFallbackFillsGaps(t *testing.T) {
	// Provider A has revenue only; provider B has revenue and net income.
	// The merged snapshot takes revenue from A and net income from B.
	a := &fakeAdapter{name: "yahoo", fields: map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}}
	b := &fakeAdapter{name: "fmp", fields: map[domain.Field]float64{
		domain.FieldRevenue:   2222,
		domain.FieldNetIncome: 100,
	}}

	m := NewManager([]providers.Adapter{a, b}, newFakeLimiter(),
		[]domain.Field{domain.FieldRevenue, domain.FieldNetIncome},
		fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)

	assert.Equal(t, 1000.0, *result.Snapshot.Get(domain.FieldRevenue))
	assert.Equal(t, 100.0, *result.Snapshot.Get(domain.FieldNetIncome))
	assert.Equal(t, "yahoo", result.PrimarySource)
	assert.Equal(t, []string{"fmp"}, result.FallbackSources)
	assert.Equal(t, 1.0, result.SuccessRate)
}

func TestAcquireFundamentalsEarlyStop(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", fields: map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}}
	b := &fakeAdapter{name: "fmp", fields: map[domain.Field]float64{
		domain.FieldNetIncome: 100,
	}}

	m := NewManager([]providers.Adapter{a, b}, newFakeLimiter(),
		[]domain.Field{domain.FieldRevenue}, fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)

	// The required set was satisfied by the first provider; the second
	// must not be called at all.
	assert.Equal(t, 1, a.callCount)
	assert.Equal(t, 0, b.callCount)
	assert.Equal(t, 1.0, result.SuccessRate)
}

func TestAcquireFundamentalsSkipsExhaustedProvider(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", fields: map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}}
	b := &fakeAdapter{name: "fmp", fields: map[domain.Field]float64{
		domain.FieldRevenue: 2000,
	}}

	limiter := newFakeLimiter()
	limiter.denied["yahoo"] = true

	m := NewManager([]providers.Adapter{a, b}, limiter,
		[]domain.Field{domain.FieldRevenue}, fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)

	assert.Equal(t, 0, a.callCount)
	assert.Equal(t, "fmp", result.PrimarySource)
	assert.Equal(t, 2000.0, *result.Snapshot.Get(domain.FieldRevenue))
}

func TestAcquireFundamentalsAbsorbsProviderErrors(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", err: domain.NewProviderError(
		"yahoo", "TEST", domain.ErrKindMalformed, errors.New("bad json"))}
	b := &fakeAdapter{name: "fmp", fields: map[domain.Field]float64{
		domain.FieldRevenue: 2000,
	}}

	m := NewManager([]providers.Adapter{a, b}, newFakeLimiter(),
		[]domain.Field{domain.FieldRevenue}, fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)
	assert.Equal(t, "fmp", result.PrimarySource)
}

func TestAcquireFundamentalsZeroSuccessRate(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", err: domain.NewProviderError(
		"yahoo", "TEST", domain.ErrKindNotFound, errors.New("unknown"))}

	m := NewManager([]providers.Adapter{a}, newFakeLimiter(), nil, fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.SuccessRate)
	assert.Equal(t, 0, result.Snapshot.FilledCount())
	assert.Empty(t, result.PrimarySource)
}

func TestAcquireFundamentalsRecordsThrottle(t *testing.T) {
	a := &fakeAdapter{name: "alphavantage", err: domain.NewRateLimitError(
		"alphavantage", "TEST", 90*time.Second, errors.New("throttled"))}

	limiter := newFakeLimiter()
	m := NewManager([]providers.Adapter{a}, limiter, nil, fastPolicy(), zerolog.Nop())

	_, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, limiter.throttles["alphavantage"])
}

func TestAcquireFundamentalsSuccessRatePartial(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", fields: map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}}

	m := NewManager([]providers.Adapter{a}, newFakeLimiter(),
		[]domain.Field{domain.FieldRevenue, domain.FieldNetIncome, domain.FieldEBITDA, domain.FieldTotalAssets},
		fastPolicy(), zerolog.Nop())

	result, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, result.SuccessRate, 1e-9)
}

func TestAcquireFundamentalsReservesAdapterCost(t *testing.T) {
	// An adapter whose one fetch issues four provider requests must charge
	// all four against the quota, not just one.
	a := &fakeAdapter{name: "fmp", fundCost: 4, fields: map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}}

	limiter := newFakeLimiter()
	m := NewManager([]providers.Adapter{a}, limiter,
		[]domain.Field{domain.FieldRevenue}, fastPolicy(), zerolog.Nop())

	_, err := m.AcquireFundamentals(context.Background(), "TEST")
	require.NoError(t, err)
	assert.Equal(t, 4, limiter.callCounts["fmp"])
}

func TestAcquirePriceHistoryFirstNonEmptyWins(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", err: domain.NewProviderError(
		"yahoo", "TEST", domain.ErrKindTransientNetwork, errors.New("timeout"))}
	b := &fakeAdapter{name: "fmp", bars: []domain.PriceBar{
		{Date: "2026-08-27", Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
	}}

	m := NewManager([]providers.Adapter{a, b}, newFakeLimiter(), nil, fastPolicy(), zerolog.Nop())

	bars, source, err := m.AcquirePriceHistory(context.Background(), "TEST",
		time.Now().AddDate(0, 0, -30), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fmp", source)
	require.Len(t, bars, 1)
}

func TestAcquirePriceHistoryAllFail(t *testing.T) {
	a := &fakeAdapter{name: "yahoo", err: domain.NewProviderError(
		"yahoo", "TEST", domain.ErrKindNotFound, errors.New("unknown"))}

	m := NewManager([]providers.Adapter{a}, newFakeLimiter(), nil, fastPolicy(), zerolog.Nop())

	_, _, err := m.AcquirePriceHistory(context.Background(), "TEST",
		time.Now().AddDate(0, 0, -30), time.Now())
	require.Error(t, err)
}
