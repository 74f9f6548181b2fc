package pipeline

import (
	"sync"
	"time"

	"github.com/aristath/harvest/internal/batch"
	"github.com/aristath/harvest/internal/domain"
	"github.com/aristath/harvest/internal/waterfall"
)

// PhaseSummary is the outcome of one batch phase of the run.
type PhaseSummary struct {
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// RunReport summarizes one daily run. Tally methods are safe for use by
// concurrent batch workers.
type RunReport struct {
	Started           time.Time               `json:"started"`
	Finished          time.Time               `json:"finished"`
	PriceRunID        string                  `json:"price_run_id"`
	FundamentalsRunID string                  `json:"fundamentals_run_id"`
	Phases            map[string]PhaseSummary `json:"phases"`

	// PrimarySources counts fundamentals acquisitions by the provider
	// that contributed first; FallbackUses counts every fallback
	// provider that filled at least one gap.
	PrimarySources map[string]int `json:"primary_sources"`
	FallbackUses   map[string]int `json:"fallback_uses"`
	PriceSources   map[string]int `json:"price_sources"`

	SnapshotsStored    int     `json:"snapshots_stored"`
	RatiosComputed     int     `json:"ratios_computed"`
	IndicatorsComputed int     `json:"indicators_computed"`
	BarsInterpolated   int     `json:"bars_interpolated"`
	EmptyAcquisitions  int     `json:"empty_acquisitions"`
	MeanSuccessRate    float64 `json:"mean_success_rate"`
	QuotaSaveError     string  `json:"quota_save_error,omitempty"`

	mu                 sync.Mutex
	successRateSum     float64
	successRateSamples int
}

func newRunReport(started time.Time) *RunReport {
	return &RunReport{
		Started:        started,
		Phases:         make(map[string]PhaseSummary),
		PrimarySources: make(map[string]int),
		FallbackUses:   make(map[string]int),
		PriceSources:   make(map[string]int),
	}
}

func (r *RunReport) recordPhase(name string, result *batch.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := PhaseSummary{
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
	}
	if len(result.Errors) > 0 {
		summary.Errors = make(map[string]string, len(result.Errors))
		for ticker, err := range result.Errors {
			summary.Errors[ticker] = err.Error()
		}
	}
	r.Phases[name] = summary
}

func (r *RunReport) recordAcquisition(result *waterfall.AcquisitionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successRateSum += result.SuccessRate
	r.successRateSamples++
	r.MeanSuccessRate = r.successRateSum / float64(r.successRateSamples)

	if result.Snapshot.FilledCount() == 0 {
		r.EmptyAcquisitions++
		return
	}
	r.SnapshotsStored++
	if result.PrimarySource != "" {
		r.PrimarySources[result.PrimarySource]++
	}
	for _, source := range result.FallbackSources {
		r.FallbackUses[source]++
	}
}

func (r *RunReport) recordPriceSource(source string, interpolated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PriceSources[source]++
	r.BarsInterpolated += interpolated
}

func (r *RunReport) addRatios(set *domain.RatioSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RatiosComputed += len(set.Ratios)
}

func (r *RunReport) addIndicators(set *domain.IndicatorSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IndicatorsComputed += len(set.Indicators)
}
