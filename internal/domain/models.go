// Package domain provides core domain models and types for the data
// acquisition pipeline: canonical fundamental fields, merged snapshots,
// price bars and the derived ratio/indicator sets.
package domain

import "time"

// ValuedField is a single fundamental field as retrieved from a provider.
// Value is nil when the provider reported the field as unavailable.
type ValuedField struct {
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	Value     *float64  `json:"value"`
}

// FundamentalSnapshot is the merged per-ticker, per-day view of fundamental
// fields assembled from one or more providers. A field, once filled by a
// higher-priority provider, is never overwritten within the same run.
type FundamentalSnapshot struct {
	Ticker string                `json:"ticker"`
	Date   string                `json:"date"` // YYYY-MM-DD
	Fields map[Field]ValuedField `json:"fields"`
}

// NewFundamentalSnapshot creates an empty snapshot for a ticker and date.
func NewFundamentalSnapshot(ticker, date string) *FundamentalSnapshot {
	return &FundamentalSnapshot{
		Ticker: ticker,
		Date:   date,
		Fields: make(map[Field]ValuedField),
	}
}

// Get returns the value for a field, or nil if the field is missing or was
// reported as null by its source.
func (s *FundamentalSnapshot) Get(f Field) *float64 {
	if vf, ok := s.Fields[f]; ok {
		return vf.Value
	}
	return nil
}

// Has returns true if the field is present with a non-nil value.
func (s *FundamentalSnapshot) Has(f Field) bool {
	vf, ok := s.Fields[f]
	return ok && vf.Value != nil
}

// FilledCount returns the number of fields present with non-nil values.
func (s *FundamentalSnapshot) FilledCount() int {
	count := 0
	for _, vf := range s.Fields {
		if vf.Value != nil {
			count++
		}
	}
	return count
}

// Provenance returns a field → source-provider map for all filled fields.
func (s *FundamentalSnapshot) Provenance() map[Field]string {
	out := make(map[Field]string, len(s.Fields))
	for f, vf := range s.Fields {
		if vf.Value != nil {
			out[f] = vf.Source
		}
	}
	return out
}

// PriceBar represents a daily OHLCV price point for one ticker.
// Bars are immutable once stored and upsertable by (ticker, date).
type PriceBar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// RatioValue is a single computed ratio. Value is nil when the ratio is not
// computable for the input; Reason always explains why (or confirms the
// computation), so consumers can tell "not computable" from "zero".
type RatioValue struct {
	Reason string   `json:"reason"`
	Value  *float64 `json:"value"`
	Capped bool     `json:"capped,omitempty"`
}

// RatioSet holds all computed ratios for a ticker on a calculation date.
// Derived data: recomputed whenever inputs change, never hand-edited.
type RatioSet struct {
	Ticker string                `json:"ticker"`
	Date   string                `json:"date"`
	Ratios map[string]RatioValue `json:"ratios"`
}

// IndicatorValue is a single computed technical indicator. Value is nil
// until the bar series satisfies the indicator's minimum-history gate.
type IndicatorValue struct {
	Reason string   `json:"reason,omitempty"`
	Value  *float64 `json:"value"`
}

// IndicatorSet holds all computed indicators for a ticker as of the latest
// bar date in the series they were computed from.
type IndicatorSet struct {
	Ticker     string                    `json:"ticker"`
	Date       string                    `json:"date"`
	Indicators map[string]IndicatorValue `json:"indicators"`
}
