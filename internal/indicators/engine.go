// Package indicators computes technical indicators over an ordered daily
// bar series using go-talib. Every indicator declares a minimum bar count
// (its sufficiency gate); the engine computes only indicators whose gate is
// met by the available history and yields null for the rest. Indicators
// are computed in isolation: one failing never aborts the others.
package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// Indicator names, as persisted and served.
const (
	IndRSI14      = "rsi_14"
	IndCCI20      = "cci_20"
	IndStochK     = "stoch_k"
	IndStochD     = "stoch_d"
	IndEMA20      = "ema_20"
	IndEMA50      = "ema_50"
	IndEMA100     = "ema_100"
	IndEMA200     = "ema_200"
	IndMACD       = "macd"
	IndMACDSignal = "macd_signal"
	IndMACDHist   = "macd_hist"
	IndBBUpper    = "bb_upper"
	IndBBMiddle   = "bb_middle"
	IndBBLower    = "bb_lower"
	IndATR14      = "atr_14"
	IndVWAP       = "vwap"
)

// Reason codes for null indicator values.
const (
	reasonInsufficientHistory = "insufficient history"
	reasonComputationFailed   = "computation failed"
)

// series is the column view of a bar sequence that talib consumes.
type series struct {
	open   []float64
	high   []float64
	low    []float64
	close  []float64
	volume []float64
}

// indicatorSpec couples an indicator's name with its minimum-history gate
// and its computation.
type indicatorSpec struct {
	name    string
	minBars int
	compute func(s series) []float64
}

// specs is the fixed set of computed indicators. Minimum bar counts follow
// each indicator's own lookback: an EMA needs its full period, the
// oscillators need their window. RSI and ATR consume one bar for the
// initial difference, so they need period+1. The MACD line's head is
// zero-filled by go-talib until both the slow EMA and the signal lookback
// are satisfied; the first real value appears with 33 bars, so the gate is
// 33 rather than the slow period alone (a zero-filled head would otherwise
// be reported as a computed zero).
var specs = []indicatorSpec{
	{IndRSI14, 15, func(s series) []float64 { return talib.Rsi(s.close, 14) }},
	{IndCCI20, 20, func(s series) []float64 { return talib.Cci(s.high, s.low, s.close, 20) }},
	{IndStochK, 20, func(s series) []float64 {
		k, _ := talib.Stoch(s.high, s.low, s.close, 14, 3, talib.SMA, 3, talib.SMA)
		return k
	}},
	{IndStochD, 20, func(s series) []float64 {
		_, d := talib.Stoch(s.high, s.low, s.close, 14, 3, talib.SMA, 3, talib.SMA)
		return d
	}},
	{IndEMA20, 20, func(s series) []float64 { return talib.Ema(s.close, 20) }},
	{IndEMA50, 50, func(s series) []float64 { return talib.Ema(s.close, 50) }},
	{IndEMA100, 100, func(s series) []float64 { return talib.Ema(s.close, 100) }},
	{IndEMA200, 200, func(s series) []float64 { return talib.Ema(s.close, 200) }},
	{IndMACD, 33, func(s series) []float64 {
		macd, _, _ := talib.Macd(s.close, 12, 26, 9)
		return macd
	}},
	{IndMACDSignal, 35, func(s series) []float64 {
		_, signal, _ := talib.Macd(s.close, 12, 26, 9)
		return signal
	}},
	{IndMACDHist, 35, func(s series) []float64 {
		_, _, hist := talib.Macd(s.close, 12, 26, 9)
		return hist
	}},
	{IndBBUpper, 20, func(s series) []float64 {
		upper, _, _ := talib.BBands(s.close, 20, 2, 2, talib.SMA)
		return upper
	}},
	{IndBBMiddle, 20, func(s series) []float64 {
		_, middle, _ := talib.BBands(s.close, 20, 2, 2, talib.SMA)
		return middle
	}},
	{IndBBLower, 20, func(s series) []float64 {
		_, _, lower := talib.BBands(s.close, 20, 2, 2, talib.SMA)
		return lower
	}},
	{IndATR14, 15, func(s series) []float64 { return talib.Atr(s.high, s.low, s.close, 14) }},
	{IndVWAP, 1, vwap},
}

// Engine computes the indicator set for a bar series. Pure apart from
// logging: identical input always yields identical output.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates an indicator engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "indicator_engine").Logger()}
}

// Compute derives all indicators from bars, which must be in chronological
// order. The returned set is dated at the latest bar. An empty series
// yields a set with every indicator null.
func (e *Engine) Compute(ticker string, bars []domain.PriceBar) *domain.IndicatorSet {
	set := &domain.IndicatorSet{
		Ticker:     ticker,
		Indicators: make(map[string]domain.IndicatorValue, len(specs)),
	}
	if len(bars) > 0 {
		set.Date = bars[len(bars)-1].Date
	}

	s := toSeries(bars)
	for _, spec := range specs {
		set.Indicators[spec.name] = e.computeOne(ticker, spec, s, len(bars))
	}
	return set
}

// computeOne runs a single indicator behind its sufficiency gate, isolating
// panics so one broken computation cannot take down the rest.
func (e *Engine) computeOne(ticker string, spec indicatorSpec, s series, barCount int) (result domain.IndicatorValue) {
	if barCount < spec.minBars {
		return domain.IndicatorValue{Reason: reasonInsufficientHistory}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("ticker", ticker).
				Str("indicator", spec.name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Indicator computation panicked")
			result = domain.IndicatorValue{Reason: reasonComputationFailed}
		}
	}()

	values := spec.compute(s)
	if len(values) == 0 {
		return domain.IndicatorValue{Reason: reasonInsufficientHistory}
	}
	last := values[len(values)-1]
	if last != last { // NaN: lookback not yet satisfied despite the gate
		return domain.IndicatorValue{Reason: reasonInsufficientHistory}
	}
	return domain.IndicatorValue{Value: &last}
}

// vwap is the volume-weighted average of the typical price over the whole
// available window. go-talib has no VWAP, so it is computed directly.
func vwap(s series) []float64 {
	var priceVolume, volume float64
	for i := range s.close {
		typical := (s.high[i] + s.low[i] + s.close[i]) / 3
		priceVolume += typical * s.volume[i]
		volume += s.volume[i]
	}
	if volume == 0 {
		// No traded volume in the window; fall back to the typical price
		// average so one halted week does not null the indicator.
		var sum float64
		for i := range s.close {
			sum += (s.high[i] + s.low[i] + s.close[i]) / 3
		}
		return []float64{sum / float64(len(s.close))}
	}
	return []float64{priceVolume / volume}
}

// toSeries converts bars to the column layout talib expects.
func toSeries(bars []domain.PriceBar) series {
	s := series{
		open:   make([]float64, len(bars)),
		high:   make([]float64, len(bars)),
		low:    make([]float64, len(bars)),
		close:  make([]float64, len(bars)),
		volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.open[i] = b.Open
		s.high[i] = b.High
		s.low[i] = b.Low
		s.close[i] = b.Close
		s.volume[i] = float64(b.Volume)
	}
	return s
}
