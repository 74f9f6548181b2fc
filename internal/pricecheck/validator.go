// Package pricecheck validates freshly fetched price bars before they are
// stored, catching provider glitches: impossible OHLC relationships,
// decimal-shift spikes and crashes. Abnormal closes are interpolated from
// their neighbors instead of being dropped, so the series stays contiguous
// for the indicator engine.
package pricecheck

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/harvest/internal/domain"
)

const (
	// A close more than zScoreLimit standard deviations from the context
	// mean is treated as abnormal, once enough context exists for the
	// statistic to mean anything.
	zScoreLimit       = 8.0
	minContextForStat = 10

	maxDayChangePercent = 400.0  // >400% day-over-day is a spike
	minDayChangePercent = -80.0  // <-80% day-over-day is a crash
	absolutePriceMin    = 0.0001 // guards divide-by-zero downstream
)

// InterpolationLog records one corrected bar.
type InterpolationLog struct {
	Date          string
	OriginalClose float64
	FixedClose    float64
	Method        string // "linear", "forward_fill"
	Reason        string
}

// Validator checks and repairs bar series.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a price validator.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// Validate checks one bar against recent context. Returns (false, reason)
// for bars that should be repaired. Context is the bars preceding it,
// most recent last.
func (v *Validator) Validate(bar domain.PriceBar, context []domain.PriceBar) (bool, string) {
	// OHLC consistency, no context needed.
	if bar.High < bar.Low {
		return false, "high_below_low"
	}
	if bar.High < bar.Open || bar.High < bar.Close {
		return false, "high_below_body"
	}
	if bar.Low > bar.Open || bar.Low > bar.Close {
		return false, "low_above_body"
	}
	if bar.Close < absolutePriceMin {
		return false, "non_positive_close"
	}

	if len(context) == 0 {
		return true, ""
	}

	// Day-over-day change against the immediately preceding close.
	prevClose := context[len(context)-1].Close
	if prevClose > 0 {
		changePercent := (bar.Close - prevClose) / prevClose * 100
		if changePercent > maxDayChangePercent {
			return false, "spike_detected"
		}
		if changePercent < minDayChangePercent {
			return false, "crash_detected"
		}
	}

	// Statistical outlier check against the context window.
	if len(context) >= minContextForStat {
		closes := make([]float64, len(context))
		for i, c := range context {
			closes[i] = c.Close
		}
		mean, std := stat.MeanStdDev(closes, nil)
		if std > 0 {
			z := (bar.Close - mean) / std
			if z > zScoreLimit || z < -zScoreLimit {
				return false, "outlier"
			}
		}
	}

	return true, ""
}

// ValidateAndInterpolate checks every bar of a fetched series and repairs
// abnormal closes: linear interpolation between the nearest valid
// neighbors when both exist, forward fill otherwise. The input is not
// mutated; context is prior stored history, oldest first.
func (v *Validator) ValidateAndInterpolate(bars, context []domain.PriceBar) ([]domain.PriceBar, []InterpolationLog) {
	out := make([]domain.PriceBar, len(bars))
	copy(out, bars)

	var logs []InterpolationLog
	bad := make([]bool, len(out))

	rolling := make([]domain.PriceBar, len(context), len(context)+len(out))
	copy(rolling, context)

	for i := range out {
		valid, reason := v.Validate(out[i], rolling)
		if !valid {
			bad[i] = true
			logs = append(logs, InterpolationLog{
				Date:          out[i].Date,
				OriginalClose: out[i].Close,
				Reason:        reason,
			})
		} else {
			// Only valid bars extend the context, so one glitch does not
			// poison the baseline for its neighbors.
			rolling = append(rolling, out[i])
		}
	}

	logIdx := 0
	for i := range out {
		if !bad[i] {
			continue
		}
		fixed, method := v.repairClose(out, bad, i, context)
		logs[logIdx].FixedClose = fixed
		logs[logIdx].Method = method
		logIdx++

		out[i].Close = fixed
		// Clamp the rest of the bar so OHLC stays consistent.
		if out[i].High < fixed {
			out[i].High = fixed
		}
		if out[i].Low > fixed || out[i].Low <= 0 {
			out[i].Low = fixed
		}
		if out[i].Open <= 0 {
			out[i].Open = fixed
		}
	}

	if len(logs) > 0 {
		v.log.Warn().
			Int("interpolated", len(logs)).
			Int("total", len(bars)).
			Msg("Repaired abnormal prices")
	}
	return out, logs
}

// repairClose picks a replacement close for the bad bar at index i.
func (v *Validator) repairClose(bars []domain.PriceBar, bad []bool, i int, context []domain.PriceBar) (float64, string) {
	prev, hasPrev := previousValid(bars, bad, i, context)
	next, hasNext := nextValid(bars, bad, i)

	switch {
	case hasPrev && hasNext:
		return (prev + next) / 2, "linear"
	case hasPrev:
		return prev, "forward_fill"
	case hasNext:
		return next, "forward_fill"
	default:
		return bars[i].Close, "unrepaired"
	}
}

func previousValid(bars []domain.PriceBar, bad []bool, i int, context []domain.PriceBar) (float64, bool) {
	for j := i - 1; j >= 0; j-- {
		if !bad[j] {
			return bars[j].Close, true
		}
	}
	if len(context) > 0 {
		return context[len(context)-1].Close, true
	}
	return 0, false
}

func nextValid(bars []domain.PriceBar, bad []bool, i int) (float64, bool) {
	for j := i + 1; j < len(bars); j++ {
		if !bad[j] {
			return bars[j].Close, true
		}
	}
	return 0, false
}
