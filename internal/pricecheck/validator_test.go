package pricecheck

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

func bar(date string, o, h, l, c float64) domain.PriceBar {
	return domain.PriceBar{Date: date, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func flatContext(n int, close float64) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	for i := range bars {
		bars[i] = bar(fmt.Sprintf("2026-01-%02d", i+1), close, close+1, close-1, close)
	}
	return bars
}

func TestValidateOHLCConsistency(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	tests := []struct {
		name   string
		bar    domain.PriceBar
		reason string
	}{
		{"high below low", bar("2026-02-01", 10, 9, 11, 10), "high_below_low"},
		{"high below close", bar("2026-02-01", 10, 10.5, 9, 11), "high_below_body"},
		{"low above open", bar("2026-02-01", 9, 11, 9.5, 10), "low_above_body"},
		{"zero close", bar("2026-02-01", 0, 0, 0, 0), "non_positive_close"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := v.Validate(tt.bar, nil)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	ok, reason := v.Validate(bar("2026-02-01", 10, 11, 9, 10.5), nil)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestValidateDayChangeLimits(t *testing.T) {
	v := NewValidator(zerolog.Nop())
	context := flatContext(3, 100)

	// +400% is the boundary; above it is a spike.
	ok, reason := v.Validate(bar("2026-02-01", 100, 600, 100, 501), context)
	assert.False(t, ok)
	assert.Equal(t, "spike_detected", reason)

	// -80% is the boundary; below it is a crash.
	ok, reason = v.Validate(bar("2026-02-01", 100, 100, 10, 19), context)
	assert.False(t, ok)
	assert.Equal(t, "crash_detected", reason)

	// A big-but-plausible move passes.
	ok, _ = v.Validate(bar("2026-02-01", 100, 160, 100, 150), context)
	assert.True(t, ok)
}

func TestValidateOutlier(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	// Context with slight variance so std > 0.
	context := make([]domain.PriceBar, 20)
	for i := range context {
		c := 100.0 + float64(i%3)
		context[i] = bar(fmt.Sprintf("2026-01-%02d", i+1), c, c+1, c-1, c)
	}

	// Within the day-change limits but far beyond 8 standard deviations.
	ok, reason := v.Validate(bar("2026-02-01", 100, 400, 100, 350), context)
	assert.False(t, ok)
	assert.Equal(t, "outlier", reason)

	// No outlier check with a short context.
	ok, _ = v.Validate(bar("2026-02-01", 100, 400, 100, 350), context[:3])
	assert.True(t, ok)
}

func TestValidateAndInterpolateLinear(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := []domain.PriceBar{
		bar("2026-02-01", 100, 101, 99, 100),
		bar("2026-02-02", 100, 1010, 99, 1000), // decimal-shift glitch
		bar("2026-02-03", 102, 103, 101, 102),
	}

	clean, logs := v.ValidateAndInterpolate(bars, flatContext(3, 100))

	require.Len(t, logs, 1)
	assert.Equal(t, "2026-02-02", logs[0].Date)
	assert.Equal(t, 1000.0, logs[0].OriginalClose)
	assert.Equal(t, "linear", logs[0].Method)
	assert.Equal(t, "spike_detected", logs[0].Reason)

	// (100 + 102) / 2
	assert.InDelta(t, 101.0, clean[1].Close, 1e-9)
	// OHLC stays consistent after the repair.
	assert.GreaterOrEqual(t, clean[1].High, clean[1].Close)
	assert.LessOrEqual(t, clean[1].Low, clean[1].Close)

	// Input not mutated.
	assert.Equal(t, 1000.0, bars[1].Close)
}

func TestValidateAndInterpolateForwardFill(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := []domain.PriceBar{
		bar("2026-02-01", 100, 101, 99, 100),
		bar("2026-02-02", 100, 1010, 99, 1000), // last bar in series
	}

	clean, logs := v.ValidateAndInterpolate(bars, nil)

	require.Len(t, logs, 1)
	assert.Equal(t, "forward_fill", logs[0].Method)
	assert.InDelta(t, 100.0, clean[1].Close, 1e-9)
}

func TestValidateAndInterpolateCleanSeries(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := flatContext(5, 100)
	clean, logs := v.ValidateAndInterpolate(bars, nil)

	assert.Empty(t, logs)
	assert.Equal(t, bars, clean)
}

func TestGlitchDoesNotPoisonContext(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	// The glitch bar must not become the baseline for the bar after it:
	// 102 after 1000 would look like a crash if it did.
	bars := []domain.PriceBar{
		bar("2026-02-01", 100, 1010, 99, 1000),
		bar("2026-02-02", 102, 103, 101, 102),
	}

	clean, logs := v.ValidateAndInterpolate(bars, flatContext(3, 100))

	require.Len(t, logs, 1)
	assert.Equal(t, "2026-02-01", logs[0].Date)
	assert.InDelta(t, 102.0, clean[1].Close, 1e-9)
}
