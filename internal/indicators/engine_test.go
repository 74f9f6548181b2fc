package indicators

import (
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

// makeBars builds n chronological bars with a gently rising close.
func makeBars(n int) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)*0.5 + 2*math.Sin(float64(i)/3)
		bars[i] = domain.PriceBar{
			Date:   fmt.Sprintf("2026-01-%02d", i%28+1),
			Open:   base - 0.5,
			High:   base + 1,
			Low:    base - 1,
			Close:  base,
			Volume: 1000 + int64(i)*10,
		}
	}
	return bars
}

func TestComputeTwentyBars(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	set := engine.Compute("TEST", makeBars(20))

	require.Len(t, set.Indicators, 16)
	assert.Equal(t, "TEST", set.Ticker)

	// Enough history for the short-window indicators.
	for _, name := range []string{IndRSI14, IndCCI20, IndStochK, IndStochD, IndEMA20, IndBBUpper, IndBBMiddle, IndBBLower, IndATR14, IndVWAP} {
		iv := set.Indicators[name]
		require.NotNil(t, iv.Value, "indicator %s should have a value", name)
		assert.Empty(t, iv.Reason, "indicator %s", name)
	}

	// Not enough for the long-window ones.
	for _, name := range []string{IndEMA50, IndEMA100, IndEMA200, IndMACD, IndMACDSignal, IndMACDHist} {
		iv := set.Indicators[name]
		assert.Nil(t, iv.Value, "indicator %s should be null", name)
		assert.Equal(t, "insufficient history", iv.Reason, "indicator %s", name)
	}
}

func TestComputeLongSeries(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	set := engine.Compute("TEST", makeBars(250))

	for name, iv := range set.Indicators {
		require.NotNil(t, iv.Value, "indicator %s should have a value", name)
		assert.False(t, math.IsNaN(*iv.Value), "indicator %s is NaN", name)
	}

	rsi := set.Indicators[IndRSI14]
	assert.Greater(t, *rsi.Value, 0.0)
	assert.Less(t, *rsi.Value, 100.0)
}

func TestComputeEmptySeries(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	set := engine.Compute("TEST", nil)

	require.Len(t, set.Indicators, 16)
	assert.Empty(t, set.Date)
	for name, iv := range set.Indicators {
		assert.Nil(t, iv.Value, "indicator %s", name)
		assert.Equal(t, "insufficient history", iv.Reason, "indicator %s", name)
	}
}

func TestComputeMACDGateExcludesZeroFilledHead(t *testing.T) {
	engine := NewEngine(zerolog.Nop())

	// go-talib zero-fills the MACD line until 33 bars exist; below that the
	// engine must report null, never a fabricated zero.
	for _, n := range []int{26, 30, 32} {
		set := engine.Compute("TEST", makeBars(n))
		iv := set.Indicators[IndMACD]
		assert.Nil(t, iv.Value, "macd with %d bars should be null", n)
		assert.Equal(t, "insufficient history", iv.Reason, "macd with %d bars", n)
	}

	set := engine.Compute("TEST", makeBars(33))
	iv := set.Indicators[IndMACD]
	require.NotNil(t, iv.Value)
	assert.NotZero(t, *iv.Value)
}

func TestComputeDateIsLatestBar(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	bars := makeBars(25)
	set := engine.Compute("TEST", bars)
	assert.Equal(t, bars[len(bars)-1].Date, set.Date)
}

func TestComputeIsDeterministic(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	bars := makeBars(60)

	first := engine.Compute("TEST", bars)
	second := engine.Compute("TEST", bars)
	assert.Equal(t, first, second)
}

func TestVWAPZeroVolumeFallback(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	bars := makeBars(5)
	for i := range bars {
		bars[i].Volume = 0
	}

	set := engine.Compute("TEST", bars)
	iv := set.Indicators[IndVWAP]
	require.NotNil(t, iv.Value)
	assert.False(t, math.IsNaN(*iv.Value))
}

func TestVWAPWeightsByVolume(t *testing.T) {
	bars := []domain.PriceBar{
		{Date: "2026-01-01", High: 10, Low: 10, Close: 10, Volume: 1},
		{Date: "2026-01-02", High: 20, Low: 20, Close: 20, Volume: 3},
	}

	engine := NewEngine(zerolog.Nop())
	set := engine.Compute("TEST", bars)
	iv := set.Indicators[IndVWAP]
	require.NotNil(t, iv.Value)
	// (10*1 + 20*3) / 4 = 17.5
	assert.InDelta(t, 17.5, *iv.Value, 1e-9)
}
