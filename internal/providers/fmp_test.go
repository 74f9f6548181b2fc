package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

func newTestFMP(t *testing.T, handler http.HandlerFunc) *FMPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewFMPClient(map[string]string{"default": "FMP-KEY"}, zerolog.Nop())
	c.SetBaseURL(srv.URL)
	c.client = srv.Client()
	return c
}

func fmpHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FMP-KEY", r.URL.Query().Get("apikey"))
		switch {
		case strings.Contains(r.URL.Path, "income-statement"):
			w.Write([]byte(`[{"date": "2025-09-27", "revenue": 394328000000, "netIncome": 99803000000, "ebitda": 130541000000, "epsdiluted": 6.13, "reportedCurrency": "USD"}]`))
		case strings.Contains(r.URL.Path, "balance-sheet-statement"):
			w.Write([]byte(`[{"date": "2025-09-27", "totalAssets": 352755000000, "totalDebt": 111088000000, "totalStockholdersEquity": 62146000000}]`))
		case strings.Contains(r.URL.Path, "cash-flow-statement"):
			w.Write([]byte(`[{"date": "2025-09-27", "operatingCashFlow": 110543000000, "freeCashFlow": 99584000000, "capitalExpenditure": -10959000000}]`))
		case strings.Contains(r.URL.Path, "profile"):
			w.Write([]byte(`[{"symbol": "AAPL", "mktCap": 3450000000000}]`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}
}

func TestFMPFetchFundamentals(t *testing.T) {
	c := newTestFMP(t, fmpHandler(t))

	fields, err := c.FetchFundamentals(context.Background(), "AAPL", "default")
	require.NoError(t, err)

	assert.Equal(t, 394328000000.0, fields[domain.FieldRevenue])
	assert.Equal(t, 99803000000.0, fields[domain.FieldNetIncome])
	assert.Equal(t, 6.13, fields[domain.FieldDilutedEPS])
	assert.Equal(t, 352755000000.0, fields[domain.FieldTotalAssets])
	assert.Equal(t, 62146000000.0, fields[domain.FieldShareholdersEquity])
	assert.Equal(t, 110543000000.0, fields[domain.FieldOperatingCashFlow])
	assert.Equal(t, -10959000000.0, fields[domain.FieldCapex])
	assert.Equal(t, 3450000000000.0, fields[domain.FieldMarketCap])
}

func TestFMPPartialStatements(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "income-statement"):
			w.Write([]byte(`[{"revenue": 1000, "netIncome": 100}]`))
		case strings.Contains(r.URL.Path, "profile"):
			w.Write([]byte(`[]`))
		default:
			// Balance sheet and cash flow are unavailable.
			w.WriteHeader(http.StatusNotFound)
		}
	})

	fields, err := c.FetchFundamentals(context.Background(), "AAPL", "default")
	require.NoError(t, err)

	assert.Equal(t, 1000.0, fields[domain.FieldRevenue])
	_, hasAssets := fields[domain.FieldTotalAssets]
	assert.False(t, hasAssets)
	_, hasMktCap := fields[domain.FieldMarketCap]
	assert.False(t, hasMktCap)
}

func TestFMPAllStatementsFail(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchFundamentals(context.Background(), "NOPE", "default")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestFMPEmptyStatementIsNotFound(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := c.FetchFundamentals(context.Background(), "EMPTY", "default")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestFMPFetchPriceHistory(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "historical-price-full/AAPL")
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-08-28", r.URL.Query().Get("to"))
		// FMP returns newest-first.
		w.Write([]byte(`{
			"symbol": "AAPL",
			"historical": [
				{"date": "2026-08-28", "open": 102, "high": 103, "low": 101, "close": 102.5, "volume": 3000},
				{"date": "2026-08-27", "open": 101, "high": 102, "low": 100, "close": 101.5, "volume": 2000},
				{"date": "2026-08-26", "open": 100, "high": 101, "low": 99, "close": 100.5, "volume": 1000}
			]
		}`))
	})

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchPriceHistory(context.Background(), "AAPL", "default", from, to)
	require.NoError(t, err)

	require.Len(t, bars, 3)
	assert.Equal(t, "2026-08-26", bars[0].Date)
	assert.Equal(t, "2026-08-28", bars[2].Date)
	assert.Equal(t, 102.5, bars[2].Close)
}

func TestFMPFetchPriceHistoryEmpty(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol": "NOPE", "historical": []}`))
	})

	_, err := c.FetchPriceHistory(context.Background(), "NOPE", "default",
		time.Now().AddDate(0, 0, -30), time.Now())
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestFMPThrottleStatus(t *testing.T) {
	c := newTestFMP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.fetchStatement(context.Background(), "AAPL", "default", "income-statement", fmpIncomeMapping)
	require.Error(t, err)
	throttled, after := domain.IsRateLimited(err)
	require.True(t, throttled)
	assert.Equal(t, 60*time.Second, after)
}
