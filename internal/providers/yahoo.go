package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// yahooFieldMapping translates Yahoo quote-summary keys to canonical fields.
// Yahoo has no balance-sheet detail on this endpoint, so total assets and
// the current-ratio inputs come from lower-priority providers.
var yahooFieldMapping = FieldMapping{
	"totalRevenue":      domain.FieldRevenue,
	"netIncomeToCommon": domain.FieldNetIncome,
	"totalDebt":         domain.FieldTotalDebt,
	"totalCash":         domain.FieldCashAndEquivalents,
	"marketCap":         domain.FieldMarketCap,
	"sharesOutstanding": domain.FieldSharesOutstanding,
	"bookValue":         domain.FieldBookValuePerShare,
	"trailingEps":       domain.FieldDilutedEPS,
	"ebitda":            domain.FieldEBITDA,
	"operatingCashflow": domain.FieldOperatingCashFlow,
	"freeCashflow":      domain.FieldFreeCashFlow,
}

// YahooClient is a Yahoo Finance adapter.
type YahooClient struct {
	client  *http.Client
	baseURL string
	mapping FieldMapping
	log     zerolog.Logger
}

// NewYahooClient creates a new Yahoo Finance adapter.
func NewYahooClient(log zerolog.Logger) *YahooClient {
	if err := yahooFieldMapping.Validate(); err != nil {
		panic(err) // wiring bug, not a runtime condition
	}
	return &YahooClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://query1.finance.yahoo.com",
		mapping: yahooFieldMapping,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name implements Adapter.
func (c *YahooClient) Name() string { return "yahoo" }

// FundamentalsCost implements Adapter: one quoteSummary request.
func (c *YahooClient) FundamentalsCost() int { return 1 }

// PriceHistoryCost implements Adapter: one chart request.
func (c *YahooClient) PriceHistoryCost() int { return 1 }

// SetBaseURL overrides the API base URL. Used in tests.
func (c *YahooClient) SetBaseURL(u string) { c.baseURL = u }

// yahooSummaryResponse is the quoteSummary envelope. Values arrive as
// {"raw": 123.4, "fmt": "123.40"} objects, modeled here as nested maps.
type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]map[string]interface{} `json:"result"`
		Error  interface{}                         `json:"error"`
	} `json:"quoteSummary"`
}

// FetchFundamentals implements Adapter. Yahoo needs no credentials, so
// the account is unused.
func (c *YahooClient) FetchFundamentals(ctx context.Context, ticker, _ string) (map[domain.Field]float64, error) {
	endpoint := fmt.Sprintf(
		"%s/v10/finance/quoteSummary/%s?modules=financialData,defaultKeyStatistics,summaryDetail",
		c.baseURL, url.PathEscape(ticker),
	)

	var payload yahooSummaryResponse
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &payload); err != nil {
		return nil, err
	}

	if len(payload.QuoteSummary.Result) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("empty quoteSummary result"))
	}

	// Flatten all requested modules into one native key → raw value map.
	native := make(map[string]float64)
	for _, module := range payload.QuoteSummary.Result[0] {
		for key, value := range module {
			if raw, ok := extractRaw(value); ok {
				native[key] = raw
			}
		}
	}

	fields := c.mapping.Apply(native)
	c.log.Debug().
		Str("ticker", ticker).
		Int("fields", len(fields)).
		Msg("Fetched fundamentals")
	return fields, nil
}

// extractRaw pulls the numeric "raw" member out of a Yahoo value object.
// Plain numbers are accepted too; everything else is skipped.
func extractRaw(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case map[string]interface{}:
		if raw, ok := v["raw"].(float64); ok {
			return raw, true
		}
	}
	return 0, false
}

// yahooChartResponse is the v8 chart envelope.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// FetchPriceHistory implements Adapter.
func (c *YahooClient) FetchPriceHistory(ctx context.Context, ticker, _ string, from, to time.Time) ([]domain.PriceBar, error) {
	endpoint := fmt.Sprintf(
		"%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		c.baseURL, url.PathEscape(ticker), from.Unix(), to.Unix(),
	)

	var payload yahooChartResponse
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &payload); err != nil {
		return nil, err
	}

	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("empty chart result"))
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Open) != n || len(quote.High) != n || len(quote.Low) != n ||
		len(quote.Close) != n || len(quote.Volume) != n {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindMalformed,
			fmt.Errorf("quote arrays do not match %d timestamps (open=%d high=%d low=%d close=%d volume=%d)",
				n, len(quote.Open), len(quote.High), len(quote.Low), len(quote.Close), len(quote.Volume)))
	}

	bars := make([]domain.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Yahoo pads halted days with nulls; skip incomplete bars.
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		var volume int64
		if quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		bars = append(bars, domain.PriceBar{
			Date:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: volume,
		})
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Msg("Fetched price history")
	return bars, nil
}
