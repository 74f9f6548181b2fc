package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// fmpIncomeMapping translates income-statement keys.
var fmpIncomeMapping = FieldMapping{
	"revenue":    domain.FieldRevenue,
	"netIncome":  domain.FieldNetIncome,
	"ebitda":     domain.FieldEBITDA,
	"epsdiluted": domain.FieldDilutedEPS,
}

// fmpBalanceMapping translates balance-sheet keys.
var fmpBalanceMapping = FieldMapping{
	"totalAssets":             domain.FieldTotalAssets,
	"totalDebt":               domain.FieldTotalDebt,
	"totalStockholdersEquity": domain.FieldShareholdersEquity,
	"cashAndCashEquivalents":  domain.FieldCashAndEquivalents,
	"totalCurrentAssets":      domain.FieldCurrentAssets,
	"totalCurrentLiabilities": domain.FieldCurrentLiabilities,
}

// fmpCashFlowMapping translates cash-flow-statement keys.
var fmpCashFlowMapping = FieldMapping{
	"operatingCashFlow":  domain.FieldOperatingCashFlow,
	"freeCashFlow":       domain.FieldFreeCashFlow,
	"capitalExpenditure": domain.FieldCapex,
}

// FMPClient is a Financial Modeling Prep adapter. It covers the widest
// field set of the three providers, which makes it the natural last rung of
// the waterfall despite the higher per-call latency.
type FMPClient struct {
	client  *http.Client
	baseURL string
	keys    map[string]string // account name -> api key
	log     zerolog.Logger
}

// NewFMPClient creates a new Financial Modeling Prep adapter. keys maps
// account names to their API keys.
func NewFMPClient(keys map[string]string, log zerolog.Logger) *FMPClient {
	for _, m := range []FieldMapping{fmpIncomeMapping, fmpBalanceMapping, fmpCashFlowMapping} {
		if err := m.Validate(); err != nil {
			panic(err)
		}
	}
	return &FMPClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://financialmodelingprep.com",
		keys:    keys,
		log:     log.With().Str("client", "fmp").Logger(),
	}
}

// key resolves the API key for an account, falling back to the sole
// configured key when there is exactly one.
func (c *FMPClient) key(account string) string {
	if k, ok := c.keys[account]; ok {
		return k
	}
	if len(c.keys) == 1 {
		for _, k := range c.keys {
			return k
		}
	}
	return ""
}

// Name implements Adapter.
func (c *FMPClient) Name() string { return "fmp" }

// FundamentalsCost implements Adapter: three statement requests plus the
// profile lookup for market cap.
func (c *FMPClient) FundamentalsCost() int { return 4 }

// PriceHistoryCost implements Adapter: one historical-price-full request.
func (c *FMPClient) PriceHistoryCost() int { return 1 }

// SetBaseURL overrides the API base URL. Used in tests.
func (c *FMPClient) SetBaseURL(u string) { c.baseURL = u }

// fetchStatement fetches the most recent report from a statement endpoint
// and maps it to canonical fields.
func (c *FMPClient) fetchStatement(ctx context.Context, ticker, account, statement string, mapping FieldMapping) (map[domain.Field]float64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/%s/%s?limit=1&apikey=%s",
		c.baseURL, statement, url.PathEscape(ticker), url.QueryEscape(c.key(account)))

	var reports []map[string]interface{}
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &reports); err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("no %s reports", statement))
	}

	native := make(map[string]float64, len(reports[0]))
	for key, value := range reports[0] {
		if f, ok := value.(float64); ok {
			native[key] = f
		}
	}
	return mapping.Apply(native), nil
}

// FetchFundamentals implements Adapter. The three statements are fetched
// sequentially; a statement that fails after the first one succeeded only
// shrinks the result, it does not fail the whole call.
func (c *FMPClient) FetchFundamentals(ctx context.Context, ticker, account string) (map[domain.Field]float64, error) {
	statements := []struct {
		endpoint string
		mapping  FieldMapping
	}{
		{"income-statement", fmpIncomeMapping},
		{"balance-sheet-statement", fmpBalanceMapping},
		{"cash-flow-statement", fmpCashFlowMapping},
	}

	fields := make(map[domain.Field]float64)
	fetched := 0
	var firstErr error
	for _, s := range statements {
		part, err := c.fetchStatement(ctx, ticker, account, s.endpoint, s.mapping)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.log.Warn().Err(err).
				Str("ticker", ticker).
				Str("statement", s.endpoint).
				Msg("Statement fetch failed")
			continue
		}
		fetched++
		for field, value := range part {
			fields[field] = value
		}
	}

	if fetched == 0 {
		return nil, firstErr
	}

	// Market cap lives on the profile endpoint.
	if mktCap, err := c.fetchMarketCap(ctx, ticker, account); err == nil {
		fields[domain.FieldMarketCap] = mktCap
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("fields", len(fields)).
		Msg("Fetched fundamentals")
	return fields, nil
}

// fmpProfile is one element of the profile endpoint response.
type fmpProfile struct {
	Symbol string  `json:"symbol"`
	MktCap float64 `json:"mktCap"`
}

func (c *FMPClient) fetchMarketCap(ctx context.Context, ticker, account string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/profile/%s?apikey=%s",
		c.baseURL, url.PathEscape(ticker), url.QueryEscape(c.key(account)))

	var profiles []fmpProfile
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &profiles); err != nil {
		return 0, err
	}
	if len(profiles) == 0 || profiles[0].MktCap <= 0 {
		return 0, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("no profile"))
	}
	return profiles[0].MktCap, nil
}

// fmpHistoricalResponse is the historical-price-full envelope.
type fmpHistoricalResponse struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"historical"`
}

// FetchPriceHistory implements Adapter.
func (c *FMPClient) FetchPriceHistory(ctx context.Context, ticker, account string, from, to time.Time) ([]domain.PriceBar, error) {
	endpoint := fmt.Sprintf("%s/api/v3/historical-price-full/%s?from=%s&to=%s&apikey=%s",
		c.baseURL, url.PathEscape(ticker),
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"),
		url.QueryEscape(c.key(account)))

	var payload fmpHistoricalResponse
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.Historical) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("no historical prices"))
	}

	bars := make([]domain.PriceBar, 0, len(payload.Historical))
	for _, h := range payload.Historical {
		bars = append(bars, domain.PriceBar{
			Date:   h.Date,
			Open:   h.Open,
			High:   h.High,
			Low:    h.Low,
			Close:  h.Close,
			Volume: h.Volume,
		})
	}

	// FMP returns newest-first; the engine needs chronological order.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	c.log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Msg("Fetched price history")
	return bars, nil
}
