package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

const (
	// Alpha Vantage payloads change at most daily; cache-first avoids
	// burning the tight free-tier quota on repeat lookups.
	alphaVantageCacheTTL = 24 * time.Hour

	cacheTableOverview     = "alphavantage_overview"
	cacheTableBalanceSheet = "alphavantage_balance_sheet"
)

// alphaVantageOverviewMapping translates OVERVIEW keys to canonical fields.
var alphaVantageOverviewMapping = FieldMapping{
	"RevenueTTM":           domain.FieldRevenue,
	"EBITDA":               domain.FieldEBITDA,
	"MarketCapitalization": domain.FieldMarketCap,
	"SharesOutstanding":    domain.FieldSharesOutstanding,
	"DilutedEPSTTM":        domain.FieldDilutedEPS,
	"BookValue":            domain.FieldBookValuePerShare,
}

// alphaVantageBalanceMapping translates BALANCE_SHEET report keys.
var alphaVantageBalanceMapping = FieldMapping{
	"totalAssets":                           domain.FieldTotalAssets,
	"totalCurrentAssets":                    domain.FieldCurrentAssets,
	"totalCurrentLiabilities":               domain.FieldCurrentLiabilities,
	"totalShareholderEquity":                domain.FieldShareholdersEquity,
	"shortLongTermDebtTotal":                domain.FieldTotalDebt,
	"cashAndCashEquivalentsAtCarryingValue": domain.FieldCashAndEquivalents,
}

// AlphaVantageClient is an Alpha Vantage adapter. Fundamentals come from
// the OVERVIEW and BALANCE_SHEET functions, price history from
// TIME_SERIES_DAILY. Responses are cached because the free tier allows
// only a handful of calls per day.
type AlphaVantageClient struct {
	client  *http.Client
	baseURL string
	keys    map[string]string // account name -> api key
	cache   PayloadCache      // optional
	log     zerolog.Logger
}

// NewAlphaVantageClient creates a new Alpha Vantage adapter. keys maps
// account names to their API keys; account rotation picks which one each
// call uses.
func NewAlphaVantageClient(keys map[string]string, log zerolog.Logger) *AlphaVantageClient {
	for _, m := range []FieldMapping{alphaVantageOverviewMapping, alphaVantageBalanceMapping} {
		if err := m.Validate(); err != nil {
			panic(err)
		}
	}
	return &AlphaVantageClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://www.alphavantage.co",
		keys:    keys,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// key resolves the API key for an account. An unknown account falls back
// to the sole configured key when there is exactly one.
func (c *AlphaVantageClient) key(account string) string {
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
func (c *AlphaVantageClient) Name() string { return "alphavantage" }

// FundamentalsCost implements Adapter: OVERVIEW plus BALANCE_SHEET are two
// metered requests. Cache hits cost less, but the quota charge covers the
// worst case so the daily limit is never exceeded.
func (c *AlphaVantageClient) FundamentalsCost() int { return 2 }

// PriceHistoryCost implements Adapter: one TIME_SERIES_DAILY request.
func (c *AlphaVantageClient) PriceHistoryCost() int { return 1 }

// SetBaseURL overrides the API base URL. Used in tests.
func (c *AlphaVantageClient) SetBaseURL(u string) { c.baseURL = u }

// SetCache wires the persistent payload cache. Optional; without it every
// fetch goes to the network.
func (c *AlphaVantageClient) SetCache(cache PayloadCache) { c.cache = cache }

// FetchFundamentals implements Adapter.
func (c *AlphaVantageClient) FetchFundamentals(ctx context.Context, ticker, account string) (map[domain.Field]float64, error) {
	overview, err := c.fetchStringPayload(ctx, ticker, account, "OVERVIEW", cacheTableOverview)
	if err != nil {
		return nil, err
	}

	fields := alphaVantageOverviewMapping.Apply(parseStringNumbers(overview))

	// The balance sheet is a separate function; a failure there still
	// yields the overview fields (partial results are normal).
	balance, err := c.fetchBalanceSheet(ctx, ticker, account)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Balance sheet fetch failed, returning overview fields only")
		return fields, nil
	}
	for field, value := range alphaVantageBalanceMapping.Apply(balance) {
		fields[field] = value
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("fields", len(fields)).
		Msg("Fetched fundamentals")
	return fields, nil
}

// fetchStringPayload fetches a flat string-keyed function payload,
// consulting the cache first.
func (c *AlphaVantageClient) fetchStringPayload(ctx context.Context, ticker, account, function, cacheTable string) (map[string]string, error) {
	var payload map[string]string

	if c.cache != nil {
		if ok, err := c.cache.Load(cacheTable, ticker, &payload); err == nil && ok {
			c.log.Debug().Str("ticker", ticker).Str("function", function).Msg("Cache hit")
			return payload, nil
		}
	}

	endpoint := fmt.Sprintf("%s/query?function=%s&symbol=%s&apikey=%s",
		c.baseURL, function, url.QueryEscape(ticker), url.QueryEscape(c.key(account)))

	var raw map[string]interface{}
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &raw); err != nil {
		return nil, err
	}
	if err := c.checkAPIErrors(ticker, raw); err != nil {
		return nil, err
	}

	payload = make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			payload[key] = s
		}
	}

	if c.cache != nil {
		if err := c.cache.Store(cacheTable, ticker, payload, alphaVantageCacheTTL); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache payload")
		}
	}
	return payload, nil
}

// alphaVantageBalanceResponse is the BALANCE_SHEET envelope.
type alphaVantageBalanceResponse struct {
	AnnualReports []map[string]string `json:"annualReports"`
}

func (c *AlphaVantageClient) fetchBalanceSheet(ctx context.Context, ticker, account string) (map[string]float64, error) {
	var cached alphaVantageBalanceResponse
	if c.cache != nil {
		if ok, err := c.cache.Load(cacheTableBalanceSheet, ticker, &cached); err == nil && ok && len(cached.AnnualReports) > 0 {
			return parseStringNumbers(cached.AnnualReports[0]), nil
		}
	}

	endpoint := fmt.Sprintf("%s/query?function=BALANCE_SHEET&symbol=%s&apikey=%s",
		c.baseURL, url.QueryEscape(ticker), url.QueryEscape(c.key(account)))

	var payload alphaVantageBalanceResponse
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.AnnualReports) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("no annual reports"))
	}

	if c.cache != nil {
		if err := c.cache.Store(cacheTableBalanceSheet, ticker, payload, alphaVantageCacheTTL); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache balance sheet")
		}
	}
	return parseStringNumbers(payload.AnnualReports[0]), nil
}

// checkAPIErrors handles Alpha Vantage's habit of reporting problems inside
// a 200 response: "Note"/"Information" means throttled, "Error Message"
// means unknown symbol.
func (c *AlphaVantageClient) checkAPIErrors(ticker string, raw map[string]interface{}) error {
	if _, ok := raw["Note"]; ok {
		return domain.NewRateLimitError(c.Name(), ticker, 0, fmt.Errorf("api call frequency note"))
	}
	if _, ok := raw["Information"]; ok {
		return domain.NewRateLimitError(c.Name(), ticker, 0, fmt.Errorf("api information notice"))
	}
	if msg, ok := raw["Error Message"]; ok {
		return domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("%v", msg))
	}
	if len(raw) == 0 {
		return domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound,
			fmt.Errorf("empty payload"))
	}
	return nil
}

// alphaVantageDailyResponse is the TIME_SERIES_DAILY envelope.
type alphaVantageDailyResponse struct {
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
	Note       string                       `json:"Note"`
	ErrorMsg   string                       `json:"Error Message"`
}

// FetchPriceHistory implements Adapter.
func (c *AlphaVantageClient) FetchPriceHistory(ctx context.Context, ticker, account string, from, to time.Time) ([]domain.PriceBar, error) {
	endpoint := fmt.Sprintf("%s/query?function=TIME_SERIES_DAILY&symbol=%s&outputsize=full&apikey=%s",
		c.baseURL, url.QueryEscape(ticker), url.QueryEscape(c.key(account)))

	var payload alphaVantageDailyResponse
	if err := doGetJSON(ctx, c.client, c.Name(), ticker, endpoint, &payload); err != nil {
		return nil, err
	}
	if payload.Note != "" {
		return nil, domain.NewRateLimitError(c.Name(), ticker, 0, fmt.Errorf("api call frequency note"))
	}
	if payload.ErrorMsg != "" {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindNotFound, fmt.Errorf("%s", payload.ErrorMsg))
	}
	if len(payload.TimeSeries) == 0 {
		return nil, domain.NewProviderError(c.Name(), ticker, domain.ErrKindMalformed,
			fmt.Errorf("missing time series"))
	}

	fromDate := from.UTC().Format("2006-01-02")
	toDate := to.UTC().Format("2006-01-02")

	bars := make([]domain.PriceBar, 0, len(payload.TimeSeries))
	for date, values := range payload.TimeSeries {
		if date < fromDate || date > toDate {
			continue
		}
		bar, ok := parseDailyBar(date, values)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	// The payload is keyed by date, so ordering is ours to establish.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	c.log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Msg("Fetched price history")
	return bars, nil
}

func parseDailyBar(date string, values map[string]string) (domain.PriceBar, bool) {
	open, err1 := strconv.ParseFloat(values["1. open"], 64)
	high, err2 := strconv.ParseFloat(values["2. high"], 64)
	low, err3 := strconv.ParseFloat(values["3. low"], 64)
	closePrice, err4 := strconv.ParseFloat(values["4. close"], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return domain.PriceBar{}, false
	}
	volume, _ := strconv.ParseInt(values["5. volume"], 10, 64)
	return domain.PriceBar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, true
}

// parseStringNumbers converts a string-valued payload to numbers, skipping
// "None"/"-" placeholders and anything that does not parse.
func parseStringNumbers(payload map[string]string) map[string]float64 {
	out := make(map[string]float64, len(payload))
	for key, value := range payload {
		if value == "" || value == "None" || value == "-" {
			continue
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		out[key] = f
	}
	return out
}
