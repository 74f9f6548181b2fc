// Package providers contains the external data-provider adapters.
//
// Every adapter translates its provider's native payloads into canonical
// domain types at the response boundary and classifies every failure into
// the domain error taxonomy (not-found, rate-limited, malformed-response,
// transient-network). Nothing outside this package ever sees a
// provider-native field name or an unclassified HTTP error.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/harvest/internal/domain"
)

// Adapter is the contract every data provider implements.
type Adapter interface {
	// Name returns the provider identifier used in configuration,
	// provenance records and quota tracking.
	Name() string

	// FetchFundamentals returns the canonical fundamental fields the
	// provider knows for the ticker, using the credentials of the named
	// account. Missing fields are simply absent from the map; a partial
	// result is not an error.
	FetchFundamentals(ctx context.Context, ticker, account string) (map[domain.Field]float64, error)

	// FetchPriceHistory returns daily bars in chronological order for the
	// inclusive date range, using the credentials of the named account.
	FetchPriceHistory(ctx context.Context, ticker, account string, from, to time.Time) ([]domain.PriceBar, error)

	// FundamentalsCost is the number of provider HTTP requests one
	// FetchFundamentals call issues, so quota accounting charges what the
	// provider actually meters.
	FundamentalsCost() int

	// PriceHistoryCost is the same for one FetchPriceHistory call.
	PriceHistoryCost() int
}

// PayloadCache is the cache-first store consulted before spending quota on
// a network call. Implemented by clientdata.Repository.
type PayloadCache interface {
	Load(table, key string, out interface{}) (bool, error)
	Store(table, key string, data interface{}, ttl time.Duration) error
}

// doGetJSON performs a GET request and decodes the JSON body into out,
// classifying every failure mode into the domain error taxonomy.
func doGetJSON(ctx context.Context, client *http.Client, provider, ticker, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewProviderError(provider, ticker, domain.ErrKindTransientNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "harvest/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(provider, ticker, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(provider, ticker, resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return domain.NewProviderError(provider, ticker, domain.ErrKindTransientNetwork, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewProviderError(provider, ticker, domain.ErrKindMalformed, err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(provider, ticker string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewProviderError(provider, ticker, domain.ErrKindNotFound,
			fmt.Errorf("ticker not known to provider"))
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewRateLimitError(provider, ticker, parseRetryAfter(resp),
			fmt.Errorf("provider throttled request"))
	case resp.StatusCode >= 500:
		return domain.NewProviderError(provider, ticker, domain.ErrKindTransientNetwork,
			fmt.Errorf("server error: %d", resp.StatusCode))
	default:
		return domain.NewProviderError(provider, ticker, domain.ErrKindMalformed,
			fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}
}

// classifyTransportError maps connection-level failures. Timeouts and
// connection errors are transient; a cancelled context is passed through.
func classifyTransportError(provider, ticker string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewProviderError(provider, ticker, domain.ErrKindTransientNetwork, err)
	}
	return domain.NewProviderError(provider, ticker, domain.ErrKindTransientNetwork, err)
}

// parseRetryAfter reads the Retry-After header, in seconds. Returns zero
// when the provider did not say.
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
