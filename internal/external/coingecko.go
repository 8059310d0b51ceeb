package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/mtlprog/fundo/internal/domain"
)

// SymbolMapping maps well-known tickers to CoinGecko IDs. Assets created
// without an explicit external id fall back to it.
var SymbolMapping = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"ADA":  "cardano",
	"SOL":  "solana",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
}

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	// historyDateLayout is the dd-mm-yyyy format of /coins/{id}/history.
	historyDateLayout = "02-01-2006"
	maxErrorBody      = 512
)

// CoinGeckoClient fetches EUR prices from the CoinGecko API. It never retries:
// 429 and 5xx answers are classified and returned so the caller's circuit
// breaker can decide what to do.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// CoinGeckoOption configures the client.
type CoinGeckoOption func(*CoinGeckoClient)

// WithAPIKey sends the demo API key header on every request.
func WithAPIKey(key string) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		c.apiKey = key
	}
}

// WithRatePerMinute paces requests to at most n per minute.
func WithRatePerMinute(n int) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		if n <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// WithTimeout bounds every HTTP call.
func WithTimeout(timeout time.Duration) CoinGeckoOption {
	return func(c *CoinGeckoClient) {
		c.httpClient.Timeout = timeout
	}
}

// NewCoinGeckoClient creates a new CoinGecko API client.
func NewCoinGeckoClient(baseURL string, opts ...CoinGeckoOption) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	c := &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/25), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentPrices returns EUR prices for the given CoinGecko ids. Ids the API
// does not know are absent from the result.
func (c *CoinGeckoClient) CurrentPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "eur")

	body, err := c.get(ctx, "/simple/price", params)
	if err != nil {
		return nil, err
	}

	// {"bitcoin":{"eur":45000},"ethereum":{"eur":2500}}
	var raw map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing CoinGecko response: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(raw))
	for id, prices := range raw {
		if eur, ok := prices["eur"]; ok && eur.IsPositive() {
			result[id] = eur
		}
	}
	return result, nil
}

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
	} `json:"market_data"`
}

// HistoricalPrice returns the EUR price of id on date. A coin without market
// data for that day yields domain.ErrPriceUnavailable.
func (c *CoinGeckoClient) HistoricalPrice(ctx context.Context, id string, date time.Time) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("date", date.UTC().Format(historyDateLayout))
	params.Set("localization", "false")

	body, err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/history", params)
	if err != nil {
		return decimal.Zero, err
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("parsing CoinGecko history for %s: %w", id, err)
	}
	if resp.MarketData == nil {
		return decimal.Zero, fmt.Errorf("%s on %s: %w", id, date.Format(domain.DateLayout), domain.ErrPriceUnavailable)
	}
	eur, ok := resp.MarketData.CurrentPrice["eur"]
	if !ok || !eur.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s on %s: %w", id, date.Format(domain.DateLayout), domain.ErrPriceUnavailable)
	}
	return eur, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating CoinGecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("CoinGecko request failed: %w: %w", domain.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading CoinGecko response: %w: %w", domain.ErrUpstreamTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("CoinGecko %s: %w", path, domain.ErrUpstreamRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("CoinGecko %s: %w", path, domain.ErrPriceUnavailable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("CoinGecko HTTP %d: %w", resp.StatusCode, domain.ErrUpstreamTransient)
	default:
		return nil, fmt.Errorf("CoinGecko HTTP %d: %s", resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
