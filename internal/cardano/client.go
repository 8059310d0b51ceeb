// Package cardano pulls transactions of tracked wallets from the CardanoScan
// explorer and stores them as a per-wallet read model of inputs and outputs.
package cardano

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const DefaultCardanoScanURL = "https://api.cardanoscan.io/api/v1"

// Client is an HTTP client for the CardanoScan API with retry on 429.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
}

// NewClient creates a new CardanoScan API client. ratePerSecond <= 0 disables pacing.
func NewClient(baseURL, apiKey string, maxRetries int, baseDelay time.Duration, ratePerSecond float64) *Client {
	if baseURL == "" {
		baseURL = DefaultCardanoScanURL
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// get performs a GET request with retry on 429.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + path

	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("apiKey", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("HTTP 429 at %s (attempt %d/%d)", path, attempt+1, c.maxRetries+1)
			if attempt < c.maxRetries {
				delay := c.baseDelay * time.Duration(1<<uint(attempt))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			return nil, lastErr
		}

		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, path, string(body))
	}

	return nil, lastErr
}

// getJSON performs a GET request and unmarshals the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing JSON from %s: %w", path, err)
	}
	return nil
}

// Transactions returns one page of an address's transactions, newest first.
func (c *Client) Transactions(ctx context.Context, address string, page, limit int) ([]APITx, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("pageNo", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "desc")

	var resp APITxPage
	if err := c.getJSON(ctx, "/transaction/list?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("listing transactions of %s: %w", address, err)
	}
	return resp.Transactions, nil
}

// Asset returns native token metadata. assetID is the policy id followed by
// the hex asset name.
func (c *Client) Asset(ctx context.Context, policyID, assetName string) (APIAsset, error) {
	q := url.Values{}
	q.Set("assetId", policyID+assetName)

	var resp APIAsset
	if err := c.getJSON(ctx, "/asset?"+q.Encode(), &resp); err != nil {
		return APIAsset{}, fmt.Errorf("getting asset %s.%s: %w", policyID, assetName, err)
	}
	return resp, nil
}
