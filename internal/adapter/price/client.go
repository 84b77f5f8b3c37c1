// Package price resolves reference-currency token prices from an HTTP price API.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// DefaultFallbackWindow bounds how far a historical quote may be from the requested instant
const DefaultFallbackWindow = 24 * time.Hour

type quoteResponse struct {
	Token string          `json:"token"`
	Price decimal.Decimal `json:"price"`
}

type historyResponse struct {
	Token  string `json:"token"`
	Prices []struct {
		Timestamp time.Time       `json:"timestamp"`
		Price     decimal.Decimal `json:"price"`
	} `json:"prices"`
}

// Client implements domain.PriceLookup against the price API
//
//	GET {base}/v1/prices/{token}/current
//	GET {base}/v1/prices/{token}/history?from={unix}&to={unix}
type Client struct {
	baseURL        string
	apiKey         string
	fallbackWindow time.Duration
	client         *http.Client
}

// NewClient creates a price API client. A non-positive fallbackWindow uses DefaultFallbackWindow.
func NewClient(baseURL, apiKey string, fallbackWindow time.Duration) *Client {
	if fallbackWindow <= 0 {
		fallbackWindow = DefaultFallbackWindow
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		fallbackWindow: fallbackWindow,
		client:         &http.Client{Timeout: 20 * time.Second},
	}
}

// CurrentPrice returns the latest quote. A 404 means the token has no quote.
func (c *Client) CurrentPrice(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	endpoint := fmt.Sprintf("%s/v1/prices/%s/current", c.baseURL, url.PathEscape(token))

	var quote quoteResponse
	found, err := c.get(ctx, endpoint, &quote)
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	return quote.Price, true, nil
}

// HistoricalPrice returns the quote closest to at within the fallback window on either side
func (c *Client) HistoricalPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("from", strconv.FormatInt(at.Add(-c.fallbackWindow).Unix(), 10))
	query.Set("to", strconv.FormatInt(at.Add(c.fallbackWindow).Unix(), 10))
	endpoint := fmt.Sprintf("%s/v1/prices/%s/history?%s", c.baseURL, url.PathEscape(token), query.Encode())

	var history historyResponse
	found, err := c.get(ctx, endpoint, &history)
	if err != nil {
		return decimal.Zero, err
	}
	if !found || len(history.Prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no %s quote within %s of %s",
			domain.ErrPriceUnavailable, token, c.fallbackWindow, at.UTC().Format(time.RFC3339))
	}

	best := -1
	var bestDistance time.Duration
	for i, p := range history.Prices {
		distance := p.Timestamp.Sub(at)
		if distance < 0 {
			distance = -distance
		}
		if distance > c.fallbackWindow {
			continue
		}
		// Ties prefer the earlier quote
		if best < 0 || distance < bestDistance || (distance == bestDistance && p.Timestamp.Before(history.Prices[best].Timestamp)) {
			best, bestDistance = i, distance
		}
	}
	if best < 0 {
		return decimal.Zero, fmt.Errorf("%w: no %s quote within %s of %s",
			domain.ErrPriceUnavailable, token, c.fallbackWindow, at.UTC().Format(time.RFC3339))
	}

	return history.Prices[best].Price, nil
}

// get decodes a JSON body into out. It reports found=false on 404.
func (c *Client) get(ctx context.Context, endpoint string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("price api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("price api returned status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode price api response: %w", err)
	}
	return true, nil
}
