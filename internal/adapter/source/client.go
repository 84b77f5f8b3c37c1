// Package source fetches wallet transactions from an HTTP indexer API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// maxPages stops a misbehaving indexer from paginating forever
const maxPages = 1000

type transactionDTO struct {
	Chain       string      `json:"chain"`
	Token       string      `json:"token"`
	Kind        string      `json:"kind"`
	Direction   string      `json:"direction"`
	Quantity    json.Number `json:"quantity"`
	FeeQuantity json.Number `json:"fee_quantity"`
	FeeToken    string      `json:"fee_token"`
	Timestamp   time.Time   `json:"timestamp"`
	Hash        string      `json:"hash"`
}

type pageResponse struct {
	Transactions []transactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor"`
}

// Client implements domain.TransactionSource against the indexer API
//
//	GET {base}/v1/wallets/{address}/transactions?cursor={cursor}
type Client struct {
	baseURL string
	apiKey  string
	name    string
	limiter *rate.Limiter
	client  *http.Client
}

// NewClient creates an indexer client. A nil limiter means no throttling.
func NewClient(baseURL, apiKey string, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	base := strings.TrimRight(baseURL, "/")
	name := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		name = u.Host
	}
	return &Client{
		baseURL: base,
		apiKey:  apiKey,
		name:    name,
		limiter: limiter,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchTransactions returns every transaction of the wallet, following cursors
func (c *Client) FetchTransactions(ctx context.Context, walletAddress string) ([]domain.RawFact, error) {
	var (
		facts  []domain.RawFact
		cursor string
	)

	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchPage(ctx, walletAddress, cursor)
		if err != nil {
			return nil, err
		}

		for _, dto := range resp.Transactions {
			facts = append(facts, domain.RawFact{
				Chain:       dto.Chain,
				Token:       dto.Token,
				Kind:        dto.Kind,
				Direction:   dto.Direction,
				Quantity:    dto.Quantity.String(),
				FeeQuantity: dto.FeeQuantity.String(),
				FeeToken:    dto.FeeToken,
				Timestamp:   dto.Timestamp,
				Hash:        dto.Hash,
				Source:      c.name,
			})
		}

		if resp.NextCursor == "" || resp.NextCursor == cursor {
			return facts, nil
		}
		cursor = resp.NextCursor
	}

	return nil, fmt.Errorf("indexer returned more than %d pages for %s", maxPages, walletAddress)
}

func (c *Client) fetchPage(ctx context.Context, walletAddress, cursor string) (*pageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("indexer request throttled: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/wallets/%s/transactions", c.baseURL, url.PathEscape(walletAddress))
	if cursor != "" {
		endpoint += "?" + url.Values{"cursor": {cursor}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned status: %d", resp.StatusCode)
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode indexer response: %w", err)
	}
	return &page, nil
}
