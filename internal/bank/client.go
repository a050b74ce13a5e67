package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/safar/go-order-recon/internal/store"
)

// Client fetches the merchant account's transactions from the external feed.
// Used by the poll driver as the fallback for lost webhooks.
type Client struct {
	feedURL       string
	accountNumber string
	httpClient    *http.Client
}

func NewClient(feedURL, accountNumber string) *Client {
	return &Client{
		feedURL:       feedURL,
		accountNumber: accountNumber,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether a feed endpoint is configured at all; the poll
// driver is a no-op without one.
func (c *Client) Enabled() bool {
	return c.feedURL != ""
}

type feedResponse struct {
	Transactions []Notification `json:"transactions"`
}

// FetchTransactions returns the account's transactions inside [from, to].
// Malformed entries are dropped with an error count rather than failing the
// whole window; a transport or decode failure fails the fetch and the caller
// retries on its next tick.
func (c *Client) FetchTransactions(ctx context.Context, from, to time.Time) ([]store.BankTransaction, int, error) {
	u, err := url.Parse(c.feedURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("account", c.accountNumber)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch transactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, 0, fmt.Errorf("decode feed response: %w", err)
	}

	transactions := make([]store.BankTransaction, 0, len(feed.Transactions))
	dropped := 0
	for _, entry := range feed.Transactions {
		txn, err := entry.Normalize()
		if err != nil {
			dropped++
			continue
		}
		transactions = append(transactions, txn)
	}

	return transactions, dropped, nil
}
