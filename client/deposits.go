// Package client is the Go API client for the tonwatch deposit service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Deposit represents a recorded deposit on the monitored account.
type Deposit struct {
	TxHash         string          `json:"tx_hash"`
	AccountID      string          `json:"account_id"`
	SenderAddress  string          `json:"sender_address"`
	AmountTON      decimal.Decimal `json:"amount_ton"`
	AmountNanotons int64           `json:"amount_nanoton"`
	Message        *string         `json:"message,omitempty"`
	LogicalTime    int64           `json:"logical_time"`
	Timestamp      time.Time       `json:"timestamp"`
	Confirmed      bool            `json:"confirmed"`
	Processed      bool            `json:"processed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Stats holds aggregate deposit statistics.
type Stats struct {
	TotalCount      int64           `json:"total_count"`
	TotalAmountTON  decimal.Decimal `json:"total_amount_ton"`
	DistinctSenders int64           `json:"distinct_senders"`
	MinAmountTON    decimal.Decimal `json:"min_amount_ton"`
	MaxAmountTON    decimal.Decimal `json:"max_amount_ton"`
	FirstTimestamp  *time.Time      `json:"first_timestamp,omitempty"`
	LastTimestamp   *time.Time      `json:"last_timestamp,omitempty"`
	ProcessedCount  int64           `json:"processed_count"`
	ConfirmedCount  int64           `json:"confirmed_count"`
}

// Balance is the monitored account's current on-chain balance.
type Balance struct {
	Account        string          `json:"account"`
	BalanceTON     decimal.Decimal `json:"balance_ton"`
	AmountNanotons int64           `json:"amount_nanoton"`
	Status         string          `json:"status"`
}

// SyncResult is the outcome of an on-demand sync cycle.
type SyncResult struct {
	Accepted      []*Deposit `json:"accepted"`
	AcceptedCount int        `json:"accepted_count"`
	RejectedCount int        `json:"rejected_count"`
}

// VerifyResult reports whether an expected payment has arrived, with every
// matching deposit in the lookback window, newest first.
type VerifyResult struct {
	Verified bool       `json:"verified"`
	Deposits []*Deposit `json:"deposits"`
	Count    int        `json:"count"`
}

// Filter restricts deposit listings and aggregates. Zero values are omitted
// from the request.
type Filter struct {
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Sender    string
	From      *time.Time
	To        *time.Time
	Processed *bool
	Limit     int
}

func (f Filter) query() url.Values {
	q := url.Values{}
	if f.MinAmount != nil {
		q.Set("min_amount", f.MinAmount.String())
	}
	if f.MaxAmount != nil {
		q.Set("max_amount", f.MaxAmount.String())
	}
	if f.Sender != "" {
		q.Set("sender", f.Sender)
	}
	if f.From != nil {
		q.Set("from_date", f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		q.Set("to_date", f.To.Format(time.RFC3339))
	}
	if f.Processed != nil {
		q.Set("processed", fmt.Sprintf("%t", *f.Processed))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	return q
}

// Client is the HTTP client for the tonwatch deposit service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new deposit service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Deposits lists deposits matching the filter, newest first.
func (c *Client) Deposits(ctx context.Context, filter Filter) ([]*Deposit, error) {
	u := c.baseURL + "/api/v1/deposits"
	if q := filter.query(); len(q) > 0 {
		u += "?" + q.Encode()
	}

	var response struct {
		Deposits []*Deposit `json:"deposits"`
	}
	if err := c.get(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Deposits, nil
}

// Deposit fetches a single deposit by transaction hash.
func (c *Client) Deposit(ctx context.Context, txHash string) (*Deposit, error) {
	u := fmt.Sprintf("%s/api/v1/deposits/%s", c.baseURL, url.PathEscape(txHash))
	var dep Deposit
	if err := c.get(ctx, u, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// Stats aggregates deposits matching the filter.
func (c *Client) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	u := c.baseURL + "/api/v1/stats"
	if q := filter.query(); len(q) > 0 {
		u += "?" + q.Encode()
	}

	var stats Stats
	if err := c.get(ctx, u, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Balance returns the monitored account's current on-chain balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var bal Balance
	if err := c.get(ctx, c.baseURL+"/api/v1/balance", &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Sync triggers one on-demand sync cycle. A limit of 0 uses the server
// default. ErrSyncConflict-style 409 responses surface as errors.
func (c *Client) Sync(ctx context.Context, limit int) (*SyncResult, error) {
	var body io.Reader
	if limit > 0 {
		payload, err := json.Marshal(map[string]int{"limit": limit})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	var result SyncResult
	if err := c.post(ctx, c.baseURL+"/api/v1/sync", body, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("sync completed",
		"accepted", result.AcceptedCount,
		"rejected", result.RejectedCount,
	)
	return &result, nil
}

// Verify checks whether a deposit of exactly the given amount arrived
// recently, optionally restricted by sender and lookback window.
func (c *Client) Verify(ctx context.Context, amount decimal.Decimal, sender string, window time.Duration) (*VerifyResult, error) {
	reqBody := map[string]string{"amount": amount.String()}
	if sender != "" {
		reqBody["sender"] = sender
	}
	if window > 0 {
		reqBody["window"] = window.String()
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result VerifyResult
	if err := c.post(ctx, c.baseURL+"/api/v1/verify", bytes.NewReader(payload), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkProcessed flags a deposit as handled by a downstream workflow.
func (c *Client) MarkProcessed(ctx context.Context, txHash string) (*Deposit, error) {
	u := fmt.Sprintf("%s/api/v1/deposits/%s/processed", c.baseURL, url.PathEscape(txHash))
	var dep Deposit
	if err := c.post(ctx, u, nil, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// Health reports whether the service is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Matcher decides whether a deposit satisfies what the caller is waiting for.
type Matcher func(*Deposit) bool

// Await polls the service until a deposit matching the matcher appears or
// the context is done. It triggers a sync cycle each round so fresh on-chain
// activity is visible without waiting for the scheduled poller.
func (c *Client) Await(ctx context.Context, interval time.Duration, match Matcher) (*Deposit, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// A sync conflict just means another cycle is running; the listing
		// below still observes whatever that cycle has committed.
		if _, err := c.Sync(ctx, 0); err != nil {
			c.logger.Debug("await sync attempt failed", "error", err)
		}

		deposits, err := c.Deposits(ctx, Filter{})
		if err != nil {
			return nil, err
		}
		for _, dep := range deposits {
			if match(dep) {
				return dep, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// get performs a GET and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// post performs a POST and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
