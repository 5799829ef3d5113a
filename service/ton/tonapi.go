package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/tonwatch/service/metrics"
	"github.com/shopspring/decimal"
)

// DefaultTonAPIURL is the public TonAPI v2 endpoint.
const DefaultTonAPIURL = "https://tonapi.io/v2"

// TonAPIClient talks to the TonAPI v2 HTTP API. It is the fallback provider;
// TonCenter is the default.
type TonAPIClient struct {
	baseURL string
	doer    HTTPDoer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTonAPIClient creates a TonAPI provider client. If m is nil, no metrics
// will be recorded.
func NewTonAPIClient(baseURL string, doer HTTPDoer, m *metrics.Metrics, logger *slog.Logger) *TonAPIClient {
	if baseURL == "" {
		baseURL = DefaultTonAPIURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TonAPIClient{
		baseURL: baseURL,
		doer:    doer,
		metrics: m,
		logger:  logger,
	}
}

// tonapiTx mirrors the fields of a TonAPI blockchain transaction we use.
type tonapiTx struct {
	Hash    string `json:"hash"`
	LT      int64  `json:"lt"`
	Utime   int64  `json:"utime"`
	Success bool   `json:"success"`
	InMsg   *struct {
		Source *struct {
			Address string `json:"address"`
		} `json:"source"`
		Destination *struct {
			Address string `json:"address"`
		} `json:"destination"`
		Value       int64  `json:"value"`
		OpCode      string `json:"op_code"`
		RawBody     string `json:"raw_body"`
		DecodedBody *struct {
			Text    string `json:"text"`
			Comment string `json:"comment"`
		} `json:"decoded_body"`
	} `json:"in_msg"`
}

// FetchRecent fetches up to limit most-recent transactions for the account.
func (c *TonAPIClient) FetchRecent(ctx context.Context, account string, limit int) ([]RawTransaction, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/blockchain/accounts/%s/transactions", url.PathEscape(account))

	var out struct {
		Transactions []tonapiTx `json:"transactions"`
	}
	if err := c.get(ctx, "getAccountTransactions", path, q, &out); err != nil {
		return nil, err
	}

	txs := make([]RawTransaction, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		if t.InMsg == nil || t.InMsg.Source == nil || t.InMsg.Source.Address == "" {
			continue
		}
		txs = append(txs, parseTonAPITransaction(t))
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall("tonapi", float64(len(txs)))
	}
	c.logger.DebugContext(ctx, "fetched transactions",
		"provider", "tonapi",
		"account", account,
		"count", len(txs),
	)
	return txs, nil
}

func parseTonAPITransaction(t tonapiTx) RawTransaction {
	tx := RawTransaction{
		Hash:          t.Hash,
		LogicalTime:   t.LT,
		Timestamp:     t.Utime,
		Sender:        t.InMsg.Source.Address,
		ValueNanotons: t.InMsg.Value,
		ActionSuccess: t.Success,
	}
	if t.InMsg.Destination != nil {
		tx.Recipient = t.InMsg.Destination.Address
	}
	tx.Opcode = parseUint32Opcode(t.InMsg.OpCode)

	switch {
	case t.InMsg.DecodedBody != nil && t.InMsg.DecodedBody.Comment != "":
		tx.Body = commentBody(t.InMsg.DecodedBody.Comment)
	case t.InMsg.DecodedBody != nil && t.InMsg.DecodedBody.Text != "":
		tx.Body = commentBody(t.InMsg.DecodedBody.Text)
	case t.InMsg.RawBody != "":
		if b, ok := decodeBody(t.InMsg.RawBody); ok {
			tx.Body = b
			if tx.Opcode == nil {
				tx.Opcode = bodyOpcode(b)
			}
		} else {
			tx.Body = []byte(t.InMsg.RawBody)
		}
	}
	return tx
}

// FetchBalance returns the account's current native balance.
func (c *TonAPIClient) FetchBalance(ctx context.Context, account string) (*Balance, error) {
	var out struct {
		Balance int64  `json:"balance"`
		Status  string `json:"status"`
	}
	path := fmt.Sprintf("/accounts/%s", url.PathEscape(account))
	if err := c.get(ctx, "getAccount", path, nil, &out); err != nil {
		return nil, err
	}

	return &Balance{
		Nanotons: out.Balance,
		TON:      decimal.New(out.Balance, -9),
		Status:   out.Status,
	}, nil
}

// get performs one GET against the TonAPI and decodes the JSON body.
func (c *TonAPIClient) get(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return providerErr("tonapi: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.doer.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordAPICall(method, status, "tonapi", duration)
	}
	if err != nil {
		c.logger.Error("tonapi request failed", "method", method, "error", err)
		return providerErr("tonapi: %s: %v", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return providerErr("tonapi: %s: status %d: %s", method, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return providerErr("tonapi: %s: decode response: %v", method, err)
	}
	return nil
}
