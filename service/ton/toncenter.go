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

// DefaultTonCenterURL is the public TonCenter v2 endpoint. No API key is
// required at the default rate limits.
const DefaultTonCenterURL = "https://toncenter.com/api/v2"

// TonCenterClient talks to the TonCenter v2 HTTP API.
type TonCenterClient struct {
	baseURL string
	doer    HTTPDoer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTonCenterClient creates a TonCenter provider client. If m is nil, no
// metrics will be recorded.
func NewTonCenterClient(baseURL string, doer HTTPDoer, m *metrics.Metrics, logger *slog.Logger) *TonCenterClient {
	if baseURL == "" {
		baseURL = DefaultTonCenterURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TonCenterClient{
		baseURL: baseURL,
		doer:    doer,
		metrics: m,
		logger:  logger,
	}
}

// toncenterEnvelope is the common response wrapper of the v2 API.
type toncenterEnvelope struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

// toncenterTx mirrors the fields of a getTransactions result entry we use.
type toncenterTx struct {
	TransactionID struct {
		Hash string `json:"hash"`
		LT   string `json:"lt"`
	} `json:"transaction_id"`
	Utime int64 `json:"utime"`
	InMsg struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Value       string `json:"value"`
		MsgData     struct {
			Type   string `json:"@type"`
			Text   string `json:"text"`
			Body   string `json:"body"`
			OpCode string `json:"op_code"`
		} `json:"msg_data"`
	} `json:"in_msg"`
	Description struct {
		Action struct {
			Success *bool `json:"success"`
		} `json:"action"`
	} `json:"description"`
}

// FetchRecent fetches up to limit most-recent transactions for the account.
// Only incoming messages are returned; a transaction without an inbound
// source (an outgoing transfer or a bounce) is not a deposit candidate and is
// dropped here.
func (c *TonCenterClient) FetchRecent(ctx context.Context, account string, limit int) ([]RawTransaction, error) {
	q := url.Values{}
	q.Set("address", account)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("to_lt", "0")
	q.Set("archival", "true")

	var env toncenterEnvelope
	if err := c.get(ctx, "getTransactions", q, &env); err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, providerErr("toncenter: %s", env.Error)
	}

	var raw []toncenterTx
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, providerErr("toncenter: decode result: %v", err)
	}

	txs := make([]RawTransaction, 0, len(raw))
	for _, t := range raw {
		if t.InMsg.Source == "" {
			continue
		}
		txs = append(txs, c.parseTransaction(t))
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall("toncenter", float64(len(txs)))
	}
	c.logger.DebugContext(ctx, "fetched transactions",
		"provider", "toncenter",
		"account", account,
		"count", len(txs),
	)
	return txs, nil
}

// parseTransaction normalizes one TonCenter entry. Malformed numeric fields
// degrade to zero values rather than dropping the record; classification
// decides what to do with them.
func (c *TonCenterClient) parseTransaction(t toncenterTx) RawTransaction {
	lt, _ := strconv.ParseInt(t.TransactionID.LT, 10, 64)
	value, _ := strconv.ParseInt(t.InMsg.Value, 10, 64)

	tx := RawTransaction{
		Hash:          t.TransactionID.Hash,
		LogicalTime:   lt,
		Timestamp:     t.Utime,
		Sender:        t.InMsg.Source,
		Recipient:     t.InMsg.Destination,
		ValueNanotons: value,
		ActionSuccess: true,
	}
	if t.Description.Action.Success != nil {
		tx.ActionSuccess = *t.Description.Action.Success
	}

	// msg.dataText carries a base64 comment; msg.dataRaw a base64 cell body.
	// A payload that fails base64 decoding is kept verbatim so the validator
	// can observe an undecodable body instead of silently losing it.
	switch {
	case t.InMsg.MsgData.Text != "":
		if b, ok := decodeBody(t.InMsg.MsgData.Text); ok {
			tx.Body = commentBody(string(b))
		} else {
			tx.Body = []byte(t.InMsg.MsgData.Text)
		}
	case t.InMsg.MsgData.Body != "":
		if b, ok := decodeBody(t.InMsg.MsgData.Body); ok {
			tx.Body = b
			tx.Opcode = bodyOpcode(b)
		} else {
			tx.Body = []byte(t.InMsg.MsgData.Body)
		}
	}
	if op := parseUint32Opcode(t.InMsg.MsgData.OpCode); op != nil {
		tx.Opcode = op
	}
	return tx
}

// toncenterAccount mirrors the getAddressInformation result.
type toncenterAccount struct {
	Balance string `json:"balance"`
	State   string `json:"state"`
}

// FetchBalance returns the account's current native balance.
func (c *TonCenterClient) FetchBalance(ctx context.Context, account string) (*Balance, error) {
	q := url.Values{}
	q.Set("address", account)

	var env toncenterEnvelope
	if err := c.get(ctx, "getAddressInformation", q, &env); err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, providerErr("toncenter: %s", env.Error)
	}

	var acct toncenterAccount
	if err := json.Unmarshal(env.Result, &acct); err != nil {
		return nil, providerErr("toncenter: decode account: %v", err)
	}

	nanotons, err := strconv.ParseInt(acct.Balance, 10, 64)
	if err != nil {
		return nil, providerErr("toncenter: parse balance %q: %v", acct.Balance, err)
	}

	return &Balance{
		Nanotons: nanotons,
		TON:      decimal.New(nanotons, -9),
		Status:   acct.State,
	}, nil
}

// get performs one GET against the TonCenter API and decodes the envelope.
func (c *TonCenterClient) get(ctx context.Context, method string, q url.Values, out *toncenterEnvelope) error {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, method, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return providerErr("toncenter: build request: %v", err)
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
		c.metrics.RecordAPICall(method, status, "toncenter", duration)
	}
	if err != nil {
		c.logger.Error("toncenter request failed", "method", method, "error", err)
		return providerErr("toncenter: %s: %v", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return providerErr("toncenter: %s: status %d: %s", method, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return providerErr("toncenter: %s: decode response: %v", method, err)
	}
	return nil
}
