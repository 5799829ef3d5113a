package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/tonwatch/service/config"
	"github.com/brojonat/tonwatch/service/db"
	"github.com/brojonat/tonwatch/service/nats"
	"github.com/brojonat/tonwatch/service/query"
	"github.com/brojonat/tonwatch/service/sync"
	"github.com/brojonat/tonwatch/service/ton"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for sync and verify requests
	maxAddressLength   = 100     // user-friendly TON addresses are 48 chars, give buffer
	minAddressLength   = 40
)

var (
	// User-friendly TON addresses are base64url; raw form is workchain:hex.
	friendlyAddressRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	rawAddressRegex      = regexp.MustCompile(`^-?[0-9]+:[0-9a-fA-F]{64}$`)
)

// handleListDeposits returns a handler that lists deposits matching the
// query-string filter.
// GET /api/v1/deposits?min_amount=&max_amount=&sender=&from_date=&to_date=&processed=&limit=
func handleListDeposits(svc *query.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r.URL.Query())
		if err != nil {
			logger.Debug("invalid filter", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		deposits, err := svc.Deposits(r.Context(), filter)
		if err != nil {
			if errors.Is(err, query.ErrInvalidFilter) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to list deposits", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("deposits listed", "count", len(deposits))

		resp := make([]depositResponse, len(deposits))
		for i, dep := range deposits {
			resp[i] = depositToResponse(dep)
		}

		writeJSON(w, map[string]interface{}{
			"deposits": resp,
			"count":    len(resp),
		}, http.StatusOK)
	})
}

// handleGetDeposit returns a handler that fetches one deposit by hash.
// GET /api/v1/deposits/{tx_hash}
func handleGetDeposit(svc *query.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txHash := r.PathValue("tx_hash")

		dep, err := svc.Deposit(r.Context(), txHash)
		if err != nil {
			switch {
			case errors.Is(err, query.ErrInvalidFilter):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, db.ErrNotFound):
				writeError(w, "deposit not found", http.StatusNotFound)
			default:
				logger.Error("failed to get deposit", "tx_hash", txHash, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, depositToResponse(dep), http.StatusOK)
	})
}

// handleMarkProcessed returns a handler that flags a deposit as handled.
// POST /api/v1/deposits/{tx_hash}/processed
func handleMarkProcessed(svc *query.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txHash := r.PathValue("tx_hash")

		dep, err := svc.MarkProcessed(r.Context(), txHash)
		if err != nil {
			switch {
			case errors.Is(err, query.ErrInvalidFilter):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, db.ErrNotFound):
				writeError(w, "deposit not found", http.StatusNotFound)
			default:
				logger.Error("failed to mark deposit processed", "tx_hash", txHash, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("deposit marked processed", "tx_hash", txHash)
		writeJSON(w, depositToResponse(dep), http.StatusOK)
	})
}

// handleGetStats returns a handler that aggregates deposits matching the
// query-string filter.
// GET /api/v1/stats
func handleGetStats(svc *query.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r.URL.Query())
		if err != nil {
			logger.Debug("invalid filter", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		stats, err := svc.Stats(r.Context(), filter)
		if err != nil {
			if errors.Is(err, query.ErrInvalidFilter) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to aggregate deposits", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, statsToResponse(stats), http.StatusOK)
	})
}

// handleVerifyPayment returns a handler that checks whether an expected
// payment has arrived.
// POST /api/v1/verify
func handleVerifyPayment(svc *query.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Amount string `json:"amount"`
			Sender string `json:"sender,omitempty"`
			Window string `json:"window,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, "invalid amount: must be a decimal string", http.StatusBadRequest)
			return
		}

		var window time.Duration
		if req.Window != "" {
			window, err = time.ParseDuration(req.Window)
			if err != nil {
				writeError(w, "invalid window: must be a valid duration (e.g. '1h', '30m')", http.StatusBadRequest)
				return
			}
		}

		result, err := svc.Verify(r.Context(), query.VerifyParams{
			Amount: amount,
			Sender: req.Sender,
			Window: window,
		})
		if err != nil {
			if errors.Is(err, query.ErrInvalidFilter) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to verify payment", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		matches := make([]depositResponse, len(result.Deposits))
		for i, dep := range result.Deposits {
			matches[i] = depositToResponse(dep)
		}
		writeJSON(w, map[string]interface{}{
			"verified": result.Verified,
			"deposits": matches,
			"count":    len(matches),
		}, http.StatusOK)
	})
}

// handleGetBalance returns a handler that reports the monitored account's
// current on-chain balance.
// GET /api/v1/balance
func handleGetBalance(client ton.Client, account string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bal, err := client.FetchBalance(r.Context(), account)
		if err != nil {
			logger.Error("failed to fetch balance", "account", account, "error", err)
			writeError(w, "failed to fetch balance from provider", http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]interface{}{
			"account":        account,
			"balance_ton":    bal.TON.String(),
			"amount_nanoton": bal.Nanotons,
			"status":         bal.Status,
		}, http.StatusOK)
	})
}

// handleTriggerSync returns a handler that runs one sync cycle on demand.
// A cycle already in flight yields 409 so callers can back off.
// POST /api/v1/sync
func handleTriggerSync(syncer Syncer, publisher nats.Publisher, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		limit := cfg.DefaultFetchLimit
		if r.ContentLength > 0 {
			var req struct {
				Limit int `json:"limit"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
				return
			}
			if req.Limit < 0 {
				writeError(w, "limit must not be negative", http.StatusBadRequest)
				return
			}
			if req.Limit > 0 {
				limit = req.Limit
			}
		}
		if limit > cfg.MaxFetchLimit {
			limit = cfg.MaxFetchLimit
		}

		outcome, err := syncer.Sync(r.Context(), limit)
		if err != nil {
			if errors.Is(err, sync.ErrSyncInProgress) {
				writeError(w, "sync already in progress", http.StatusConflict)
				return
			}
			logger.Error("sync failed", "error", err)
			writeError(w, "sync failed", http.StatusBadGateway)
			return
		}

		if publisher != nil && len(outcome.Accepted) > 0 {
			events := make([]*nats.DepositEvent, len(outcome.Accepted))
			for i, dep := range outcome.Accepted {
				events[i] = nats.FromDeposit(dep)
			}
			if err := publisher.PublishDepositBatch(r.Context(), events); err != nil {
				// Deposits are durable in the ledger regardless; event loss
				// is visible to subscribers, not to the API caller.
				logger.Error("failed to publish deposit events", "error", err)
			}
		}

		accepted := make([]depositResponse, len(outcome.Accepted))
		for i, dep := range outcome.Accepted {
			accepted[i] = depositToResponse(dep)
		}

		writeJSON(w, map[string]interface{}{
			"accepted":       accepted,
			"accepted_count": len(accepted),
			"rejected_count": outcome.RejectedCount,
		}, http.StatusOK)
	})
}

// parseFilter builds a query filter from URL query parameters.
func parseFilter(q url.Values) (query.Filter, error) {
	var f query.Filter

	if v := q.Get("min_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, errorf("invalid min_amount: must be a decimal")
		}
		f.MinAmount = &d
	}
	if v := q.Get("max_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, errorf("invalid max_amount: must be a decimal")
		}
		f.MaxAmount = &d
	}
	if v := q.Get("sender"); v != "" {
		if err := validateAddressFragment(v); err != nil {
			return f, err
		}
		f.Sender = v
	}
	if v := q.Get("from_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errorf("invalid from_date: must be RFC3339")
		}
		f.From = &t
	}
	if v := q.Get("to_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errorf("invalid to_date: must be RFC3339")
		}
		f.To = &t
	}
	if v := q.Get("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errorf("invalid processed: must be true or false")
		}
		f.Processed = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errorf("invalid limit: must be an integer")
		}
		if n < 1 {
			return f, errorf("limit must be at least 1")
		}
		f.Limit = int32(n)
	}

	return f, nil
}

// depositResponse is the JSON response format for a deposit.
type depositResponse struct {
	TxHash         string    `json:"tx_hash"`
	AccountID      string    `json:"account_id"`
	SenderAddress  string    `json:"sender_address"`
	AmountTON      string    `json:"amount_ton"`
	AmountNanotons int64     `json:"amount_nanoton"`
	Message        *string   `json:"message,omitempty"`
	LogicalTime    int64     `json:"logical_time"`
	Timestamp      time.Time `json:"timestamp"`
	Confirmed      bool      `json:"confirmed"`
	Processed      bool      `json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}

// depositToResponse converts a domain Deposit to a response format.
func depositToResponse(d *db.Deposit) depositResponse {
	return depositResponse{
		TxHash:         d.TxHash,
		AccountID:      d.AccountID,
		SenderAddress:  d.SenderAddress,
		AmountTON:      d.Amount.String(),
		AmountNanotons: d.AmountNanotons,
		Message:        d.Message,
		LogicalTime:    d.LogicalTime,
		Timestamp:      d.Timestamp,
		Confirmed:      d.Confirmed,
		Processed:      d.Processed,
		CreatedAt:      d.CreatedAt,
	}
}

// statsResponse is the JSON response format for aggregate statistics.
type statsResponse struct {
	TotalCount      int64      `json:"total_count"`
	TotalAmountTON  string     `json:"total_amount_ton"`
	DistinctSenders int64      `json:"distinct_senders"`
	MinAmountTON    string     `json:"min_amount_ton"`
	MaxAmountTON    string     `json:"max_amount_ton"`
	FirstTimestamp  *time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp   *time.Time `json:"last_timestamp,omitempty"`
	ProcessedCount  int64      `json:"processed_count"`
	ConfirmedCount  int64      `json:"confirmed_count"`
}

func statsToResponse(s *db.Stats) statsResponse {
	return statsResponse{
		TotalCount:      s.TotalCount,
		TotalAmountTON:  s.TotalAmount.String(),
		DistinctSenders: s.DistinctSenders,
		MinAmountTON:    s.MinAmount.String(),
		MaxAmountTON:    s.MaxAmount.String(),
		FirstTimestamp:  s.FirstTimestamp,
		LastTimestamp:   s.LastTimestamp,
		ProcessedCount:  s.ProcessedCount,
		ConfirmedCount:  s.ConfirmedCount,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// ValidateAddress validates a TON account address in either the
// user-friendly base64 form (EQ.../UQ.../kQ...) or the raw workchain:hex form.
func ValidateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if rawAddressRegex.MatchString(address) {
		return nil
	}

	if len(address) < minAddressLength {
		return errorf("address too short: minimum length is %d characters", minAddressLength)
	}
	if !friendlyAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be base64url or workchain:hex")
	}
	return nil
}

// validateAddressFragment validates a sender substring filter. Fragments are
// matched with LIKE, so only the character set is constrained, not length.
func validateAddressFragment(fragment string) error {
	if len(fragment) > maxAddressLength {
		return errorf("sender filter too long: maximum length is %d characters", maxAddressLength)
	}
	for _, r := range fragment {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in sender filter")
		}
	}
	lower := strings.ToLower(fragment)
	for _, pattern := range []string{"%", "_", ";", "--"} {
		if strings.Contains(lower, pattern) {
			return errorf("invalid characters in sender filter")
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
