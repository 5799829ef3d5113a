package ton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tonwatch/service/metrics"
)

// ErrProvider wraps any upstream API failure (network error, non-2xx status,
// malformed payload). Callers treat it as "this fetch failed"; retry policy
// lives with the caller, not here.
var ErrProvider = errors.New("ton provider error")

// Client is the adapter boundary the sync engine consumes. Implementations
// talk to a specific TON API provider and normalize its payloads.
type Client interface {
	// FetchRecent returns up to limit most-recent transactions for the
	// account, ordered by logical time descending.
	FetchRecent(ctx context.Context, account string, limit int) ([]RawTransaction, error)

	// FetchBalance returns the account's current native balance.
	FetchBalance(ctx context.Context, account string) (*Balance, error)
}

// HTTPDoer is the single seam between the provider clients and the network.
// This allows us to stub the wire in tests without hitting real TON APIs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient creates a provider client by name. Known providers are
// "toncenter" and "tonapi"; an empty provider defaults to toncenter, which
// needs no API key. If m is nil, no metrics will be recorded.
func NewClient(provider, baseURL string, doer HTTPDoer, m *metrics.Metrics, logger *slog.Logger) (Client, error) {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch provider {
	case "", "toncenter":
		return NewTonCenterClient(baseURL, doer, m, logger), nil
	case "tonapi":
		return NewTonAPIClient(baseURL, doer, m, logger), nil
	default:
		return nil, fmt.Errorf("unknown ton provider %q", provider)
	}
}

func providerErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, args...))
}
