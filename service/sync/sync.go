// Package sync implements the incremental synchronization engine: one
// bounded fetch-validate-persist cycle over the monitored account, with
// at-most-one-concurrent-cycle semantics per account.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/brojonat/tonwatch/service/metrics"
	"github.com/brojonat/tonwatch/service/ton"
	"github.com/brojonat/tonwatch/service/validate"
	"github.com/shopspring/decimal"
)

// ErrSyncInProgress is returned when a sync cycle is requested while another
// cycle for the same account is still running. Callers are expected to retry
// later; cycles never queue.
var ErrSyncInProgress = errors.New("sync already in progress")

// Ledger is the subset of store operations the synchronizer needs.
type Ledger interface {
	DepositExists(ctx context.Context, txHash string) (bool, error)
	InsertDeposit(ctx context.Context, params db.InsertDepositParams) (*db.Deposit, error)
}

// Outcome is the result of one successful sync cycle. Accepted holds the
// newly persisted deposits in logical-time ascending order, giving callers a
// stable, replayable feed. A cycle that found nothing new is a normal
// outcome with an empty Accepted slice.
type Outcome struct {
	Accepted      []*db.Deposit
	RejectedCount int
}

// Synchronizer runs sync cycles for a single monitored account. It owns the
// account's sync lock and its adapter handle; construct one per account and
// share it across callers. There is deliberately no process-wide state.
type Synchronizer struct {
	account   string
	client    ton.Client
	ledger    Ledger
	validator *validate.Validator
	minAmount decimal.Decimal
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu gosync.Mutex // held for the duration of one cycle
}

// Config contains the dependencies and tuning for a Synchronizer.
type Config struct {
	Account   string
	Client    ton.Client
	Ledger    Ledger
	Validator *validate.Validator // defaults to validate.New()
	MinAmount decimal.Decimal     // deposits strictly below this are dropped
	Metrics   *metrics.Metrics    // optional
	Logger    *slog.Logger        // optional
}

// New creates a Synchronizer for one monitored account.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("ton client is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synchronizer{
		account:   cfg.Account,
		client:    cfg.Client,
		ledger:    cfg.Ledger,
		validator: cfg.Validator,
		minAmount: cfg.MinAmount,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Account returns the monitored account address.
func (s *Synchronizer) Account() string {
	return s.account
}

// Sync runs one cycle: fetch up to limit recent transactions, classify each,
// and persist the accepted ones not already in the ledger. If a cycle is
// already running for this account, it fails immediately with
// ErrSyncInProgress rather than blocking.
//
// Each insert is an independent atomic unit: an adapter or store failure
// mid-cycle returns an error but leaves every previously committed entry in
// place, so the ledger is always valid, at worst partially advanced.
func (s *Synchronizer) Sync(ctx context.Context, limit int) (*Outcome, error) {
	if !s.mu.TryLock() {
		if s.metrics != nil {
			s.metrics.RecordSyncCycle(s.account, "contended", 0)
		}
		return nil, fmt.Errorf("%w: account %s", ErrSyncInProgress, s.account)
	}
	defer s.mu.Unlock()

	start := time.Now()
	outcome, err := s.run(ctx, limit)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordSyncCycle(s.account, status, time.Since(start).Seconds())
	}
	return outcome, err
}

func (s *Synchronizer) run(ctx context.Context, limit int) (*Outcome, error) {
	txs, err := s.client.FetchRecent(ctx, s.account, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "fetch failed", "account", s.account, "error", err)
		return nil, fmt.Errorf("fetch recent transactions: %w", err)
	}

	outcome := &Outcome{}
	for _, tx := range txs {
		// Outgoing value movements show up in the fetch window too; a
		// deposit always has a foreign sender.
		if tx.Sender == s.account {
			continue
		}

		exists, err := s.ledger.DepositExists(ctx, tx.Hash)
		if err != nil {
			return outcome, fmt.Errorf("check deposit existence: %w", err)
		}
		if exists {
			continue
		}

		result := s.validator.Classify(tx)
		if !result.Accepted {
			outcome.RejectedCount++
			if s.metrics != nil {
				s.metrics.RecordDepositRejected(s.account, string(result.Reason))
			}
			s.logger.DebugContext(ctx, "transaction rejected",
				"tx_hash", tx.Hash,
				"reason", result.Reason,
			)
			continue
		}

		// The minimum-amount threshold is a configuration concern layered
		// on top of classification; below-threshold transfers are real
		// native transfers, just not worth recording.
		if result.Amount.LessThan(s.minAmount) {
			outcome.RejectedCount++
			if s.metrics != nil {
				s.metrics.RecordDepositRejected(s.account, "below_minimum")
			}
			continue
		}

		var message *string
		if text, ok := ton.ExtractComment(tx.Body); ok && text != "" {
			message = &text
		}

		dep, err := s.ledger.InsertDeposit(ctx, db.InsertDepositParams{
			TxHash:         tx.Hash,
			AccountID:      s.account,
			SenderAddress:  tx.Sender,
			Amount:         result.Amount,
			AmountNanotons: tx.ValueNanotons,
			Message:        message,
			LogicalTime:    tx.LogicalTime,
			Timestamp:      time.Unix(tx.Timestamp, 0).UTC(),
			Confirmed:      true,
		})
		if err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				// Unreachable given the existence check above while the
				// lock is respected; seeing it means some writer bypassed
				// the lock discipline.
				s.logger.ErrorContext(ctx, "duplicate insert despite existence check",
					"tx_hash", tx.Hash,
				)
			}
			return outcome, fmt.Errorf("insert deposit %s: %w", tx.Hash, err)
		}

		if s.metrics != nil {
			s.metrics.RecordDepositAccepted(s.account)
		}
		s.logger.InfoContext(ctx, "new deposit recorded",
			"tx_hash", dep.TxHash,
			"sender", dep.SenderAddress,
			"amount_ton", dep.Amount.String(),
		)
		outcome.Accepted = append(outcome.Accepted, dep)
	}

	// Providers return newest first; hand the delta back oldest first.
	sort.Slice(outcome.Accepted, func(i, j int) bool {
		return outcome.Accepted[i].LogicalTime < outcome.Accepted[j].LogicalTime
	})

	s.logger.InfoContext(ctx, "sync cycle complete",
		"account", s.account,
		"fetched", len(txs),
		"accepted", len(outcome.Accepted),
		"rejected", outcome.RejectedCount,
	)
	return outcome, nil
}
