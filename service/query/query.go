// Package query exposes the read-side operations over the deposit ledger:
// filtered listings, aggregate statistics, payment verification, and the
// processed-flag workflow transition.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/shopspring/decimal"
)

// ErrInvalidFilter is returned when filter criteria are malformed or
// contradictory. The wrapped message names the offending field.
var ErrInvalidFilter = errors.New("invalid filter")

// DefaultVerifyWindow bounds how far back Verify looks when the caller does
// not say. Payment flows confirm within minutes; an hour is generous.
const DefaultVerifyWindow = time.Hour

// Filter restricts deposit listings and aggregates. All fields are optional;
// the zero Filter matches everything.
type Filter struct {
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Sender    string // substring match on the sender address
	From      *time.Time
	To        *time.Time
	Processed *bool
	Limit     int32
}

// Service answers read queries against the ledger.
type Service struct {
	store        *db.Store
	defaultLimit int32
	maxLimit     int32
	logger       *slog.Logger
}

// Config tunes a query Service.
type Config struct {
	Store        *db.Store
	DefaultLimit int32 // applied when a filter has no limit; defaults to 100
	MaxLimit     int32 // hard cap on a single listing; defaults to 1000
	Logger       *slog.Logger
}

// New creates a query Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:        cfg.Store,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       cfg.Logger,
	}, nil
}

// validate normalizes the filter, applying the default limit and rejecting
// contradictory or out-of-range criteria.
func (s *Service) validate(f Filter) (Filter, error) {
	if f.MinAmount != nil && f.MinAmount.IsNegative() {
		return f, fmt.Errorf("%w: min_amount must not be negative", ErrInvalidFilter)
	}
	if f.MaxAmount != nil && f.MaxAmount.IsNegative() {
		return f, fmt.Errorf("%w: max_amount must not be negative", ErrInvalidFilter)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return f, fmt.Errorf("%w: min_amount exceeds max_amount", ErrInvalidFilter)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return f, fmt.Errorf("%w: from_date is after to_date", ErrInvalidFilter)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("%w: limit must not be negative", ErrInvalidFilter)
	}
	if f.Limit == 0 {
		f.Limit = s.defaultLimit
	}
	if f.Limit > s.maxLimit {
		f.Limit = s.maxLimit
	}
	return f, nil
}

func storeParams(f Filter) db.ListDepositsParams {
	return db.ListDepositsParams{
		MinAmount: f.MinAmount,
		MaxAmount: f.MaxAmount,
		Sender:    f.Sender,
		From:      f.From,
		To:        f.To,
		Processed: f.Processed,
		Limit:     f.Limit,
	}
}

// Deposits lists deposits matching the filter, newest first.
func (s *Service) Deposits(ctx context.Context, f Filter) ([]*db.Deposit, error) {
	f, err := s.validate(f)
	if err != nil {
		return nil, err
	}
	return s.store.ListDeposits(ctx, storeParams(f))
}

// Deposit returns a single deposit by transaction hash.
func (s *Service) Deposit(ctx context.Context, txHash string) (*db.Deposit, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: tx_hash is required", ErrInvalidFilter)
	}
	return s.store.GetDeposit(ctx, txHash)
}

// Stats aggregates deposits matching the filter. Amount sums are computed in
// the store over exact decimals; no floating point is involved.
func (s *Service) Stats(ctx context.Context, f Filter) (*db.Stats, error) {
	f, err := s.validate(f)
	if err != nil {
		return nil, err
	}
	return s.store.AggregateDeposits(ctx, storeParams(f))
}

// VerifyParams describes the payment to look for.
type VerifyParams struct {
	Amount decimal.Decimal
	Sender string        // optional substring match
	Window time.Duration // lookback from now; DefaultVerifyWindow when zero
}

// VerifyResult reports whether any matching deposit was found, along with the
// full match list, newest first.
type VerifyResult struct {
	Verified bool
	Deposits []*db.Deposit
}

// Verify checks whether a deposit of exactly the given amount arrived within
// the lookback window, optionally restricted to a sender. Amounts are
// compared as exact decimals; the window is anchored on wall-clock now. All
// matches within the window are returned, newest first.
func (s *Service) Verify(ctx context.Context, params VerifyParams) (*VerifyResult, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidFilter)
	}
	window := params.Window
	if window <= 0 {
		window = DefaultVerifyWindow
	}
	from := time.Now().UTC().Add(-window)

	deposits, err := s.store.ListDeposits(ctx, db.ListDepositsParams{
		MinAmount: &params.Amount,
		MaxAmount: &params.Amount,
		Sender:    params.Sender,
		From:      &from,
		Limit:     s.maxLimit,
	})
	if err != nil {
		return nil, err
	}
	if len(deposits) == 0 {
		return &VerifyResult{Verified: false}, nil
	}

	s.logger.InfoContext(ctx, "payment verified",
		"tx_hash", deposits[0].TxHash,
		"amount_ton", deposits[0].Amount.String(),
		"matches", len(deposits),
	)
	return &VerifyResult{Verified: true, Deposits: deposits}, nil
}

// MarkProcessed flags a deposit as handled by a downstream workflow. It is
// idempotent; a missing hash yields db.ErrNotFound.
func (s *Service) MarkProcessed(ctx context.Context, txHash string) (*db.Deposit, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: tx_hash is required", ErrInvalidFilter)
	}
	dep, err := s.store.MarkDepositProcessed(ctx, txHash)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "deposit marked processed", "tx_hash", txHash)
	return dep, nil
}
