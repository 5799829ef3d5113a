package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/tonwatch/service/metrics"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides database operations for the deposit ledger.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// The metrics collector is optional; pass nil to skip query instrumentation.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// observe records one query against the deposits table. No-op without a
// metrics collector.
func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, "deposits", time.Since(start).Seconds(), err)
}

// Migrate applies the embedded schema migrations in lexical order. All
// statements are idempotent, so running it at every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Deposit represents one accepted native TON deposit in the ledger.
// Identity fields are immutable after insertion; only Processed may change.
type Deposit struct {
	TxHash         string
	AccountID      string
	SenderAddress  string
	Amount         decimal.Decimal // exact TON amount, never a float
	AmountNanotons int64           // authoritative smallest-unit amount
	Message        *string
	LogicalTime    int64
	Timestamp      time.Time
	Confirmed      bool
	Processed      bool
	CreatedAt      time.Time
}

// InsertDepositParams contains the parameters for inserting a deposit.
type InsertDepositParams struct {
	TxHash         string
	AccountID      string
	SenderAddress  string
	Amount         decimal.Decimal
	AmountNanotons int64
	Message        *string
	LogicalTime    int64
	Timestamp      time.Time
	Confirmed      bool
}

const depositColumns = `tx_hash, account_id, sender_address, amount_ton, amount_nanoton,
	message, logical_time, ts, confirmed, processed, created_at`

// InsertDeposit inserts a new deposit into the ledger. Returns ErrDuplicate
// if a deposit with the same tx_hash already exists; the unique constraint
// on tx_hash is enforced by the store itself, so no two entries for the same
// hash can ever be persisted even under concurrent writers.
func (s *Store) InsertDeposit(ctx context.Context, params InsertDepositParams) (_ *Deposit, err error) {
	defer func(start time.Time) { s.observe("insert", start, err) }(time.Now())

	query := `
		INSERT INTO deposits (
			tx_hash, account_id, sender_address, amount_ton, amount_nanoton,
			message, logical_time, ts, confirmed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + depositColumns

	row := s.pool.QueryRow(ctx, query,
		params.TxHash,
		params.AccountID,
		params.SenderAddress,
		params.Amount,
		params.AmountNanotons,
		pgtextFromStringPtr(params.Message),
		params.LogicalTime,
		pgtype.Timestamptz{Time: params.Timestamp, Valid: true},
		params.Confirmed,
	)

	dep, err := scanDeposit(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert deposit: %w", err)
	}
	return dep, nil
}

// DepositExists checks if a deposit with the given tx_hash is in the ledger.
func (s *Store) DepositExists(ctx context.Context, txHash string) (_ bool, err error) {
	defer func(start time.Time) { s.observe("exists", start, err) }(time.Now())

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM deposits WHERE tx_hash = $1)`, txHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check deposit existence: %w", err)
	}
	return exists, nil
}

// GetDeposit retrieves a deposit by its tx_hash.
func (s *Store) GetDeposit(ctx context.Context, txHash string) (_ *Deposit, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	query := `SELECT ` + depositColumns + ` FROM deposits WHERE tx_hash = $1`
	dep, err := scanDeposit(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return dep, nil
}

// ListDepositsParams contains the filter parameters for listing deposits.
// Nil/empty fields are not applied.
type ListDepositsParams struct {
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Sender    string // substring match
	From      *time.Time
	To        *time.Time
	Processed *bool
	Limit     int32
}

// ListDeposits retrieves deposits matching the filter, newest first.
func (s *Store) ListDeposits(ctx context.Context, params ListDepositsParams) (_ []*Deposit, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	where, args := buildDepositFilter(params)
	query := `SELECT ` + depositColumns + ` FROM deposits` + where +
		fmt.Sprintf(" ORDER BY ts DESC, logical_time DESC LIMIT $%d", len(args)+1)
	args = append(args, params.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []*Deposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return deposits, nil
}

// Stats holds aggregate statistics over the ledger (or a filtered subset).
// TotalAmount is summed inside Postgres as NUMERIC, never as binary floating
// point, so it stays exact across any number of entries.
type Stats struct {
	TotalCount      int64
	TotalAmount     decimal.Decimal
	DistinctSenders int64
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	FirstTimestamp  *time.Time
	LastTimestamp   *time.Time
	ProcessedCount  int64
	ConfirmedCount  int64
}

// AggregateDeposits computes Stats over deposits matching the filter.
// The Limit field of the filter is ignored.
func (s *Store) AggregateDeposits(ctx context.Context, params ListDepositsParams) (_ *Stats, err error) {
	defer func(start time.Time) { s.observe("aggregate", start, err) }(time.Now())

	where, args := buildDepositFilter(params)
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount_ton), 0),
			COUNT(DISTINCT sender_address),
			COALESCE(MIN(amount_ton), 0),
			COALESCE(MAX(amount_ton), 0),
			MIN(ts),
			MAX(ts),
			COUNT(*) FILTER (WHERE processed),
			COUNT(*) FILTER (WHERE confirmed)
		FROM deposits` + where

	var stats Stats
	var first, last pgtype.Timestamptz
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalCount,
		&stats.TotalAmount,
		&stats.DistinctSenders,
		&stats.MinAmount,
		&stats.MaxAmount,
		&first,
		&last,
		&stats.ProcessedCount,
		&stats.ConfirmedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate deposits: %w", err)
	}
	stats.FirstTimestamp = timePtrFromPgTimestamptz(first)
	stats.LastTimestamp = timePtrFromPgTimestamptz(last)
	return &stats, nil
}

// MarkDepositProcessed flips the processed flag for a deposit. This is the
// only mutation the store allows on an existing row.
func (s *Store) MarkDepositProcessed(ctx context.Context, txHash string) (_ *Deposit, err error) {
	defer func(start time.Time) { s.observe("mark_processed", start, err) }(time.Now())

	query := `UPDATE deposits SET processed = TRUE WHERE tx_hash = $1 RETURNING ` + depositColumns
	dep, err := scanDeposit(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark deposit processed: %w", err)
	}
	return dep, nil
}

// buildDepositFilter translates filter params into a WHERE clause and its
// positional arguments.
func buildDepositFilter(params ListDepositsParams) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if params.MinAmount != nil {
		add("amount_ton >= $%d", *params.MinAmount)
	}
	if params.MaxAmount != nil {
		add("amount_ton <= $%d", *params.MaxAmount)
	}
	if params.Sender != "" {
		add("sender_address LIKE $%d", "%"+params.Sender+"%")
	}
	if params.From != nil {
		add("ts >= $%d", pgtype.Timestamptz{Time: *params.From, Valid: true})
	}
	if params.To != nil {
		add("ts <= $%d", pgtype.Timestamptz{Time: *params.To, Valid: true})
	}
	if params.Processed != nil {
		add("processed = $%d", *params.Processed)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*Deposit, error) {
	var dep Deposit
	var message pgtype.Text
	var ts, createdAt pgtype.Timestamptz

	err := row.Scan(
		&dep.TxHash,
		&dep.AccountID,
		&dep.SenderAddress,
		&dep.Amount,
		&dep.AmountNanotons,
		&message,
		&dep.LogicalTime,
		&ts,
		&dep.Confirmed,
		&dep.Processed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	dep.Message = stringPtrFromPgtext(message)
	dep.Timestamp = ts.Time
	dep.CreatedAt = createdAt.Time
	return &dep, nil
}

// Helper functions to convert between pgx types and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
