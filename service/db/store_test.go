package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "UQtest-monitored-account"

func insertParams(txHash string, amount string, lt int64, ts time.Time) InsertDepositParams {
	amt := decimal.RequireFromString(amount)
	return InsertDepositParams{
		TxHash:         txHash,
		AccountID:      testAccount,
		SenderAddress:  "UQsender-default",
		Amount:         amt,
		AmountNanotons: amt.Shift(9).IntPart(),
		LogicalTime:    lt,
		Timestamp:      ts,
		Confirmed:      true,
	}
}

func TestInsertAndGetDeposit(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	msg := "invoice 42"
	params := insertParams("hash-1", "1.5", 100, now)
	params.Message = &msg

	dep, err := ts.InsertDeposit(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", dep.TxHash)
	assert.True(t, dep.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(1_500_000_000), dep.AmountNanotons)
	require.NotNil(t, dep.Message)
	assert.Equal(t, "invoice 42", *dep.Message)
	assert.True(t, dep.Confirmed)
	assert.False(t, dep.Processed)
	assert.False(t, dep.CreatedAt.IsZero())

	got, err := ts.GetDeposit(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, dep.TxHash, got.TxHash)
	assert.True(t, dep.Amount.Equal(got.Amount))
	assert.True(t, now.Equal(got.Timestamp))

	_, err = ts.GetDeposit(ctx, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDepositDuplicate(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	params := insertParams("hash-dup", "1", 100, time.Now().UTC())

	_, err := ts.InsertDeposit(ctx, params)
	require.NoError(t, err)

	_, err = ts.InsertDeposit(ctx, params)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)

	// A conflicting insert never clobbers the original row.
	dep, err := ts.GetDeposit(ctx, "hash-dup")
	require.NoError(t, err)
	assert.True(t, dep.Amount.Equal(decimal.RequireFromString("1")))
}

func TestDepositExists(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	exists, err := ts.DepositExists(ctx, "hash-x")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = ts.InsertDeposit(ctx, insertParams("hash-x", "0.1", 100, time.Now().UTC()))
	require.NoError(t, err)

	exists, err = ts.DepositExists(ctx, "hash-x")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListDepositsFilters(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	senders := []string{"UQalice-1", "UQalice-2", "UQbob-1"}
	amounts := []string{"0.05", "1", "10"}
	for i := 0; i < 3; i++ {
		p := insertParams(fmt.Sprintf("hash-%d", i), amounts[i], int64(100*(i+1)), base.Add(time.Duration(i)*time.Hour))
		p.SenderAddress = senders[i]
		_, err := ts.InsertDeposit(ctx, p)
		require.NoError(t, err)
	}

	t.Run("newest first", func(t *testing.T) {
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{Limit: 10})
		require.NoError(t, err)
		require.Len(t, deps, 3)
		assert.Equal(t, "hash-2", deps[0].TxHash)
		assert.Equal(t, "hash-0", deps[2].TxHash)
	})

	t.Run("amount range", func(t *testing.T) {
		min := decimal.RequireFromString("0.5")
		max := decimal.RequireFromString("5")
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{MinAmount: &min, MaxAmount: &max, Limit: 10})
		require.NoError(t, err)
		require.Len(t, deps, 1)
		assert.Equal(t, "hash-1", deps[0].TxHash)
	})

	t.Run("sender substring", func(t *testing.T) {
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{Sender: "alice", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, deps, 2)
	})

	t.Run("date window", func(t *testing.T) {
		from := base.Add(30 * time.Minute)
		to := base.Add(90 * time.Minute)
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{From: &from, To: &to, Limit: 10})
		require.NoError(t, err)
		require.Len(t, deps, 1)
		assert.Equal(t, "hash-1", deps[0].TxHash)
	})

	t.Run("limit", func(t *testing.T) {
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, deps, 2)
	})

	t.Run("no match is empty not error", func(t *testing.T) {
		min := decimal.RequireFromString("1000")
		deps, err := ts.ListDeposits(ctx, ListDepositsParams{MinAmount: &min, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, deps)
	})
}

func TestAggregateDepositsExactSums(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// 0.1 + 0.2 + 0.3 must come back as exactly 0.6.
	for i, amount := range []string{"0.1", "0.2", "0.3"} {
		_, err := ts.InsertDeposit(ctx, insertParams(fmt.Sprintf("hash-%d", i), amount, int64(100*(i+1)), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	stats, err := ts.AggregateDeposits(ctx, ListDepositsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCount)
	assert.True(t, stats.TotalAmount.Equal(decimal.RequireFromString("0.6")),
		"sum should be exact, got %s", stats.TotalAmount)
	assert.True(t, stats.MinAmount.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, stats.MaxAmount.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, int64(1), stats.DistinctSenders)
	require.NotNil(t, stats.FirstTimestamp)
	require.NotNil(t, stats.LastTimestamp)
	assert.True(t, base.Equal(*stats.FirstTimestamp))
	assert.Equal(t, int64(0), stats.ProcessedCount)
	assert.Equal(t, int64(3), stats.ConfirmedCount)
}

func TestAggregateDepositsEmpty(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	stats, err := ts.AggregateDeposits(context.Background(), ListDepositsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCount)
	assert.True(t, stats.TotalAmount.IsZero())
	assert.Nil(t, stats.FirstTimestamp)
	assert.Nil(t, stats.LastTimestamp)
}

func TestMarkDepositProcessed(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	_, err := ts.InsertDeposit(ctx, insertParams("hash-p", "1", 100, time.Now().UTC()))
	require.NoError(t, err)

	dep, err := ts.MarkDepositProcessed(ctx, "hash-p")
	require.NoError(t, err)
	assert.True(t, dep.Processed)

	// Marking twice is a no-op, not an error.
	dep, err = ts.MarkDepositProcessed(ctx, "hash-p")
	require.NoError(t, err)
	assert.True(t, dep.Processed)

	_, err = ts.MarkDepositProcessed(ctx, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}
