package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/brojonat/tonwatch/service/ton"
	"github.com/brojonat/tonwatch/service/validate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "UQtest-monitored-account-address-000000000000"

type fakeClient struct {
	mu      sync.Mutex
	txs     []ton.RawTransaction
	err     error
	block   chan struct{} // when set, FetchRecent blocks until closed
	entered chan struct{} // signals that FetchRecent has been reached
}

func (f *fakeClient) FetchRecent(ctx context.Context, account string, limit int) ([]ton.RawTransaction, error) {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.txs) {
		return f.txs[:limit], nil
	}
	return f.txs, nil
}

func (f *fakeClient) FetchBalance(ctx context.Context, account string) (*ton.Balance, error) {
	return &ton.Balance{Nanotons: 0, TON: decimal.Zero, Status: "active"}, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	deposits  map[string]*db.Deposit
	existsErr error
	insertErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{deposits: make(map[string]*db.Deposit)}
}

func (f *fakeLedger) DepositExists(ctx context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.deposits[txHash]
	return ok, nil
}

func (f *fakeLedger) InsertDeposit(ctx context.Context, params db.InsertDepositParams) (*db.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if _, ok := f.deposits[params.TxHash]; ok {
		return nil, db.ErrDuplicate
	}
	dep := &db.Deposit{
		TxHash:         params.TxHash,
		AccountID:      params.AccountID,
		SenderAddress:  params.SenderAddress,
		Amount:         params.Amount,
		AmountNanotons: params.AmountNanotons,
		Message:        params.Message,
		LogicalTime:    params.LogicalTime,
		Timestamp:      params.Timestamp,
		Confirmed:      params.Confirmed,
		CreatedAt:      time.Now().UTC(),
	}
	f.deposits[params.TxHash] = dep
	return dep, nil
}

func nativeTx(hash string, lt, nanotons int64, sender string) ton.RawTransaction {
	return ton.RawTransaction{
		Hash:          hash,
		LogicalTime:   lt,
		Timestamp:     time.Now().Unix(),
		Sender:        sender,
		Recipient:     testAccount,
		ValueNanotons: nanotons,
		ActionSuccess: true,
	}
}

func newTestSynchronizer(t *testing.T, client *fakeClient, ledger *fakeLedger, minAmount decimal.Decimal) *Synchronizer {
	t.Helper()
	s, err := New(Config{
		Account:   testAccount,
		Client:    client,
		Ledger:    ledger,
		MinAmount: minAmount,
	})
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	client := &fakeClient{}
	ledger := newFakeLedger()

	_, err := New(Config{Client: client, Ledger: ledger})
	assert.Error(t, err, "missing account")

	_, err = New(Config{Account: testAccount, Ledger: ledger})
	assert.Error(t, err, "missing client")

	_, err = New(Config{Account: testAccount, Client: client})
	assert.Error(t, err, "missing ledger")

	s, err := New(Config{Account: testAccount, Client: client, Ledger: ledger})
	require.NoError(t, err)
	assert.Equal(t, testAccount, s.Account())
}

func TestSyncAcceptsNativeDeposits(t *testing.T) {
	client := &fakeClient{txs: []ton.RawTransaction{
		nativeTx("hash-b", 200, 500_000_000, "UQsender-2"),
		nativeTx("hash-a", 100, 1_000_000_000, "UQsender-1"),
	}}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	outcome, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, outcome.Accepted, 2)
	assert.Equal(t, 0, outcome.RejectedCount)

	// The delta comes back in logical-time ascending order even though the
	// adapter returned newest first.
	assert.Equal(t, "hash-a", outcome.Accepted[0].TxHash)
	assert.Equal(t, "hash-b", outcome.Accepted[1].TxHash)
	assert.True(t, outcome.Accepted[0].Amount.Equal(decimal.RequireFromString("1")))
	assert.True(t, outcome.Accepted[1].Amount.Equal(decimal.RequireFromString("0.5")))
}

func TestSyncSkipsAlreadySeen(t *testing.T) {
	client := &fakeClient{txs: []ton.RawTransaction{
		nativeTx("hash-a", 100, 1_000_000_000, "UQsender-1"),
	}}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	first, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, first.Accepted, 1)

	second, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, second.Accepted, "replayed transaction must not be re-recorded")
	assert.Equal(t, 0, second.RejectedCount, "dedup skip is not a rejection")
}

func TestSyncCountsRejections(t *testing.T) {
	op := validate.OpJettonTransfer
	txs := []ton.RawTransaction{
		nativeTx("accepted", 400, 1_000_000_000, "UQsender-1"),
		nativeTx("zero-value", 300, 0, "UQsender-2"),
		{
			Hash: "jetton", LogicalTime: 200, Timestamp: time.Now().Unix(),
			Sender: "UQsender-3", Recipient: testAccount,
			ValueNanotons: 1_000_000_000, Opcode: &op, ActionSuccess: true,
		},
		nativeTx("dust", 100, 1_000_000, "UQsender-4"), // 0.001 TON
	}
	client := &fakeClient{txs: txs}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.RequireFromString("0.01"))

	outcome, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, outcome.Accepted, 1)
	assert.Equal(t, "accepted", outcome.Accepted[0].TxHash)
	assert.Equal(t, 3, outcome.RejectedCount, "classifier rejections plus below-minimum")

	// Rejected transactions never touch the ledger.
	exists, err := ledger.DepositExists(context.Background(), "dust")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSyncSkipsSelfTransfers(t *testing.T) {
	client := &fakeClient{txs: []ton.RawTransaction{
		nativeTx("self", 100, 1_000_000_000, testAccount),
	}}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	outcome, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, outcome.Accepted)
	assert.Equal(t, 0, outcome.RejectedCount)
}

func TestSyncStoresComment(t *testing.T) {
	tx := nativeTx("with-comment", 100, 1_000_000_000, "UQsender-1")
	tx.Body = append([]byte{0, 0, 0, 0}, []byte("invoice 42")...)
	client := &fakeClient{txs: []ton.RawTransaction{tx}}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	outcome, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, outcome.Accepted, 1)
	require.NotNil(t, outcome.Accepted[0].Message)
	assert.Equal(t, "invoice 42", *outcome.Accepted[0].Message)
}

func TestSyncFailsFastWhenInProgress(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	client := &fakeClient{block: block, entered: entered}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Sync(context.Background(), 50)
	}()

	<-entered
	_, err := s.Sync(context.Background(), 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(block)
	<-done

	// The lock is released once the first cycle finishes.
	_, err = s.Sync(context.Background(), 50)
	assert.NoError(t, err)
}

func TestSyncAdapterFailure(t *testing.T) {
	providerErr := errors.New("upstream down")
	client := &fakeClient{err: providerErr}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	_, err := s.Sync(context.Background(), 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, providerErr)

	// A failed cycle releases the lock.
	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()
	_, err = s.Sync(context.Background(), 50)
	assert.NoError(t, err)
}

func TestSyncPartialProgressOnStoreFailure(t *testing.T) {
	client := &fakeClient{txs: []ton.RawTransaction{
		nativeTx("newer", 200, 2_000_000_000, "UQsender-2"),
		nativeTx("older", 100, 1_000_000_000, "UQsender-1"),
	}}
	ledger := newFakeLedger()
	s := newTestSynchronizer(t, client, ledger, decimal.Zero)

	// First insert succeeds, then the store goes away.
	outcome, err := s.Sync(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, outcome.Accepted, 2)

	ledger2 := newFakeLedger()
	ledger2.insertErr = errors.New("connection reset")
	s2 := newTestSynchronizer(t, client, ledger2, decimal.Zero)
	_, err = s2.Sync(context.Background(), 50)
	require.Error(t, err)
}
