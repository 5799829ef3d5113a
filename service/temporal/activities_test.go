package temporal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	natspkg "github.com/brojonat/tonwatch/service/nats"
	"github.com/brojonat/tonwatch/service/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	outcome   *sync.Outcome
	err       error
	lastLimit int
}

func (f *fakeSyncer) Sync(ctx context.Context, limit int) (*sync.Outcome, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeSyncer) Account() string { return testAccount }

func TestSyncDepositsActivity(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		syncer := &fakeSyncer{outcome: &sync.Outcome{Accepted: testDeposits(), RejectedCount: 1}}
		acts := NewActivities(syncer, nil, nil, nil)

		result, err := acts.SyncDeposits(context.Background(), SyncDepositsInput{Limit: 25})
		require.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Len(t, result.Accepted, 2)
		assert.Equal(t, 1, result.RejectedCount)
		assert.Equal(t, 25, syncer.lastLimit)
	})

	t.Run("lock held is a skip not an error", func(t *testing.T) {
		syncer := &fakeSyncer{err: fmt.Errorf("wrapped: %w", sync.ErrSyncInProgress)}
		acts := NewActivities(syncer, nil, nil, nil)

		result, err := acts.SyncDeposits(context.Background(), SyncDepositsInput{Limit: 50})
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Empty(t, result.Accepted)
	})

	t.Run("provider failure propagates for retry", func(t *testing.T) {
		syncer := &fakeSyncer{err: errors.New("toncenter timeout")}
		acts := NewActivities(syncer, nil, nil, nil)

		_, err := acts.SyncDeposits(context.Background(), SyncDepositsInput{Limit: 50})
		require.Error(t, err)
	})
}

func TestPublishDepositsActivity(t *testing.T) {
	t.Run("publishes events", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		acts := NewActivities(&fakeSyncer{}, publisher, nil, nil)

		result, err := acts.PublishDeposits(context.Background(), PublishDepositsInput{Deposits: testDeposits()})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Published)

		events := publisher.GetPublishedEventsForAccount(testAccount)
		require.Len(t, events, 2)
		assert.Equal(t, "hash-1", events[0].TxHash)
		assert.Equal(t, "1.5", events[0].AmountTON)
	})

	t.Run("nil publisher is a no-op", func(t *testing.T) {
		acts := NewActivities(&fakeSyncer{}, nil, nil, nil)
		result, err := acts.PublishDeposits(context.Background(), PublishDepositsInput{Deposits: testDeposits()})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Published)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		acts := NewActivities(&fakeSyncer{}, publisher, nil, nil)
		result, err := acts.PublishDeposits(context.Background(), PublishDepositsInput{})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Published)
		assert.Equal(t, 0, publisher.GetPublishedEventCount())
	})

	t.Run("publish failure propagates", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		publisher.SetPublishBatchError(errors.New("nats down"))
		acts := NewActivities(&fakeSyncer{}, publisher, nil, nil)

		_, err := acts.PublishDeposits(context.Background(), PublishDepositsInput{Deposits: testDeposits()})
		require.Error(t, err)
	})
}

func TestMockScheduler(t *testing.T) {
	m := NewMockScheduler()
	ctx := context.Background()

	require.NoError(t, m.CreateDepositSchedule(ctx, testAccount, 50, 0))
	assert.True(t, m.ScheduleExists(testAccount))
	assert.Equal(t, 1, m.ScheduleCount())

	require.NoError(t, m.DeleteDepositSchedule(ctx, testAccount))
	assert.False(t, m.ScheduleExists(testAccount))

	assert.Error(t, m.DeleteDepositSchedule(ctx, testAccount), "deleting a missing schedule errors")
}
