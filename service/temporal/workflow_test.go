package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"
)

const testAccount = "UQtest-monitored-account"

func testDeposits() []*db.Deposit {
	return []*db.Deposit{
		{
			TxHash:         "hash-1",
			AccountID:      testAccount,
			SenderAddress:  "UQsender-1",
			Amount:         decimal.RequireFromString("1.5"),
			AmountNanotons: 1_500_000_000,
			LogicalTime:    100,
			Timestamp:      time.Now().UTC(),
			Confirmed:      true,
		},
		{
			TxHash:         "hash-2",
			AccountID:      testAccount,
			SenderAddress:  "UQsender-2",
			Amount:         decimal.RequireFromString("0.25"),
			AmountNanotons: 250_000_000,
			LogicalTime:    200,
			Timestamp:      time.Now().UTC(),
			Confirmed:      true,
		},
	}
}

func TestPollDepositsWorkflow(t *testing.T) {
	input := PollDepositsInput{Account: testAccount, Limit: 50}

	tests := []struct {
		name           string
		mockActivities func(env *testsuite.TestWorkflowEnvironment)
		expectedError  bool
		validateResult func(*testing.T, *PollDepositsResult)
	}{
		{
			name: "successful cycle with deposits",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment) {
				env.OnActivity(a.SyncDeposits, mock.Anything, SyncDepositsInput{Limit: 50}).
					Return(&SyncDepositsResult{Accepted: testDeposits(), RejectedCount: 3}, nil)
				env.OnActivity(a.PublishDeposits, mock.Anything, mock.Anything).
					Return(&PublishDepositsResult{Published: 2}, nil)
			},
			validateResult: func(t *testing.T, result *PollDepositsResult) {
				assert.Equal(t, testAccount, result.Account)
				assert.False(t, result.Skipped)
				assert.Equal(t, 2, result.AcceptedCount)
				assert.Equal(t, 3, result.RejectedCount)
				assert.Equal(t, 2, result.Published)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "cycle with nothing new skips publishing",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment) {
				env.OnActivity(a.SyncDeposits, mock.Anything, mock.Anything).
					Return(&SyncDepositsResult{}, nil)
				// PublishDeposits must NOT be called
			},
			validateResult: func(t *testing.T, result *PollDepositsResult) {
				assert.Equal(t, 0, result.AcceptedCount)
				assert.Equal(t, 0, result.Published)
			},
		},
		{
			name: "lock held yields a skip",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment) {
				env.OnActivity(a.SyncDeposits, mock.Anything, mock.Anything).
					Return(&SyncDepositsResult{Skipped: true}, nil)
			},
			validateResult: func(t *testing.T, result *PollDepositsResult) {
				assert.True(t, result.Skipped)
				assert.Equal(t, 0, result.AcceptedCount)
			},
		},
		{
			name: "sync failure fails the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment) {
				env.OnActivity(a.SyncDeposits, mock.Anything, mock.Anything).
					Return(nil, errors.New("provider down"))
			},
			expectedError: true,
		},
		{
			name: "publish failure does not fail the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment) {
				env.OnActivity(a.SyncDeposits, mock.Anything, mock.Anything).
					Return(&SyncDepositsResult{Accepted: testDeposits()}, nil)
				env.OnActivity(a.PublishDeposits, mock.Anything, mock.Anything).
					Return(nil, errors.New("nats down"))
			},
			validateResult: func(t *testing.T, result *PollDepositsResult) {
				assert.Equal(t, 2, result.AcceptedCount)
				assert.Equal(t, 0, result.Published)
				assert.Nil(t, result.Error)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()
			env.RegisterWorkflow(PollDepositsWorkflow)

			tt.mockActivities(env)

			env.ExecuteWorkflow(PollDepositsWorkflow, input)
			assert.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			assert.NoError(t, env.GetWorkflowError())
			var result PollDepositsResult
			assert.NoError(t, env.GetWorkflowResult(&result))
			if tt.validateResult != nil {
				tt.validateResult(t, &result)
			}
		})
	}
}
