package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PollDepositsWorkflow is the Temporal workflow that polls the monitored TON
// account for new deposits. It is triggered by a Temporal schedule at a
// configured interval (e.g., every 30 seconds).
//
// The workflow performs these steps:
// 1. Run one sync cycle: fetch, classify and persist deposits (SyncDeposits activity)
// 2. Publish the newly accepted deposits to NATS (PublishDeposits activity)
// 3. Return a summary of the cycle
func PollDepositsWorkflow(ctx workflow.Context, input PollDepositsInput) (*PollDepositsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollDepositsWorkflow started", "account", input.Account)

	result := &PollDepositsResult{
		Account:  input.Account,
		PollTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: run the sync cycle
	var syncResult *SyncDepositsResult
	err := workflow.ExecuteActivity(ctx, a.SyncDeposits, SyncDepositsInput{Limit: input.Limit}).Get(ctx, &syncResult)
	if err != nil {
		logger.Error("sync cycle failed", "account", input.Account, "error", err)
		errMsg := fmt.Sprintf("sync cycle failed: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("sync cycle failed: %w", err)
	}

	if syncResult.Skipped {
		logger.Info("sync cycle skipped, previous cycle still running", "account", input.Account)
		result.Skipped = true
		return result, nil
	}

	result.AcceptedCount = len(syncResult.Accepted)
	result.RejectedCount = syncResult.RejectedCount

	logger.Info("sync cycle completed",
		"account", input.Account,
		"accepted", result.AcceptedCount,
		"rejected", result.RejectedCount,
	)

	// If nothing new was accepted, we're done
	if len(syncResult.Accepted) == 0 {
		return result, nil
	}

	// Step 2: publish accepted deposits to NATS. A publish failure is logged
	// but does not fail the workflow; the deposits are already durable in
	// the ledger and subscribers can recover via the HTTP API.
	var publishResult *PublishDepositsResult
	err = workflow.ExecuteActivity(ctx, a.PublishDeposits, PublishDepositsInput{Deposits: syncResult.Accepted}).Get(ctx, &publishResult)
	if err != nil {
		logger.Warn("failed to publish deposit events", "account", input.Account, "error", err)
	} else {
		result.Published = publishResult.Published
	}

	logger.Info("PollDepositsWorkflow completed",
		"account", input.Account,
		"accepted", result.AcceptedCount,
		"rejected", result.RejectedCount,
		"published", result.Published,
	)

	return result, nil
}
