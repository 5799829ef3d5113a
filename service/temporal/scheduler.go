package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule driving deposit polling.
// The monitored account gets one schedule that triggers PollDepositsWorkflow.
type Scheduler interface {
	// CreateDepositSchedule creates a new schedule for polling the account.
	CreateDepositSchedule(ctx context.Context, account string, limit int, interval time.Duration) error

	// UpsertDepositSchedule creates the schedule or updates its interval.
	UpsertDepositSchedule(ctx context.Context, account string, limit int, interval time.Duration) error

	// DeleteDepositSchedule deletes the schedule for the account.
	// This stops the account from being polled.
	DeleteDepositSchedule(ctx context.Context, account string) error
}

// scheduleID returns the Temporal schedule ID for an account.
func scheduleID(account string) string {
	return "poll-deposits-" + account
}
