package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/tonwatch/service/db"
	"github.com/brojonat/tonwatch/service/metrics"
	natspkg "github.com/brojonat/tonwatch/service/nats"
	"github.com/brojonat/tonwatch/service/sync"
)

// PollDepositsInput contains the input parameters for one scheduled poll of
// the monitored account.
type PollDepositsInput struct {
	Account string `json:"account"`
	Limit   int    `json:"limit"`
}

// PollDepositsResult contains the result of one scheduled poll.
type PollDepositsResult struct {
	Account       string    `json:"account"`
	PollTime      time.Time `json:"poll_time"`
	Skipped       bool      `json:"skipped"` // another cycle held the lock
	AcceptedCount int       `json:"accepted_count"`
	RejectedCount int       `json:"rejected_count"`
	Published     int       `json:"published"`
	Error         *string   `json:"error,omitempty"`
}

// SyncDepositsInput contains parameters for the SyncDeposits activity.
type SyncDepositsInput struct {
	Limit int `json:"limit"`
}

// SyncDepositsResult contains the result of the SyncDeposits activity.
type SyncDepositsResult struct {
	Skipped       bool          `json:"skipped"`
	Accepted      []*db.Deposit `json:"accepted"`
	RejectedCount int           `json:"rejected_count"`
}

// PublishDepositsInput contains parameters for the PublishDeposits activity.
type PublishDepositsInput struct {
	Deposits []*db.Deposit `json:"deposits"`
}

// PublishDepositsResult contains the result of the PublishDeposits activity.
type PublishDepositsResult struct {
	Published int `json:"published"`
}

// SyncerInterface is the synchronizer dependency of the activities.
type SyncerInterface interface {
	Sync(ctx context.Context, limit int) (*sync.Outcome, error)
	Account() string
}

// PublisherInterface is the event publisher dependency of the activities.
type PublisherInterface interface {
	PublishDepositBatch(ctx context.Context, events []*natspkg.DepositEvent) error
}

// Activities holds the dependencies for all workflow activities.
type Activities struct {
	syncer    SyncerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates an Activities instance with the given dependencies.
// The publisher may be nil, in which case PublishDeposits is a no-op.
func NewActivities(syncer SyncerInterface, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		syncer:    syncer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// SyncDeposits runs one sync cycle against the monitored account. A cycle
// already holding the account lock is reported as a skip, not a failure:
// schedules fire on a fixed cadence and an overlapping trigger just yields.
func (a *Activities) SyncDeposits(ctx context.Context, input SyncDepositsInput) (*SyncDepositsResult, error) {
	outcome, err := a.syncer.Sync(ctx, input.Limit)
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			a.logger.InfoContext(ctx, "sync cycle already running, skipping scheduled poll",
				"account", a.syncer.Account(),
			)
			return &SyncDepositsResult{Skipped: true}, nil
		}
		a.logger.ErrorContext(ctx, "scheduled sync failed",
			"account", a.syncer.Account(),
			"error", err,
		)
		return nil, err
	}

	return &SyncDepositsResult{
		Accepted:      outcome.Accepted,
		RejectedCount: outcome.RejectedCount,
	}, nil
}

// PublishDeposits announces newly accepted deposits on the event stream.
func (a *Activities) PublishDeposits(ctx context.Context, input PublishDepositsInput) (*PublishDepositsResult, error) {
	if a.publisher == nil || len(input.Deposits) == 0 {
		return &PublishDepositsResult{}, nil
	}

	events := make([]*natspkg.DepositEvent, len(input.Deposits))
	for i, dep := range input.Deposits {
		events[i] = natspkg.FromDeposit(dep)
	}

	if err := a.publisher.PublishDepositBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish deposit events",
			"count", len(events),
			"error", err,
		)
		return nil, err
	}

	a.logger.InfoContext(ctx, "published deposit events", "count", len(events))
	return &PublishDepositsResult{Published: len(events)}, nil
}
