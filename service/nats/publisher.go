package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tonwatch/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing deposit events to NATS.
type Publisher interface {
	// PublishDeposit publishes a single deposit event to JetStream.
	// The event is published to the subject "deposits.{account_id}".
	PublishDeposit(ctx context.Context, event *DepositEvent) error

	// PublishDepositBatch publishes multiple deposit events.
	// This is more efficient than calling PublishDeposit multiple times.
	PublishDepositBatch(ctx context.Context, events []*DepositEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes deposit events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for deposits.
	StreamName = "DEPOSITS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "deposits.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("tonwatch-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Deposit events from monitored TON accounts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishDeposit publishes a single deposit event.
func (p *JetStreamPublisher) PublishDeposit(ctx context.Context, event *DepositEvent) error {
	subject := fmt.Sprintf("deposits.%s", event.AccountID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal deposit event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish deposit: %w", err)
	}

	p.logger.Debug("published deposit event",
		"subject", subject,
		"tx_hash", event.TxHash,
		"account", event.AccountID,
	)

	return nil
}

// PublishDepositBatch publishes multiple deposit events. Every event is
// attempted even when an earlier one fails; the failures are joined into the
// returned error so callers see a partial batch as a failure.
func (p *JetStreamPublisher) PublishDepositBatch(ctx context.Context, events []*DepositEvent) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, event := range events {
		if err := p.PublishDeposit(ctx, event); err != nil {
			p.logger.Error("failed to publish deposit in batch",
				"tx_hash", event.TxHash,
				"account", event.AccountID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("publish %s: %w", event.TxHash, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("published %d/%d deposit events: %w",
			len(events)-len(errs), len(events), errors.Join(errs...))
	}

	p.logger.Debug("published deposit batch",
		"count", len(events),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
