package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gorvnbridge/metrics"
)

// Publisher announces processed deposits.
type Publisher interface {
	// Publish sends the event to "payouts.{outcome}".
	Publish(ctx context.Context, event *PayoutEvent) error
	Close() error
}

const (
	StreamName      = "PAYOUTS"
	StreamSubjects  = "payouts.*"
	StreamRetention = 30 * 24 * time.Hour
)

func Subject(event *PayoutEvent) string {
	return "payouts." + string(event.Outcome)
}

// JetStreamPublisher publishes payout events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to NATS and makes sure the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	logger = logger.With(slog.String("component", "events"))

	nc, err := nats.Connect(natsURL,
		nats.Name("gorvnbridge"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
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
		logger:  logger,
		metrics: m,
	}
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)
	return publisher, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Processed bridge deposits",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event *PayoutEvent) error {
	subject := Subject(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payout event: %w", err)
	}

	// the txid as message id lets the stream drop a republish after a redelivered job
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.TxID)); err != nil {
		p.metrics.RecordNATSPublish(subject, "error")
		return fmt.Errorf("failed to publish payout event: %w", err)
	}
	p.metrics.RecordNATSPublish(subject, "success")

	p.logger.Debug("published payout event", "subject", subject, "txid", event.TxID)
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// NoopPublisher is used when NATS_URL is empty.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *PayoutEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
