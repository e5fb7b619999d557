package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/blinks/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing Blink events to NATS.
type Publisher interface {
	// PublishAttempt publishes to "blinks.attempts.{blink_id}".
	PublishAttempt(ctx context.Context, event *AttemptEvent) error

	// PublishPaid publishes to "blinks.paid.{blink_id}".
	PublishPaid(ctx context.Context, event *PaidEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes Blink events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for Blink events.
	StreamName = "BLINKS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "blinks.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// AttemptSubject returns the subject attempt events for a Blink are published on.
func AttemptSubject(blinkID string) string {
	return "blinks.attempts." + blinkID
}

// PaidSubject returns the subject the paid event for a Blink is published on.
func PaidSubject(blinkID string) string {
	return "blinks.paid." + blinkID
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("blinks-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
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
		Description: "Blink transaction attempts and payment confirmations",
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

// PublishAttempt publishes a transaction attempt event.
func (p *JetStreamPublisher) PublishAttempt(ctx context.Context, event *AttemptEvent) error {
	subject := AttemptSubject(event.BlinkID)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish attempt: %w", err)
	}

	p.logger.Debug("published attempt event",
		"subject", subject,
		"blink_id", event.BlinkID,
		"sender", event.Sender,
	)
	return nil
}

// PublishPaid publishes a payment confirmation event.
func (p *JetStreamPublisher) PublishPaid(ctx context.Context, event *PaidEvent) error {
	subject := PaidSubject(event.BlinkID)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish paid event: %w", err)
	}

	p.logger.Debug("published paid event",
		"subject", subject,
		"blink_id", event.BlinkID,
		"signature", event.Signature,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
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
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
