// Package notify forwards alert events to external channels. The only
// implemented channel is Kafka; the router falls back to log-and-file alerts
// when no brokers are configured.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/conveyor-io/conveyor/internal/monitoring"
)

// ErrNoBrokers is returned when a notifier is constructed without brokers.
var ErrNoBrokers = errors.New("no kafka brokers configured")

// alertBatchTimeout flushes single alerts promptly; alerts are rare and never
// arrive in broker-sized batches.
const alertBatchTimeout = 10 * time.Millisecond

var _ monitoring.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes alert events to a Kafka topic, keyed by run id so
// one run's alerts stay ordered on a single partition.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaNotifier creates a notifier publishing to the configured topic.
func NewKafkaNotifier(cfg *Config, logger *slog.Logger) (*KafkaNotifier, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           alertBatchTimeout,
		AllowAutoTopicCreation: true,
	}

	return &KafkaNotifier{
		writer: writer,
		logger: logger.With(slog.String("component", "kafka_notifier")),
	}, nil
}

// Notify publishes one alert event. The write is synchronous; the caller's
// rate limiter already shields the broker from alert storms.
func (n *KafkaNotifier) Notify(ctx context.Context, event monitoring.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert to %s: %w", n.writer.Topic, err)
	}

	n.logger.Debug("alert published",
		slog.String("topic", n.writer.Topic),
		slog.String("alert_type", event.Type),
		slog.String("run_id", event.RunID))

	return nil
}

// Close flushes and releases the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
