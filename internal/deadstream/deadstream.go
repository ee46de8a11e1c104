// Package deadstream implements the optional dead-point event stream:
// when write_dead is enabled with a Kafka topic configured, the scheduler
// publishes one DeadPointEvent per promotion in addition to the flat-file
// "<file_root>_dead.txt", so external analytics can follow the death
// sequence live.
package deadstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/resilience"
)

// DeadPointEvent is the wire form of one promoted dead point.
type DeadPointEvent struct {
	NDead     int       `json:"ndead"`
	LogL      float64   `json:"log_l"`
	LogWeight float64   `json:"log_weight"`
	Physical  []float64 `json:"physical"`
	Derived   []float64 `json:"derived"`
}

// Producer publishes DeadPointEvents to a Kafka topic with hash-balanced
// partitioning keyed on file_root and RequireAll acks.
type Producer struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
}

// NewProducer creates a Producer for the configured dead-points topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DeadPoints,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Producer{
		writer:  w,
		logger:  slog.Default().With("component", "deadstream-producer", "topic", cfg.DeadPoints),
		breaker: resilience.NewCircuitBreaker("kafka-deadstream", resilience.CircuitBreakerConfig{}),
	}
}

// Publish serializes one dead point and writes it to Kafka, keyed by
// fileRoot so a single topic can carry several concurrent runs without
// interleaving their partitions. A publish failure is logged and the run
// continues; failed events are not retried.
func (p *Producer) Publish(ctx context.Context, fileRoot string, event DeadPointEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshaling dead-point event", "error", err)
		return
	}
	msg := kafka.Message{Key: []byte(fileRoot), Value: value}
	err = p.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, 5*time.Second, "kafka-deadstream", func(writeCtx context.Context) error {
			return p.writer.WriteMessages(writeCtx, msg)
		})
	})
	if err != nil {
		p.logger.Warn("failed to publish dead-point event", "ndead", event.NDead, "error", err, "breaker_state", p.breaker.GetState())
	}
}

// Breaker exposes the producer's circuit breaker so its state can be
// mirrored into the metrics gauge.
func (p *Producer) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Replay reconstructs the dead-point sequence for a run by consuming its
// topic from the start, for external diagnostics (e.g. recomputing logZ
// offline from the event stream instead of the posterior file). Replay is
// a bounded, one-shot read: it returns once the context is cancelled.
func Replay(ctx context.Context, cfg config.KafkaConfig, fileRoot string) ([]DeadPointEvent, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.DeadPoints,
		GroupID:     fmt.Sprintf("%s-replay-%s", cfg.ConsumerGroup, fileRoot),
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	var events []DeadPointEvent
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return events, nil
			}
			return events, fmt.Errorf("fetching dead-point event: %w", err)
		}
		if string(msg.Key) != fileRoot {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return events, fmt.Errorf("committing skipped message: %w", err)
			}
			continue
		}
		event, err := decodeEvent(msg.Value)
		if err != nil {
			return events, err
		}
		events = append(events, event)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return events, fmt.Errorf("committing dead-point event: %w", err)
		}
	}
}

func decodeEvent(value []byte) (DeadPointEvent, error) {
	var event DeadPointEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("decoding dead-point event: %w", err)
	}
	return event, nil
}
