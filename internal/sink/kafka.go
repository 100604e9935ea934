// Package sink forwards bus events to external notification systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/model"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes every event it receives as JSON, keyed by chart id so one
// chart's events stay ordered within a partition.
type Kafka struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
	onError func(error)
}

func NewKafka(cfg config.KafkaSinkConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires brokers and topic")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaWithWriter(writer, cfg.Topic, logger), nil
}

func NewKafkaWithWriter(w MessageWriter, topic string, logger *slog.Logger) *Kafka {
	return &Kafka{writer: w, topic: topic, timeout: 10 * time.Second, logger: logger}
}

// OnError installs a hook called for every failed write.
func (k *Kafka) OnError(fn func(error)) {
	k.onError = fn
}

func (k *Kafka) Write(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ChartID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
}

// Run drains sub until ctx is done or the bus closes, then closes the writer.
// Write failures are logged and never stop the loop.
func (k *Kafka) Run(ctx context.Context, sub *bus.Subscription) {
	defer k.writer.Close()
	bus.Consume(ctx, sub, func(ev model.Event) {
		if err := k.Write(ctx, ev); err != nil {
			if k.logger != nil {
				k.logger.Warn("kafka sink write failed", "topic", k.topic, "kind", ev.Kind, "chart_id", ev.ChartID, "err", err)
			}
			if k.onError != nil {
				k.onError(err)
			}
		}
	})
}
