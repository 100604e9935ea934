package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"ewsreplay/internal/config"
	"ewsreplay/internal/model"
)

// StartKafka consumes analysis results published by the backend, one result
// per message.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Submission, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 50e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			if len(m.Value) == 0 {
				continue
			}
			received := m.Time
			if received.IsZero() {
				received = time.Now().UTC()
			}
			SendNonBlocking(ctx, out, model.Submission{Source: "kafka", Data: m.Value, Received: received}, logger)
		}
	}()
}
