// Package ingest delivers analysis results from external sources to the engine.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"ewsreplay/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Submission, sub model.Submission, logger *slog.Logger) bool {
	select {
	case out <- sub:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("submission channel full, dropping analysis result", "source", sub.Source, "bytes", len(sub.Data))
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
