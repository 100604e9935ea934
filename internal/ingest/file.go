package ingest

import (
	"context"
	"log/slog"
	"os"
	"time"

	"ewsreplay/internal/config"
	"ewsreplay/internal/model"
)

// StartFile submits the analysis result at the configured path, then again
// whenever the file's size or modification time changes.
func StartFile(ctx context.Context, cfg *config.Manager, out chan<- model.Submission, logger *slog.Logger) {
	current := cfg.Get().Ingest.File
	if !current.Enabled {
		if logger != nil {
			logger.Info("file ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("file ingest enabled", "path", current.Path, "poll_interval", current.PollInterval)
	}
	go watchFile(ctx, current.Path, current.PollInterval, out, logger)
}

func watchFile(ctx context.Context, path string, interval time.Duration, out chan<- model.Submission, logger *slog.Logger) {
	var lastMod time.Time
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			if logger != nil {
				logger.Warn("analysis file unavailable", "path", path, "err", err)
			}
		case info.ModTime().Equal(lastMod) && info.Size() == lastSize:
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				if logger != nil {
					logger.Warn("analysis file read failed", "path", path, "err", err)
				}
				break
			}
			// A dropped send leaves the file unseen so the next poll retries it.
			if SendNonBlocking(ctx, out, model.Submission{Source: "file", Data: data, Received: time.Now().UTC()}, logger) {
				lastMod, lastSize = info.ModTime(), info.Size()
			}
		}
		if !BackoffSleep(ctx, interval) {
			return
		}
	}
}
