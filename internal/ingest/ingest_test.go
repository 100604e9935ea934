package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ewsreplay/internal/config"
	"ewsreplay/internal/model"
)

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Submission, 1)
	ctx := context.Background()
	if !SendNonBlocking(ctx, out, model.Submission{Source: "a"}, nil) {
		t.Fatalf("first send failed")
	}
	if SendNonBlocking(ctx, out, model.Submission{Source: "b"}, nil) {
		t.Fatalf("send on full channel should drop")
	}
}

func TestBackoffSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if BackoffSleep(ctx, time.Hour) {
		t.Fatalf("sleep should stop on cancel")
	}
}

func TestFileIngestResubmitsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(path, []byte(`{"cleaned_df":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Ingest.File = config.FileConfig{Enabled: true, Path: path, PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.Submission, 4)
	StartFile(ctx, config.NewStaticManager(cfg), out, nil)

	first := receive(t, out)
	if first.Source != "file" || string(first.Data) != `{"cleaned_df":[]}` {
		t.Fatalf("first submission: %+v", first)
	}

	if err := os.WriteFile(path, []byte(`{"cleaned_df":[{"Seconds":0}]}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(time.Minute)
	_ = os.Chtimes(path, later, later)
	second := receive(t, out)
	if string(second.Data) != `{"cleaned_df":[{"Seconds":0}]}` {
		t.Fatalf("second submission: %s", second.Data)
	}
}

func TestFileIngestRetriesDroppedSubmission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(path, []byte(`{"cleaned_df":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Ingest.File = config.FileConfig{Enabled: true, Path: path, PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.Submission, 1)
	out <- model.Submission{Source: "queued"}
	StartFile(ctx, config.NewStaticManager(cfg), out, nil)

	// Several polls find the queue full.
	time.Sleep(50 * time.Millisecond)
	if queued := receive(t, out); queued.Source != "queued" {
		t.Fatalf("expected the queued submission first, got %+v", queued)
	}
	retried := receive(t, out)
	if retried.Source != "file" || string(retried.Data) != `{"cleaned_df":[]}` {
		t.Fatalf("unchanged file was not resubmitted after a drop: %+v", retried)
	}
}

func receive(t *testing.T, out <-chan model.Submission) model.Submission {
	t.Helper()
	select {
	case sub := <-out:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatalf("no submission received")
	}
	return model.Submission{}
}
