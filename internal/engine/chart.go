package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/dataset"
	"ewsreplay/internal/metrics"
	"ewsreplay/internal/model"
	"ewsreplay/internal/notify"
	"ewsreplay/internal/overlay"
	"ewsreplay/internal/playback"
)

type Chart struct {
	cfg       config.ChartConfig
	mode      model.ChartMode
	derive    overlay.Deriver
	autostart bool
	logger    *slog.Logger
	publisher bus.Publisher
	recorder  *metrics.Recorder
	onChange  func(model.Status)

	sched *playback.Scheduler

	mu        sync.RWMutex
	ds        model.Dataset
	meta      model.PlotMetadata
	watch     *notify.Watchlist
	session   uint64
	sessionID string
	completed bool
	err       error
}

type chartDeps struct {
	clock     playback.Clock
	playback  config.PlaybackConfig
	logger    *slog.Logger
	publisher bus.Publisher
	recorder  *metrics.Recorder
	onChange  func(model.Status)
}

func newChart(cfg config.ChartConfig, mode model.ChartMode, deps chartDeps) *Chart {
	derive, _ := overlay.For(mode)
	c := &Chart{
		cfg:       cfg,
		mode:      mode,
		derive:    derive,
		autostart: deps.playback.Autostart,
		logger:    deps.logger,
		publisher: deps.publisher,
		recorder:  deps.recorder,
		onChange:  deps.onChange,
		meta:      model.EmptyMetadata(),
		err:       playback.ErrNotLoaded,
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = deps.playback.DefaultSpeed
	}
	c.sched = playback.NewScheduler(deps.clock, playback.Options{
		Speed:      speed,
		MinSpeed:   deps.playback.MinSpeed,
		MaxSpeed:   deps.playback.MaxSpeed,
		OnAdvance:  c.handleAdvance,
		OnComplete: c.handleComplete,
	})
	return c
}

func (c *Chart) ID() string { return c.cfg.ID }

func (c *Chart) Mode() model.ChartMode { return c.mode }

func (c *Chart) Config() config.ChartConfig { return c.cfg }

// Load replaces the dataset and starts a new session. A dataset that fails
// validation leaves the chart Errored until the next Load; the error is
// returned and exposed through Status.
func (c *Chart) Load(ds model.Dataset, meta model.PlotMetadata) error {
	err := dataset.Validate(ds, c.cfg.Field)
	malformed := dataset.CheckMetadata(meta, len(ds))

	c.mu.Lock()
	c.ds = ds
	c.meta = meta
	c.err = err
	c.watch = notify.NewWatchlist(meta, len(ds), notify.Options{ShowEWS: c.cfg.ShowEWS})
	c.completed = false
	c.sessionID = uuid.NewString()
	c.session = c.sched.Load(len(ds), err)
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.logger != nil {
		for _, m := range malformed {
			c.logger.Warn("malformed metadata index skipped",
				"chart_id", c.cfg.ID,
				"session_id", sessionID,
				"source", m.Source,
				"index", m.Index,
				"max_frames", len(ds),
			)
		}
		if err != nil {
			c.logger.Error("dataset rejected", "chart_id", c.cfg.ID, "field", c.cfg.Field, "err", err)
		}
	}
	if err != nil {
		c.recorder.RecordSession(c.cfg.ID, "errored")
	} else {
		c.recorder.RecordSession(c.cfg.ID, "loaded")
	}
	if err == nil && c.autostart {
		c.sched.Start()
	}
	c.changed()
	return err
}

func (c *Chart) Start() bool {
	ok := c.sched.Start()
	c.changed()
	return ok
}

func (c *Chart) Pause() bool {
	ok := c.sched.Pause()
	c.changed()
	return ok
}

func (c *Chart) Resume() bool {
	ok := c.sched.Resume()
	c.changed()
	return ok
}

func (c *Chart) Toggle() playback.State {
	st := c.sched.Toggle()
	c.changed()
	return st
}

func (c *Chart) SetSpeed(d time.Duration) time.Duration {
	applied := c.sched.SetSpeed(d)
	c.changed()
	return applied
}

func (c *Chart) SetBounds(minSpeed, maxSpeed time.Duration) {
	c.sched.SetBounds(minSpeed, maxSpeed)
}

// Restart rewinds to frame 1 under a new session and re-arms every crossing.
func (c *Chart) Restart() {
	c.mu.Lock()
	if c.watch != nil {
		c.watch.Reset()
	}
	c.completed = false
	c.sessionID = uuid.NewString()
	c.session = c.sched.Restart()
	failed := c.err != nil
	c.mu.Unlock()
	if !failed && c.autostart {
		c.sched.Start()
	}
	c.changed()
}

// Stop completes the session without advancing. It is safe to call repeatedly.
func (c *Chart) Stop() bool {
	return c.sched.Stop()
}

func (c *Chart) Close() {
	c.sched.Close()
}

func (c *Chart) Status() model.Status {
	snap := c.sched.Snapshot()
	c.mu.RLock()
	sessionID := c.sessionID
	err := c.err
	c.mu.RUnlock()
	st := model.Status{
		ChartID:   c.cfg.ID,
		Title:     c.cfg.Title,
		SessionID: sessionID,
		Mode:      c.mode,
		Field:     c.cfg.Field,
		Frame:     snap.Frame,
		MaxFrames: snap.MaxFrames,
		SpeedMs:   int(snap.Speed / time.Millisecond),
		State:     snap.State.String(),
		Paused:    snap.Paused(),
		Complete:  snap.Complete(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// Overlay derives the current frame. An errored chart has nothing to draw and
// returns its validation error.
func (c *Chart) Overlay() (model.Overlay, error) {
	snap := c.sched.Snapshot()
	c.mu.RLock()
	in := overlay.Input{
		Frame:    snap.Frame,
		Dataset:  c.ds,
		Metadata: c.meta,
		Field:    c.cfg.Field,
		Options:  c.cfg.ChartOptions,
	}
	err := c.err
	c.mu.RUnlock()
	if err != nil {
		return model.NewOverlay(), err
	}
	start := time.Now()
	ov := c.derive(in)
	c.recorder.RecordDerive(string(c.mode), time.Since(start).Seconds())
	return ov, nil
}

func (c *Chart) Stats() ([]overlay.AlertStat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	return overlay.AlertStats(c.ds, c.meta, c.cfg.Field), nil
}

func (c *Chart) handleAdvance(session uint64, prev, next int) {
	c.mu.RLock()
	if session != c.session || c.watch == nil {
		c.mu.RUnlock()
		return
	}
	crossings := c.watch.Observe(prev, next)
	sessionID := c.sessionID
	ds := c.ds
	c.mu.RUnlock()

	c.recorder.RecordFrame(c.cfg.ID, next)
	if c.cfg.Notify {
		for _, cr := range crossings {
			c.publish(model.Event{
				Kind:      cr.Kind,
				ChartID:   c.cfg.ID,
				SessionID: sessionID,
				Frame:     next,
				Index:     cr.Index,
				Level:     cr.Level,
				Ordinal:   cr.Ordinal,
				Seconds:   ds[cr.Index].Seconds,
			})
		}
	}
	c.changed()
}

func (c *Chart) handleComplete(session uint64, frame int, reason string) {
	c.mu.Lock()
	if session != c.session || c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	sessionID := c.sessionID
	var seconds float64
	if frame >= 1 && frame <= len(c.ds) {
		seconds = c.ds[frame-1].Seconds
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("playback completed", "chart_id", c.cfg.ID, "session_id", sessionID, "frame", frame, "reason", reason)
	}
	c.publish(model.Event{
		Kind:      model.EventPlaybackCompleted,
		ChartID:   c.cfg.ID,
		SessionID: sessionID,
		Frame:     frame,
		Index:     frame - 1,
		Seconds:   seconds,
		Reason:    reason,
	})
	c.changed()
}

func (c *Chart) publish(ev model.Event) {
	if c.publisher == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.publisher.Publish(ev)
}

func (c *Chart) changed() {
	if c.onChange != nil {
		c.onChange(c.Status())
	}
}
