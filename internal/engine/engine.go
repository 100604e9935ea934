package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ewsreplay/internal/alerts"
	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/dataset"
	"ewsreplay/internal/metrics"
	"ewsreplay/internal/model"
	"ewsreplay/internal/playback"
	"ewsreplay/internal/storage"
)

var (
	ErrUnknownChart = errors.New("unknown chart")
	ErrDuplicate    = errors.New("analysis result already loaded")
)

type Engine struct {
	logger   *slog.Logger
	bus      bus.Publisher
	events   *alerts.Store
	statuses *metrics.Store
	recorder *metrics.Recorder
	store    storage.Store
	clock    playback.Clock
	cfg      atomic.Value
	group    *playback.Group
	dedupe   *DedupeCache
	started  time.Time

	mu     sync.RWMutex
	charts map[string]*Chart
	order  []string
	result *dataset.Result
	loadID string
}

type Options struct {
	Logger   *slog.Logger
	Bus      bus.Publisher
	Events   *alerts.Store
	Statuses *metrics.Store
	Recorder *metrics.Recorder
	Store    storage.Store
	Clock    playback.Clock
}

type Summary struct {
	StartedAt time.Time `json:"started_at"`
	LoadID    string    `json:"load_id,omitempty"`
	Rows      int       `json:"rows"`
	Charts    int       `json:"charts"`
	Running   int       `json:"running"`
	Complete  int       `json:"complete"`
	Errored   int       `json:"errored"`
}

func NewEngine(cfg *config.Config, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = playback.SystemClock{}
	}
	if opts.Events == nil {
		opts.Events = alerts.NewStore(cfg.Events.StoreLimit)
	}
	if opts.Statuses == nil {
		opts.Statuses = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	e := &Engine{
		logger:   opts.Logger,
		bus:      opts.Bus,
		events:   opts.Events,
		statuses: opts.Statuses,
		recorder: opts.Recorder,
		store:    opts.Store,
		clock:    opts.Clock,
		group:    playback.NewGroup(),
		dedupe:   NewDedupeCache(),
		started:  time.Now().UTC(),
		charts:   make(map[string]*Chart),
	}
	e.cfg.Store(cfg)
	e.syncCharts(cfg)
	return e
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// UpdateConfig applies new speed bounds to every chart and rebuilds charts
// whose definition changed. Rebuilt charts replay the current result.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.syncCharts(cfg)
	e.mu.RLock()
	charts := e.chartsLocked()
	e.mu.RUnlock()
	for _, c := range charts {
		c.SetBounds(cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed)
	}
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Submission) {
	go func() {
		for {
			select {
			case sub, ok := <-in:
				if !ok {
					return
				}
				if _, err := e.Submit(sub); err != nil && !errors.Is(err, ErrDuplicate) && e.logger != nil {
					e.logger.Warn("analysis result rejected", "source", sub.Source, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Submit decodes a raw analysis result and loads it unless the same payload
// was loaded within the dedupe window.
func (e *Engine) Submit(sub model.Submission) (storage.Session, error) {
	window := e.config().Ingest.DedupeWindow
	if window > 0 {
		now := sub.Received
		if now.IsZero() {
			now = time.Now().UTC()
		}
		if e.dedupe.Seen(sub.Data, now, window) {
			if e.logger != nil {
				e.logger.Info("duplicate analysis result ignored", "source", sub.Source)
			}
			return storage.Session{}, ErrDuplicate
		}
	}
	res, err := dataset.DecodeResult(sub.Data)
	if err != nil {
		e.recorder.RecordError("decode")
		return storage.Session{}, fmt.Errorf("decode %s result: %w", sub.Source, err)
	}
	return e.Load(res), nil
}

// Load starts a new session on every chart. Charts whose field is missing end
// up Errored; the others are unaffected.
func (e *Engine) Load(res dataset.Result) storage.Session {
	malformed := dataset.CheckMetadata(res.Metadata, len(res.Rows))
	session := storage.Session{
		ID:        uuid.NewString(),
		Rows:      len(res.Rows),
		Attacks:   len(res.Metadata.AttackIndices),
		Malformed: len(malformed),
		LoadedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	e.result = &res
	e.loadID = session.ID
	charts := e.chartsLocked()
	e.mu.Unlock()

	for _, c := range charts {
		cs := storage.ChartSession{ChartID: c.ID(), Mode: string(c.Mode()), Field: c.Config().Field}
		if err := c.Load(res.Rows, res.Metadata); err != nil {
			cs.Error = err.Error()
		}
		cs.SessionID = c.Status().SessionID
		session.Charts = append(session.Charts, cs)
	}

	if e.logger != nil {
		e.logger.Info("analysis result loaded",
			"load_id", session.ID,
			"rows", session.Rows,
			"attack_indices", session.Attacks,
			"malformed_indices", session.Malformed,
			"charts", len(charts),
		)
	}
	if e.store != nil {
		if err := e.store.SaveSession(context.Background(), session); err != nil {
			e.recorder.RecordError("storage")
			if e.logger != nil {
				e.logger.Error("save session failed", "load_id", session.ID, "err", err)
			}
		}
	}
	return session
}

func (e *Engine) StopAll() int {
	n := e.group.StopAll()
	if e.logger != nil && n > 0 {
		e.logger.Info("stop all", "charts", n)
	}
	return n
}

func (e *Engine) Reset() {
	for _, c := range e.Charts() {
		c.Restart()
	}
}

func (e *Engine) ForgetResults() {
	e.dedupe.Clear()
}

func (e *Engine) Chart(id string) (*Chart, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.charts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChart, id)
	}
	return c, nil
}

func (e *Engine) Charts() []*Chart {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chartsLocked()
}

func (e *Engine) Statuses() []model.Status {
	return e.statuses.GetAll()
}

func (e *Engine) Events() *alerts.Store {
	return e.events
}

func (e *Engine) Summary() Summary {
	e.mu.RLock()
	s := Summary{StartedAt: e.started, LoadID: e.loadID, Charts: len(e.order)}
	if e.result != nil {
		s.Rows = len(e.result.Rows)
	}
	charts := e.chartsLocked()
	e.mu.RUnlock()
	for _, c := range charts {
		st := c.Status()
		switch {
		case st.Error != "":
			s.Errored++
		case st.Complete:
			s.Complete++
		case st.State == playback.StateRunning.String():
			s.Running++
		}
	}
	return s
}

func (e *Engine) Close() {
	for _, c := range e.Charts() {
		e.group.Remove(c.sched)
		c.Close()
	}
}

func (e *Engine) Publish(ev model.Event) {
	e.events.Add(ev)
	e.recorder.RecordEvent(string(ev.Kind))
	if e.logger != nil {
		e.logger.Info("event published",
			"kind", ev.Kind,
			"chart_id", ev.ChartID,
			"session_id", ev.SessionID,
			"frame", ev.Frame,
			"index", ev.Index,
			"level", ev.Level,
		)
	}
	if e.store != nil {
		if err := e.store.SaveEvent(context.Background(), ev); err != nil {
			e.recorder.RecordError("storage")
			if e.logger != nil {
				e.logger.Error("save event failed", "kind", ev.Kind, "err", err)
			}
		}
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) syncCharts(cfg *config.Config) {
	deps := chartDeps{
		clock:     e.clock,
		playback:  cfg.Playback,
		logger:    e.logger,
		publisher: bus.PublisherFunc(e.Publish),
		recorder:  e.recorder,
		onChange:  e.statuses.Update,
	}

	e.mu.Lock()
	next := make(map[string]*Chart, len(cfg.Charts))
	order := make([]string, 0, len(cfg.Charts))
	var added, removed []*Chart
	for _, cc := range cfg.Charts {
		mode, err := model.ParseChartMode(cc.Mode)
		if err != nil || !mode.Renderable() {
			continue
		}
		if old, ok := e.charts[cc.ID]; ok && reflect.DeepEqual(old.cfg, cc) {
			next[cc.ID] = old
			order = append(order, cc.ID)
			continue
		}
		c := newChart(cc, mode, deps)
		next[cc.ID] = c
		order = append(order, cc.ID)
		added = append(added, c)
	}
	for id, old := range e.charts {
		if next[id] != old {
			removed = append(removed, old)
		}
	}
	e.charts = next
	e.order = order
	res := e.result
	e.mu.Unlock()

	for _, c := range removed {
		e.group.Remove(c.sched)
		c.Close()
		if _, still := next[c.ID()]; !still {
			e.statuses.Remove(c.ID())
		}
	}
	for _, c := range added {
		e.group.Add(c.sched)
		if res != nil {
			_ = c.Load(res.Rows, res.Metadata)
		} else {
			e.statuses.Update(c.Status())
		}
	}
}

func (e *Engine) chartsLocked() []*Chart {
	out := make([]*Chart, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.charts[id])
	}
	return out
}
