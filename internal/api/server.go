package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/engine"
	"ewsreplay/internal/metrics"
	"ewsreplay/internal/model"
	"ewsreplay/internal/playback"
	"ewsreplay/internal/render"
	"ewsreplay/internal/storage"
)

const maxResultBytes = 64 << 20

type Server struct {
	cfg      *config.Manager
	engine   *engine.Engine
	bus      *bus.Bus
	recorder *metrics.Recorder
	store    storage.Store
	logger   *slog.Logger
	version  string
	upgrader websocket.Upgrader
}

type Deps struct {
	Config   *config.Manager
	Engine   *engine.Engine
	Bus      *bus.Bus
	Recorder *metrics.Recorder
	Store    storage.Store
	Logger   *slog.Logger
	Version  string
}

type statusResponse struct {
	Status      string         `json:"status"`
	Time        string         `json:"time"`
	Version     string         `json:"version"`
	ConfigPath  string         `json:"config_path"`
	Engine      engine.Summary `json:"engine"`
	Ingest      ingestStatus   `json:"ingest"`
	Sink        sinkStatus     `json:"sink"`
	Storage     storageStatus  `json:"storage"`
	Subscribers int            `json:"subscribers"`
}

type ingestStatus struct {
	File  bool `json:"file"`
	Kafka bool `json:"kafka"`
}

type sinkStatus struct {
	Kafka bool `json:"kafka"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func NewServer(deps Deps) *Server {
	return &Server{
		cfg:      deps.Config,
		engine:   deps.Engine,
		bus:      deps.Bus,
		recorder: deps.Recorder,
		store:    deps.Store,
		logger:   deps.Logger,
		version:  deps.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	if !current.Enabled {
		if deps.Logger != nil {
			deps.Logger.Info("api disabled")
		}
		return nil
	}
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(deps)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /charts", s.handleCharts)
	mux.HandleFunc("GET /charts/{id}", s.handleChart)
	mux.HandleFunc("GET /charts/{id}/overlay", s.handleOverlay)
	mux.HandleFunc("GET /charts/{id}/stats", s.handleStats)
	mux.HandleFunc("GET /charts/{id}/frame.png", s.handleFramePNG)
	mux.HandleFunc("POST /charts/{id}/speed", s.handleSpeed)
	mux.HandleFunc("POST /charts/{id}/{action}", s.handleChartAction)
	mux.HandleFunc("POST /sessions", s.handleSessions)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/history", s.handleEventHistory)
	mux.HandleFunc("POST /admin/stop", s.handleStopAll)
	mux.HandleFunc("POST /admin/restart", s.handleRestart)
	mux.HandleFunc("POST /admin/clear", s.handleClear)
	mux.HandleFunc("GET /ws", s.handleStream)
	if s.cfg == nil || s.cfg.Get().Metrics.Prometheus {
		mux.Handle("GET /metrics", s.recorder.Handler())
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := config.DefaultConfig()
	path := ""
	if s.cfg != nil {
		cfg = s.cfg.Get()
		path = s.cfg.Path()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: path,
		Engine:     s.engine.Summary(),
		Ingest:     ingestStatus{File: cfg.Ingest.File.Enabled, Kafka: cfg.Ingest.Kafka.Enabled},
		Sink:       sinkStatus{Kafka: cfg.Sink.Kafka.Enabled},
		Storage:    storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
	}
	if s.bus != nil {
		resp.Subscribers = s.bus.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCharts(w http.ResponseWriter, _ *http.Request) {
	charts := s.engine.Charts()
	list := make([]model.Status, 0, len(charts))
	for _, c := range charts {
		list = append(list, c.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"charts": list,
		"count":  len(list),
	})
}

func (s *Server) chart(w http.ResponseWriter, r *http.Request) (*engine.Chart, bool) {
	c, err := s.engine.Chart(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return c, true
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	ov, err := c.Overlay()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"status": c.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  c.Status(),
		"overlay": ov,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	stats, err := c.Stats()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chart_id": c.ID(),
		"stats":    stats,
	})
}

func (s *Server) handleFramePNG(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	ov, err := c.Overlay()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))
	title := c.Config().Title
	if title == "" {
		title = c.ID()
	}
	var buf bytes.Buffer
	if err := render.PNG(&buf, title, ov, width, height); err != nil {
		if errors.Is(err, render.ErrNothingToDraw) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.recorder.RecordError("render")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	var req speedRequest
	if errs := decodeRequest(r, w, &req); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	applied := c.SetSpeed(time.Duration(req.SpeedMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{
		"applied_ms": int(applied / time.Millisecond),
		"status":     c.Status(),
	})
}

func (s *Server) handleChartAction(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	var applied bool
	switch r.PathValue("action") {
	case "start":
		applied = c.Start()
	case "pause":
		applied = c.Pause()
	case "resume":
		applied = c.Resume()
	case "toggle":
		st := c.Toggle()
		applied = st == playback.StateRunning || st == playback.StatePaused
	case "restart":
		c.Restart()
		applied = true
	case "stop":
		applied = c.Stop()
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown action"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"status":  c.Status(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxResultBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := s.engine.Submit(model.Submission{Source: "api", Data: body, Received: time.Now().UTC()})
	switch {
	case errors.Is(err, engine.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"load_id":   session.ID,
		"rows":      session.Rows,
		"malformed": session.Malformed,
		"charts":    s.engine.Statuses(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Event
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		list = s.engine.Events().Since(ts)
	case q.Get("session") != "":
		list = s.engine.Events().Session(q.Get("session"))
	default:
		list = s.engine.Events().List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
		"kinds":  s.engine.Events().Count(),
	})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "storage disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleStopAll(w http.ResponseWriter, _ *http.Request) {
	n := s.engine.StopAll()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stopped": n})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if errs := decodeRequest(r, w, &req); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	s.engine.Events().Clear()
	if req.Target == "all" {
		s.engine.ForgetResults()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": req.Target})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
