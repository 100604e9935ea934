package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/engine"
	"ewsreplay/internal/metrics"
	"ewsreplay/internal/model"
	"ewsreplay/internal/playback"
)

const resultBody = `{
  "cleaned_df": [
    {"Seconds": 0, "Label": "BENIGN", "Flow Packets/s": 10},
    {"Seconds": 1, "Label": "BENIGN", "Flow Packets/s": 12},
    {"Seconds": 2, "Label": "DDoS", "Flow Packets/s": 90},
    {"Seconds": 3, "Label": "DDoS", "Flow Packets/s": 70},
    {"Seconds": 4, "Label": "BENIGN", "Flow Packets/s": 11}
  ],
  "plot_data": {
    "first_attack_idx": 2,
    "attack_indices": [2, 3],
    "ews_alerts": {"level4": [1]}
  }
}`

type fixture struct {
	server *Server
	engine *engine.Engine
	bus    *bus.Bus
	clock  *playback.ManualClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Playback.Autostart = true
	cfg.Charts = []config.ChartConfig{
		{
			ID:           "flow-with-ews",
			Field:        "Flow Packets/s",
			Mode:         string(model.ModeFlowWithEWS),
			Notify:       true,
			ChartOptions: model.ChartOptions{ShowEWS: true, ShowAttackRegion: true},
		},
		{ID: "bytes", Field: "Flow Bytes/s", Mode: string(model.ModeStandard)},
	}
	clock := playback.NewManualClock()
	events := bus.New(16, nil)
	t.Cleanup(events.Close)
	recorder := metrics.NewRecorder()
	eng := engine.NewEngine(cfg, engine.Options{Bus: events, Recorder: recorder, Clock: clock})
	t.Cleanup(eng.Close)
	srv := NewServer(Deps{
		Config:   config.NewStaticManager(cfg),
		Engine:   eng,
		Bus:      events,
		Recorder: recorder,
		Version:  "test",
	})
	return fixture{server: srv, engine: eng, bus: events, clock: clock}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestSessionsLoadAndRejectDuplicate(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/sessions", resultBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		LoadID string         `json:"load_id"`
		Rows   int            `json:"rows"`
		Charts []model.Status `json:"charts"`
	}
	decode(t, rr, &created)
	if created.LoadID == "" || created.Rows != 5 || len(created.Charts) != 2 {
		t.Fatalf("unexpected response: %+v", created)
	}

	rr = f.do(t, http.MethodPost, "/sessions", resultBody)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/admin/clear", `{"target":"all"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodPost, "/sessions", resultBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected reload after clear, got %d", rr.Code)
	}
}

func TestSessionsRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/sessions", `{"cleaned_df": 3}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChartStatusAndMissingField(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)

	rr := f.do(t, http.MethodGet, "/charts/flow-with-ews", "")
	var st model.Status
	decode(t, rr, &st)
	if rr.Code != http.StatusOK || st.Frame != 1 || st.MaxFrames != 5 || st.State != playback.StateRunning.String() {
		t.Fatalf("flow chart: %d %+v", rr.Code, st)
	}

	rr = f.do(t, http.MethodGet, "/charts/bytes", "")
	decode(t, rr, &st)
	if st.Error == "" {
		t.Fatalf("chart without its field should be errored: %+v", st)
	}
	rr = f.do(t, http.MethodGet, "/charts/bytes/overlay", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for errored overlay, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/charts/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOverlayRevealsWithFrames(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)
	f.clock.FireNext()
	f.clock.FireNext()

	rr := f.do(t, http.MethodGet, "/charts/flow-with-ews/overlay", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("overlay: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status  model.Status  `json:"status"`
		Overlay model.Overlay `json:"overlay"`
	}
	decode(t, rr, &resp)
	if resp.Status.Frame != 3 {
		t.Fatalf("frame %d", resp.Status.Frame)
	}
	if _, ok := resp.Overlay.FindSeries("EWS 1"); !ok {
		t.Fatalf("EWS 1 series missing at frame 3")
	}
}

func TestChartActions(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)

	var resp struct {
		Applied bool         `json:"applied"`
		Status  model.Status `json:"status"`
	}
	rr := f.do(t, http.MethodPost, "/charts/flow-with-ews/pause", "")
	decode(t, rr, &resp)
	if !resp.Applied || !resp.Status.Paused {
		t.Fatalf("pause: %+v", resp)
	}
	if f.clock.FireNext() {
		t.Fatalf("paused chart still scheduled a tick")
	}

	rr = f.do(t, http.MethodPost, "/charts/flow-with-ews/toggle", "")
	decode(t, rr, &resp)
	if resp.Status.Paused {
		t.Fatalf("toggle should resume: %+v", resp.Status)
	}

	rr = f.do(t, http.MethodPost, "/charts/flow-with-ews/stop", "")
	decode(t, rr, &resp)
	if !resp.Status.Complete {
		t.Fatalf("stop: %+v", resp.Status)
	}

	rr = f.do(t, http.MethodPost, "/charts/flow-with-ews/rewind", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action: %d", rr.Code)
	}
}

func TestSpeedValidation(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/charts/flow-with-ews/speed", `{"speed_ms": 0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var bad struct {
		Errors []ValidationError `json:"errors"`
	}
	decode(t, rr, &bad)
	if len(bad.Errors) != 1 || bad.Errors[0].Code != "ERR_REQUIRED" {
		t.Fatalf("errors: %+v", bad.Errors)
	}

	rr = f.do(t, http.MethodPost, "/charts/flow-with-ews/speed", `{"speed_ms": 500}`)
	var ok struct {
		AppliedMs int `json:"applied_ms"`
	}
	decode(t, rr, &ok)
	if rr.Code != http.StatusOK || ok.AppliedMs != 100 {
		t.Fatalf("speed should clamp to 100ms: %d %+v", rr.Code, ok)
	}
}

func TestEventsAndStopAll(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)
	f.clock.FireNext()

	rr := f.do(t, http.MethodPost, "/admin/stop", "")
	var stopped struct {
		Stopped int `json:"stopped"`
	}
	decode(t, rr, &stopped)
	if stopped.Stopped != 1 {
		t.Fatalf("expected 1 chart stopped, got %d", stopped.Stopped)
	}
	rr = f.do(t, http.MethodPost, "/admin/stop", "")
	decode(t, rr, &stopped)
	if stopped.Stopped != 0 {
		t.Fatalf("second stop transitioned %d charts", stopped.Stopped)
	}

	rr = f.do(t, http.MethodGet, "/events", "")
	var list struct {
		Events []model.Event `json:"events"`
		Count  int           `json:"count"`
	}
	decode(t, rr, &list)
	if list.Count != 2 {
		t.Fatalf("events: %+v", list.Events)
	}
	if list.Events[0].Kind != model.EventEWSAlertDetected || list.Events[1].Kind != model.EventPlaybackCompleted {
		t.Fatalf("event order: %+v", list.Events)
	}

	rr = f.do(t, http.MethodGet, "/events?since=yesterday", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad since: %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/events/history", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("history without storage: %d", rr.Code)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)

	rr := f.do(t, http.MethodGet, "/status", "")
	var st statusResponse
	decode(t, rr, &st)
	if st.Status != "ok" || st.Version != "test" || st.Engine.Charts != 2 || st.Engine.Errored != 1 || st.Engine.Rows != 5 {
		t.Fatalf("status: %+v", st)
	}

	rr = f.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("ewsreplay_sessions_total")) {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestStreamDeliversFrameAndEvents(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?chart=flow-with-ews"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first streamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if first.Type != "frame" || first.Status == nil || first.Status.Frame != 1 || first.Overlay == nil {
		t.Fatalf("initial frame: %+v", first)
	}

	f.clock.FireNext()
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != "event" {
			continue
		}
		if msg.Event.Kind != model.EventEWSAlertDetected || msg.Event.Index != 1 || msg.Event.ChartID != "flow-with-ews" {
			t.Fatalf("event: %+v", msg.Event)
		}
		return
	}
}

func TestStreamUnknownChart(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/ws?chart=missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestFramePNG(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sessions", resultBody)
	f.clock.FireNext()

	rr := f.do(t, http.MethodGet, "/charts/flow-with-ews/frame.png?width=320&height=200", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png: %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a png")
	}

	rr = f.do(t, http.MethodGet, "/charts/bytes/frame.png", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("errored chart png: %d", rr.Code)
	}
}
