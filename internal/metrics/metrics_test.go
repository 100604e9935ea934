package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"ewsreplay/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Update(model.Status{ChartID: "a", Frame: 1})
	s.Update(model.Status{ChartID: "b", Frame: 2})
	s.mu.Lock()
	s.updatedAt["a"] = s.updatedAt["a"].Add(-1e9)
	s.mu.Unlock()
	s.Update(model.Status{ChartID: "c", Frame: 3})
	if _, _, ok := s.Get("a"); ok {
		t.Fatalf("oldest chart not evicted")
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].ChartID != "b" || all[1].ChartID != "c" {
		t.Fatalf("statuses: %+v", all)
	}
}

func TestStoreIgnoresAnonymousStatus(t *testing.T) {
	s := NewStore(0)
	s.Update(model.Status{Frame: 4})
	if len(s.GetAll()) != 0 {
		t.Fatalf("status without chart id stored")
	}
}

func TestRecorderExposition(t *testing.T) {
	r := NewRecorder()
	r.RecordEvent(string(model.EventAttackStarted))
	r.RecordFrame("flow", 7)
	r.RecordDerive(string(model.ModeStandard), 0.001)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ewsreplay_events_published_total{kind="attack-started"} 1`,
		`ewsreplay_chart_frame{chart="flow"} 7`,
		"ewsreplay_overlay_derive_seconds_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordEvent("x")
	r.RecordFrame("c", 1)
	r.RecordDrop("s")
}
