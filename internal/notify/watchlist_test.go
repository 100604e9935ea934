package notify

import (
	"testing"

	"ewsreplay/internal/model"
)

func scenarioMetadata() model.PlotMetadata {
	return model.PlotMetadata{
		FirstAttackIndex: 2,
		AttackIndices:    []int{2, 3, 4, 5, 6, 7},
		EWSAlerts:        model.EWSAlerts{4: {1, 6, 9}},
	}
}

func play(w *Watchlist, maxFrames int) map[int][]Crossing {
	fired := make(map[int][]Crossing)
	for prev := 1; prev < maxFrames; prev++ {
		if c := w.Observe(prev, prev+1); len(c) > 0 {
			fired[prev+1] = c
		}
	}
	return fired
}

func TestWatchlistScenario(t *testing.T) {
	w := NewWatchlist(scenarioMetadata(), 10, Options{ShowEWS: true})
	if w.Len() != 5 {
		t.Fatalf("entries: %d", w.Len())
	}
	fired := play(w, 10)

	expect := map[int]Crossing{
		2:  {Kind: model.EventEWSAlertDetected, Index: 1, Level: 4, Ordinal: 1},
		3:  {Kind: model.EventAttackStarted, Index: 2},
		7:  {Kind: model.EventEWSAlertDetected, Index: 6, Level: 4, Ordinal: 2},
		8:  {Kind: model.EventAttackEnded, Index: 7},
		10: {Kind: model.EventEWSAlertDetected, Index: 9, Level: 4, Ordinal: 3},
	}
	if len(fired) != len(expect) {
		t.Fatalf("fired: %+v", fired)
	}
	for frame, want := range expect {
		got := fired[frame]
		if len(got) != 1 || got[0] != want {
			t.Fatalf("frame %d: got %+v want %+v", frame, got, want)
		}
	}
}

func TestWatchlistFiresOnce(t *testing.T) {
	w := NewWatchlist(scenarioMetadata(), 10, Options{})
	if c := w.Observe(2, 3); len(c) != 1 {
		t.Fatalf("first crossing: %+v", c)
	}
	if c := w.Observe(2, 3); len(c) != 0 {
		t.Fatalf("crossing fired twice: %+v", c)
	}
	w.Reset()
	if c := w.Observe(2, 3); len(c) != 1 {
		t.Fatalf("reset did not re-arm: %+v", c)
	}
}

func TestWatchlistWithoutEWS(t *testing.T) {
	w := NewWatchlist(scenarioMetadata(), 10, Options{})
	for _, cs := range play(w, 10) {
		for _, c := range cs {
			if c.Kind == model.EventEWSAlertDetected {
				t.Fatalf("ews fired without ShowEWS")
			}
		}
	}
}

func TestWatchlistIgnoresJumpsAndIndexZero(t *testing.T) {
	meta := model.PlotMetadata{FirstAttackIndex: 0, AttackIndices: []int{0, 4}}
	w := NewWatchlist(meta, 10, Options{})
	if c := w.Observe(1, 2); len(c) != 0 {
		t.Fatalf("index 0 fired: %+v", c)
	}
	if c := w.Observe(3, 5); len(c) != 0 {
		t.Fatalf("non-adjacent advance fired: %+v", c)
	}
}

func TestWatchlistDropsMalformedIndices(t *testing.T) {
	meta := model.PlotMetadata{
		FirstAttackIndex: 2,
		AttackIndices:    []int{2, 30},
		EWSAlerts:        model.EWSAlerts{4: {-3, 5}},
	}
	w := NewWatchlist(meta, 10, Options{ShowEWS: true})
	if w.Len() != 2 {
		t.Fatalf("entries: %d", w.Len())
	}
	if c := w.Observe(5, 6); len(c) != 1 || c[0].Ordinal != 2 {
		t.Fatalf("ordinal must follow list position: %+v", c)
	}
}
