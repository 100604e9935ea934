// Package notify turns frame advances into one-shot threshold crossings.
package notify

import (
	"sync"

	"ewsreplay/internal/dataset"
	"ewsreplay/internal/model"
)

// emergencyWatchLimit caps how many level-4 alerts are announced per session.
const emergencyWatchLimit = 3

type Options struct {
	ShowEWS bool
}

// Crossing is a watch entry that fired during one advance.
type Crossing struct {
	Kind    model.EventKind
	Index   int
	Level   int
	Ordinal int
}

type entry struct {
	Crossing
	fired bool
}

// Watchlist fires each entry at most once per session, on the advance where
// playback moves from the entry's index to the next frame. Index 0 is
// therefore never crossed: the first advance already starts at frame 1.
type Watchlist struct {
	mu      sync.Mutex
	entries []*entry
}

func NewWatchlist(meta model.PlotMetadata, maxFrames int, opts Options) *Watchlist {
	w := &Watchlist{}
	add := func(c Crossing) {
		if dataset.InRange(c.Index, maxFrames) {
			w.entries = append(w.entries, &entry{Crossing: c})
		}
	}
	if idx, ok := meta.AttackStart(); ok {
		add(Crossing{Kind: model.EventAttackStarted, Index: idx})
	}
	if idx, ok := meta.AttackEnd(); ok {
		add(Crossing{Kind: model.EventAttackEnded, Index: idx})
	}
	if opts.ShowEWS {
		level4 := meta.Level(4)
		for i := 0; i < len(level4) && i < emergencyWatchLimit; i++ {
			add(Crossing{Kind: model.EventEWSAlertDetected, Index: level4[i], Level: 4, Ordinal: i + 1})
		}
	}
	return w
}

// Observe returns, in watchlist order, the entries crossed by prev -> next.
func (w *Watchlist) Observe(prev, next int) []Crossing {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Crossing
	for _, e := range w.entries {
		if e.fired || prev != e.Index || next != e.Index+1 {
			continue
		}
		e.fired = true
		out = append(out, e.Crossing)
	}
	return out
}

// Reset re-arms every entry for a new session.
func (w *Watchlist) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		e.fired = false
	}
}

func (w *Watchlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
