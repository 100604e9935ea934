package playback

import (
	"sort"
	"sync"
	"time"
)

// Clock schedules a single deferred callback. Schedulers never block on it.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock fires callbacks only when advanced. Callbacks run on the caller's
// goroutine, which makes tick ordering deterministic in tests and in stepped
// replays.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Duration
	seq     uint64
	f       func()
	stopped bool
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.pending = append(c.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d and fires every due callback in
// deadline order, including callbacks scheduled while advancing.
func (c *ManualClock) Advance(d time.Duration) int {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()
	fired := 0
	for {
		t := c.popDue(target)
		if t == nil {
			break
		}
		t.f()
		fired++
	}
	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
	return fired
}

// FireNext jumps to the earliest pending deadline and fires it.
func (c *ManualClock) FireNext() bool {
	c.mu.Lock()
	c.compact()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	target := c.pending[0].at
	c.mu.Unlock()
	t := c.popDue(target)
	if t == nil {
		return false
	}
	t.f()
	return true
}

func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compact()
	return len(c.pending)
}

func (c *ManualClock) popDue(target time.Duration) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compact()
	if len(c.pending) == 0 || c.pending[0].at > target {
		return nil
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	t.stopped = true
	if t.at > c.now {
		c.now = t.at
	}
	return t
}

func (c *ManualClock) compact() {
	live := c.pending[:0]
	for _, t := range c.pending {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.pending = live
	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].at == c.pending[j].at {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].at < c.pending[j].at
	})
}
