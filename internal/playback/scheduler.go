package playback

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateComplete
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

const (
	ReasonFinished = "finished"
	ReasonStopped  = "stopped"
)

var ErrNotLoaded = errors.New("no dataset loaded")

// Snapshot is a consistent copy of the scheduler state.
type Snapshot struct {
	Session   uint64
	Frame     int
	MaxFrames int
	Speed     time.Duration
	State     State
	Err       error
}

func (s Snapshot) Paused() bool   { return s.State == StatePaused }
func (s Snapshot) Complete() bool { return s.State == StateComplete }

type Options struct {
	Speed    time.Duration
	MinSpeed time.Duration
	MaxSpeed time.Duration
	// OnAdvance runs after every frame advance, before the next tick is armed.
	OnAdvance func(session uint64, prev, next int)
	// OnComplete runs once per session on the transition into Complete.
	OnComplete func(session uint64, frame int, reason string)
}

// Scheduler owns the frame cursor of one chart. Every scheduled tick carries the
// session and token it was armed with; a callback whose token is no longer the
// pending one is ignored, so stale or coalesced timers never advance a newer
// session.
type Scheduler struct {
	mu        sync.Mutex
	clock     Clock
	opts      Options
	session   uint64
	frame     int
	maxFrames int
	speed     time.Duration
	state     State
	err       error
	token     uint64
	pending   uint64
	timer     Timer
}

func NewScheduler(clock Clock, opts Options) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Scheduler{clock: clock, opts: opts, frame: 1, state: StateErrored, err: ErrNotLoaded}
	s.speed = s.clampSpeed(opts.Speed)
	return s
}

// Load starts a new session. A non-nil err puts the session into the terminal
// Errored state.
func (s *Scheduler) Load(maxFrames int, err error) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.session++
	s.maxFrames = maxFrames
	s.frame = 1
	s.err = err
	if err != nil {
		s.state = StateErrored
	} else {
		s.state = StateIdle
	}
	return s.session
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateRunning
	s.armLocked()
	return true
}

func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.cancelLocked()
	s.state = StatePaused
	return true
}

func (s *Scheduler) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.state = StateRunning
	s.armLocked()
	return true
}

func (s *Scheduler) Toggle() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		s.cancelLocked()
		s.state = StatePaused
	case StatePaused:
		s.state = StateRunning
		s.armLocked()
	}
	return s.state
}

// SetSpeed clamps d into the configured range and returns the applied value.
// The tick already armed keeps its interval.
func (s *Scheduler) SetSpeed(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = s.clampSpeed(d)
	return s.speed
}

func (s *Scheduler) SetBounds(minSpeed, maxSpeed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.MinSpeed = minSpeed
	s.opts.MaxSpeed = maxSpeed
	s.speed = s.clampSpeed(s.speed)
}

// Restart rewinds to frame 1 under a new session identity. A session that
// failed validation stays Errored.
func (s *Scheduler) Restart() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.session++
	s.frame = 1
	if s.err == nil {
		s.state = StateIdle
	}
	return s.session
}

// Stop forces a non-terminal session into Complete without advancing.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateRunning, StatePaused:
	default:
		s.mu.Unlock()
		return false
	}
	s.cancelLocked()
	s.state = StateComplete
	session, frame := s.session, s.frame
	s.mu.Unlock()
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(session, frame, ReasonStopped)
	}
	return true
}

// Close cancels any pending tick; the scheduler ignores all later callbacks.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.session++
	if s.state != StateErrored {
		s.state = StateComplete
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Session:   s.session,
		Frame:     s.frame,
		MaxFrames: s.maxFrames,
		Speed:     s.speed,
		State:     s.state,
		Err:       s.err,
	}
}

func (s *Scheduler) Frame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Scheduler) tick(session, token uint64) {
	s.mu.Lock()
	if session != s.session || token != s.pending || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.pending = 0
	s.timer = nil
	if s.frame >= s.maxFrames {
		s.state = StateComplete
		frame := s.frame
		s.mu.Unlock()
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(session, frame, ReasonFinished)
		}
		return
	}
	prev := s.frame
	s.frame++
	next := s.frame
	done := next >= s.maxFrames
	if done {
		s.state = StateComplete
	}
	s.mu.Unlock()

	if s.opts.OnAdvance != nil {
		s.opts.OnAdvance(session, prev, next)
	}
	if done {
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(session, next, ReasonFinished)
		}
		return
	}

	s.mu.Lock()
	if session == s.session && s.state == StateRunning && s.pending == 0 {
		s.armLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) armLocked() {
	s.token++
	token, session := s.token, s.session
	s.pending = token
	s.timer = s.clock.AfterFunc(s.speed, func() { s.tick(session, token) })
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = 0
}

func (s *Scheduler) clampSpeed(d time.Duration) time.Duration {
	if d <= 0 {
		d = 30 * time.Millisecond
	}
	if s.opts.MinSpeed > 0 && d < s.opts.MinSpeed {
		d = s.opts.MinSpeed
	}
	if s.opts.MaxSpeed > 0 && d > s.opts.MaxSpeed {
		d = s.opts.MaxSpeed
	}
	return d
}
