package playback

import "sync"

// Group is the StopAll signal shared by every scheduler of one process (or of
// one test). Stopping is idempotent and safe for schedulers already complete.
type Group struct {
	mu      sync.Mutex
	members map[*Scheduler]struct{}
}

func NewGroup() *Group {
	return &Group{members: make(map[*Scheduler]struct{})}
}

func (g *Group) Add(s *Scheduler) {
	if g == nil || s == nil {
		return
	}
	g.mu.Lock()
	g.members[s] = struct{}{}
	g.mu.Unlock()
}

func (g *Group) Remove(s *Scheduler) {
	if g == nil || s == nil {
		return
	}
	g.mu.Lock()
	delete(g.members, s)
	g.mu.Unlock()
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// StopAll returns how many schedulers actually transitioned.
func (g *Group) StopAll() int {
	g.mu.Lock()
	members := make([]*Scheduler, 0, len(g.members))
	for s := range g.members {
		members = append(members, s)
	}
	g.mu.Unlock()
	stopped := 0
	for _, s := range members {
		if s.Stop() {
			stopped++
		}
	}
	return stopped
}
