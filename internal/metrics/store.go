package metrics

import (
	"sort"
	"sync"
	"time"

	"ewsreplay/internal/model"
)

// Store keeps the latest playback status of every chart so readers never
// contend with the schedulers.
type Store struct {
	mu        sync.RWMutex
	byChart   map[string]model.Status
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byChart:   make(map[string]model.Status),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(st model.Status) {
	if st.ChartID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChart[st.ChartID] = st
	s.updatedAt[st.ChartID] = time.Now().UTC()
	if len(s.byChart) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(chartID string) (model.Status, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byChart[chartID]
	if !ok {
		return model.Status{}, time.Time{}, false
	}
	return st, s.updatedAt[chartID], true
}

// GetAll returns every status ordered by chart id.
func (s *Store) GetAll() []model.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Status, 0, len(s.byChart))
	for _, st := range s.byChart {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChartID < out[j].ChartID })
	return out
}

func (s *Store) Remove(chartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChart, chartID)
	delete(s.updatedAt, chartID)
}

func (s *Store) evictOldest() {
	var oldestChart string
	var oldest time.Time
	for chart, ts := range s.updatedAt {
		if oldestChart == "" || ts.Before(oldest) {
			oldestChart = chart
			oldest = ts
		}
	}
	if oldestChart != "" {
		delete(s.byChart, oldestChart)
		delete(s.updatedAt, oldestChart)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChart = make(map[string]model.Status)
	s.updatedAt = make(map[string]time.Time)
}
