package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const LabelBenign = "BENIGN"

// Row is one per-second sample produced by the analysis backend.
type Row struct {
	Seconds float64            `json:"seconds"`
	Label   string             `json:"label"`
	EWS     int                `json:"ews"`
	Fields  map[string]float64 `json:"fields"`
	// Present holds every key of the source record, including keys whose
	// value is null or not numeric.
	Present map[string]struct{} `json:"-"`
}

// Has reports whether the source record carried field, numeric or not.
func (r Row) Has(field string) bool {
	if _, ok := r.Fields[field]; ok {
		return true
	}
	_, ok := r.Present[field]
	return ok
}

func (r Row) Value(field string) (float64, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

func (r Row) IsBenign() bool {
	return r.Label == LabelBenign
}

// Dataset is ordered by Seconds and never mutated once loaded.
type Dataset []Row

// PlotMetadata holds the indices the backend precomputed for a dataset.
type PlotMetadata struct {
	FirstAttackIndex int       `json:"first_attack_idx"`
	AttackIndices    []int     `json:"attack_indices"`
	EWSAlerts        EWSAlerts `json:"ews_alerts"`
}

// EmptyMetadata describes a dataset with no attack and no alerts.
func EmptyMetadata() PlotMetadata {
	return PlotMetadata{FirstAttackIndex: -1}
}

func (m PlotMetadata) AttackStart() (int, bool) {
	if len(m.AttackIndices) > 0 {
		return m.AttackIndices[0], true
	}
	if m.FirstAttackIndex >= 0 {
		return m.FirstAttackIndex, true
	}
	return -1, false
}

func (m PlotMetadata) AttackEnd() (int, bool) {
	if len(m.AttackIndices) > 0 {
		return m.AttackIndices[len(m.AttackIndices)-1], true
	}
	return -1, false
}

func (m PlotMetadata) Level(level int) []int {
	if m.EWSAlerts == nil {
		return nil
	}
	return m.EWSAlerts[level]
}

// EWSAlerts maps an alert level (1..4) to ascending row indices.
// On the wire it is keyed "level1".."level4".
type EWSAlerts map[int][]int

func (a EWSAlerts) MarshalJSON() ([]byte, error) {
	out := make(map[string][]int, len(a))
	for level, idx := range a {
		out["level"+strconv.Itoa(level)] = idx
	}
	return json.Marshal(out)
}

func (a *EWSAlerts) UnmarshalJSON(data []byte) error {
	var raw map[string][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(EWSAlerts, len(raw))
	for key, idx := range raw {
		level, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(key), "level"))
		if err != nil {
			return fmt.Errorf("ews_alerts: bad level key %q", key)
		}
		sort.Ints(idx)
		out[level] = idx
	}
	*a = out
	return nil
}

type EventKind string

const (
	EventAttackStarted     EventKind = "attack-started"
	EventAttackEnded       EventKind = "attack-ended"
	EventEWSAlertDetected  EventKind = "ews-alert-detected"
	EventPlaybackCompleted EventKind = "playback-completed"
)

// Event is published on the bus. Level and Ordinal are set for EWS alerts only.
type Event struct {
	Kind      EventKind `json:"kind"`
	ChartID   string    `json:"chart_id"`
	SessionID string    `json:"session_id"`
	Frame     int       `json:"frame"`
	Index     int       `json:"index"`
	Level     int       `json:"level,omitempty"`
	Ordinal   int       `json:"ordinal,omitempty"`
	Seconds   float64   `json:"seconds"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the read-only view of one chart's playback.
type Status struct {
	ChartID   string    `json:"chart_id"`
	Title     string    `json:"title,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Mode      ChartMode `json:"mode"`
	Field     string    `json:"field"`
	Frame     int       `json:"frame"`
	MaxFrames int       `json:"max_frames"`
	SpeedMs   int       `json:"speed_ms"`
	State     string    `json:"state"`
	Paused    bool      `json:"paused"`
	Complete  bool      `json:"complete"`
	Error     string    `json:"error,omitempty"`
}

// Submission is a raw analysis result handed to the engine by an ingest source.
type Submission struct {
	Source   string
	Data     []byte
	Received time.Time
}
