package model

import (
	"fmt"
	"strings"
)

type ChartMode string

const (
	ModeStandard              ChartMode = "standard"
	ModeBenignAttack          ChartMode = "benign-attack"
	ModeDerivative            ChartMode = "derivative"
	ModePeakRegion            ChartMode = "peak-region"
	ModeEarlyWarnings         ChartMode = "early-warnings"
	ModeAlerts                ChartMode = "alerts"
	ModeFlowWithEWS           ChartMode = "flow-with-ews"
	ModeAlertLevelsSeparately ChartMode = "alert-levels-separately"
	ModeEmergencyAlerts       ChartMode = "emergency-alerts"
	ModeConfusionMatrix       ChartMode = "confusion-matrix"
)

var chartModes = []ChartMode{
	ModeStandard,
	ModeBenignAttack,
	ModeDerivative,
	ModePeakRegion,
	ModeEarlyWarnings,
	ModeAlerts,
	ModeFlowWithEWS,
	ModeAlertLevelsSeparately,
	ModeEmergencyAlerts,
	ModeConfusionMatrix,
}

func ChartModes() []ChartMode {
	out := make([]ChartMode, len(chartModes))
	copy(out, chartModes)
	return out
}

func ParseChartMode(s string) (ChartMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeStandard, nil
	}
	for _, m := range chartModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown chart mode %q", s)
}

// Renderable reports whether the mode produces drawable series. The confusion
// matrix mode exists only so that callers can filter it out.
func (m ChartMode) Renderable() bool {
	return m != ModeConfusionMatrix
}

type ChartOptions struct {
	ShowEWS          bool `json:"show_ews" yaml:"show_ews"`
	ShowAttackRegion bool `json:"show_attack_region" yaml:"show_attack_region"`
	AlertLevel       int  `json:"alert_level,omitempty" yaml:"alert_level,omitempty"`
}

type SeriesKind string

const (
	SeriesLine   SeriesKind = "line"
	SeriesMarker SeriesKind = "marker"
)

type AnnotationKind string

const (
	AnnotationLine  AnnotationKind = "line"
	AnnotationPoint AnnotationKind = "point"
	AnnotationLabel AnnotationKind = "label"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Style struct {
	Color  string     `json:"color"`
	Kind   SeriesKind `json:"kind"`
	Marker string     `json:"marker,omitempty"`
	Radius int        `json:"radius,omitempty"`
	Width  int        `json:"width,omitempty"`
}

type Series struct {
	Name   string  `json:"name"`
	Style  Style   `json:"style"`
	Points []Point `json:"points"`
}

// Annotation is a typed shape. Line annotations are vertical at X; point and
// label annotations sit at (X, Y).
type Annotation struct {
	Kind    AnnotationKind `json:"kind"`
	X       float64        `json:"x"`
	Y       float64        `json:"y,omitempty"`
	Content string         `json:"content,omitempty"`
	Color   string         `json:"color"`
	Dash    []int          `json:"dash,omitempty"`
}

// Overlay is the chart-library-agnostic description of one frame.
type Overlay struct {
	Series      []Series              `json:"series"`
	Annotations map[string]Annotation `json:"annotations"`
}

func NewOverlay() Overlay {
	return Overlay{Series: []Series{}, Annotations: map[string]Annotation{}}
}

func (o Overlay) FindSeries(name string) (Series, bool) {
	for _, s := range o.Series {
		if s.Name == name {
			return s, true
		}
	}
	return Series{}, false
}
