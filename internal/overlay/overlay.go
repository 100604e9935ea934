// Package overlay derives, for one frame, the declarative series and
// annotations a chart should draw. Every function here is pure: the result
// depends only on the Input, so re-deriving a frame always gives the same
// overlay and nothing tied to index i is shown before Frame > i.
package overlay

import (
	"errors"
	"fmt"

	"ewsreplay/internal/dataset"
	"ewsreplay/internal/model"
)

var ErrInvalidMode = errors.New("invalid chart mode")

type Input struct {
	Frame    int
	Dataset  model.Dataset
	Metadata model.PlotMetadata
	Field    string
	Options  model.ChartOptions
}

type Deriver func(in Input) model.Overlay

var derivers = map[model.ChartMode]Deriver{
	model.ModeStandard:              deriveStandard,
	model.ModeBenignAttack:          deriveBenignAttack,
	model.ModeDerivative:            deriveBenignAttack,
	model.ModePeakRegion:            derivePeakRegion,
	model.ModeEarlyWarnings:         deriveEarlyWarnings,
	model.ModeAlerts:                deriveAlerts,
	model.ModeFlowWithEWS:           deriveFlowWithEWS,
	model.ModeAlertLevelsSeparately: deriveAlertLevel,
	model.ModeEmergencyAlerts:       deriveEmergencyAlerts,
	model.ModeConfusionMatrix:       deriveConfusionMatrix,
}

func Derive(mode model.ChartMode, in Input) (model.Overlay, error) {
	fn, ok := derivers[mode]
	if !ok {
		return model.NewOverlay(), fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return fn(in), nil
}

func For(mode model.ChartMode) (Deriver, bool) {
	fn, ok := derivers[mode]
	return fn, ok
}

type indexedRow struct {
	index int
	row   model.Row
}

// view is the common preprocessing: the visible prefix and its benign/attack
// partition, both in dataset order.
type view struct {
	in     Input
	rows   []indexedRow
	benign []indexedRow
	attack []indexedRow
}

func newView(in Input) view {
	frame := in.Frame
	if frame > len(in.Dataset) {
		frame = len(in.Dataset)
	}
	if frame < 0 {
		frame = 0
	}
	v := view{in: in, rows: make([]indexedRow, 0, frame)}
	for i := 0; i < frame; i++ {
		ir := indexedRow{index: i, row: in.Dataset[i]}
		v.rows = append(v.rows, ir)
		if ir.row.IsBenign() {
			v.benign = append(v.benign, ir)
		} else {
			v.attack = append(v.attack, ir)
		}
	}
	return v
}

// revealed reports whether a marker tied to idx may be drawn. Indices that do
// not address a row are never revealed.
func (v view) revealed(idx int) bool {
	return dataset.InRange(idx, len(v.in.Dataset)) && v.in.Frame > idx
}

func (v view) points(rows []indexedRow) []model.Point {
	out := make([]model.Point, 0, len(rows))
	for _, ir := range rows {
		if y, ok := ir.row.Value(v.in.Field); ok {
			out = append(out, model.Point{X: ir.row.Seconds, Y: y})
		}
	}
	return out
}

func (v view) point(idx int) (model.Point, bool) {
	row := v.in.Dataset[idx]
	y, ok := row.Value(v.in.Field)
	return model.Point{X: row.Seconds, Y: y}, ok
}

// peak is the attack row with the largest field value; the first occurrence
// wins ties. It is recomputed from the visible attack rows on every call.
func (v view) peak() (indexedRow, float64, bool) {
	var best indexedRow
	var bestVal float64
	found := false
	for _, ir := range v.attack {
		y, ok := ir.row.Value(v.in.Field)
		if !ok {
			continue
		}
		if !found || y > bestVal {
			best, bestVal, found = ir, y, true
		}
	}
	return best, bestVal, found
}

func filterRows(rows []indexedRow, keep func(indexedRow) bool) []indexedRow {
	out := make([]indexedRow, 0)
	for _, ir := range rows {
		if keep(ir) {
			out = append(out, ir)
		}
	}
	return out
}

func lineSeries(name, color string, width int, pts []model.Point) model.Series {
	return model.Series{
		Name:   name,
		Style:  model.Style{Color: color, Kind: model.SeriesLine, Width: width},
		Points: pts,
	}
}

func markerSeries(name, color, marker string, radius int, pts []model.Point) model.Series {
	return model.Series{
		Name:   name,
		Style:  model.Style{Color: color, Kind: model.SeriesMarker, Marker: marker, Radius: radius},
		Points: pts,
	}
}

func verticalLine(x float64, content, color string, dash []int) model.Annotation {
	return model.Annotation{Kind: model.AnnotationLine, X: x, Content: content, Color: color, Dash: dash}
}
