package overlay

import (
	"fmt"

	"ewsreplay/internal/model"
)

const (
	colorBenign       = "green"
	colorAttack       = "red"
	colorTraffic      = "gray"
	colorFlowPackets  = "blue"
	colorAttackStart  = "red"
	colorAttackStop   = "darkred"
	colorPeakStart    = "purple"
	colorPeakPoint    = "black"
	colorPeakLine     = "blue"
	colorEarlyWarning = "red"
	colorPeakAttack   = "purple"
	colorEmergency    = "red"

	markerCross = "crossRot"
	markerStar  = "star"
	markerDot   = "circle"

	// earlyWarningStride keeps one early-warning sample per stride.
	earlyWarningStride = 10
	maxEWSMarkers      = 3
)

var (
	levelColors = map[int]string{1: "green", 2: "orange", 3: "red", 4: "purple"}
	levelNames  = map[int]string{1: "Low", 2: "Medium", 3: "High", 4: "Very High"}
	ewsLines    = []string{"green", "orange", "purple"}
	dashed      = []int{6, 2}
)

func levelName(level int) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("Level %d", level)
}

func (v view) benignAttack(ov *model.Overlay) {
	ov.Series = append(ov.Series,
		lineSeries("Benign", colorBenign, 2, v.points(v.benign)),
		lineSeries("Attack", colorAttack, 2, v.points(v.attack)),
	)
}

func (v view) trafficFlow(ov *model.Overlay, name string) {
	ov.Series = append(ov.Series, lineSeries(name, colorTraffic, 1, v.points(v.rows)))
}

// attackRegion draws the start and end lines of the attack once revealed.
func (v view) attackRegion(ov *model.Overlay, startLabel, endLabel string) {
	if !v.in.Options.ShowAttackRegion || len(v.in.Metadata.AttackIndices) == 0 {
		return
	}
	start, _ := v.in.Metadata.AttackStart()
	if !v.revealed(start) {
		return
	}
	ov.Annotations["attackStart"] = verticalLine(v.in.Dataset[start].Seconds, startLabel, colorAttackStart, dashed)
	end, _ := v.in.Metadata.AttackEnd()
	if v.revealed(end) {
		ov.Annotations["attackEnd"] = verticalLine(v.in.Dataset[end].Seconds, endLabel, colorAttackStop, dashed)
	}
}

func deriveStandard(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.benignAttack(&ov)
	v.attackRegion(&ov, "Attack Start", "Attack End")
	if !in.Options.ShowEWS {
		return ov
	}
	for level := 1; level <= 4; level++ {
		for i, idx := range in.Metadata.Level(level) {
			if !v.revealed(idx) {
				continue
			}
			p, ok := v.point(idx)
			if !ok {
				continue
			}
			ov.Annotations[fmt.Sprintf("ews-level%d-%d", level, i)] = model.Annotation{
				Kind:  model.AnnotationPoint,
				X:     p.X,
				Y:     p.Y,
				Color: levelColors[level],
			}
		}
	}
	return ov
}

func deriveBenignAttack(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.benignAttack(&ov)
	return ov
}

func derivePeakRegion(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.benignAttack(&ov)
	first := in.Metadata.FirstAttackIndex
	if first == -1 || len(v.attack) == 0 {
		return ov
	}
	if v.revealed(first) {
		ov.Annotations["attackStart"] = verticalLine(in.Dataset[first].Seconds, "Attack Start", colorPeakStart, dashed)
	}
	peak, y, ok := v.peak()
	if !ok || !v.revealed(peak.index) {
		return ov
	}
	ov.Annotations["peakPoint"] = verticalLine(peak.row.Seconds, "Peak Point", colorPeakLine, dashed)
	ov.Series = append(ov.Series, markerSeries("Peak Point", colorPeakPoint, markerCross, 5,
		[]model.Point{{X: peak.row.Seconds, Y: y}}))
	return ov
}

// labelColor spreads labels around the hue circle by first-appearance rank.
func labelColor(rank int) string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", (rank*137)%360)
}

func deriveEarlyWarnings(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.trafficFlow(&ov, "Traffic Flow")

	var order []string
	byLabel := make(map[string][]indexedRow)
	for _, ir := range v.rows {
		if _, seen := byLabel[ir.row.Label]; !seen {
			order = append(order, ir.row.Label)
		}
		byLabel[ir.row.Label] = append(byLabel[ir.row.Label], ir)
	}
	for rank, label := range order {
		ov.Series = append(ov.Series, markerSeries(label, labelColor(rank), markerDot, 2, v.points(byLabel[label])))
	}

	if !in.Options.ShowEWS {
		return ov
	}
	warnings := filterRows(v.rows, func(ir indexedRow) bool { return ir.row.EWS > 0 })
	if len(warnings) == 0 {
		return ov
	}
	sampled := make([]indexedRow, 0, len(warnings)/earlyWarningStride+1)
	for i, ir := range warnings {
		if i%earlyWarningStride == 0 {
			sampled = append(sampled, ir)
		}
	}
	ov.Series = append(ov.Series, markerSeries("Early Warning (1 per 10)", colorEarlyWarning, markerDot, 3, v.points(sampled)))
	return ov
}

func deriveAlerts(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.trafficFlow(&ov, "Traffic Flow")
	for level := 1; level <= 4; level++ {
		rows := filterRows(v.rows, func(ir indexedRow) bool { return ir.row.EWS == level })
		if len(rows) == 0 {
			continue
		}
		ov.Series = append(ov.Series, alertSeries(level, v.points(rows)))
	}
	v.attackRegion(&ov, "Attack Start", "Attack Stop")
	return ov
}

// alertSeries is labelled with the number of alerts drawn, not the level.
func alertSeries(level int, pts []model.Point) model.Series {
	name := fmt.Sprintf("%s Alert - %d", levelName(level), len(pts))
	return markerSeries(name, levelColors[level], markerDot, 3, pts)
}

func deriveAlertLevel(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	v.trafficFlow(&ov, "Traffic Flow")
	level := in.Options.AlertLevel
	if level >= 1 && level <= 4 {
		rows := filterRows(v.rows, func(ir indexedRow) bool { return ir.row.EWS == level })
		ov.Series = append(ov.Series, alertSeries(level, v.points(rows)))
	}
	v.attackRegion(&ov, "Attack Start", "Attack Stop")
	return ov
}

func deriveFlowWithEWS(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	ov.Series = append(ov.Series, lineSeries(in.Field, colorFlowPackets, 2, v.points(v.rows)))

	if in.Options.ShowAttackRegion && len(in.Metadata.AttackIndices) > 0 {
		v.attackRegion(&ov, "Start", "Stop")
		if peak, y, ok := v.peak(); ok && v.revealed(peak.index) {
			x := peak.row.Seconds
			ov.Series = append(ov.Series, markerSeries("Peak Attack", colorPeakAttack, markerStar, 8,
				[]model.Point{{X: x, Y: y}}))
			ov.Annotations["peakLabel"] = model.Annotation{
				Kind:    model.AnnotationLabel,
				X:       x + 10,
				Y:       y * 0.9,
				Content: fmt.Sprintf("peak_second\n%.2fs", x),
				Color:   colorPeakAttack,
			}
		}
	}

	if !in.Options.ShowEWS {
		return ov
	}
	level4 := in.Metadata.Level(4)
	for i := 0; i < len(level4) && i < maxEWSMarkers; i++ {
		idx := level4[i]
		if !v.revealed(idx) {
			continue
		}
		p, ok := v.point(idx)
		if !ok {
			continue
		}
		color := ewsLines[i]
		ov.Annotations[fmt.Sprintf("ews-%d", i)] = verticalLine(p.X, fmt.Sprintf("EWS %d\n%.2fs", i+1, p.X), color, dashed)
		ov.Series = append(ov.Series, markerSeries(fmt.Sprintf("EWS %d", i+1), color, markerCross, 6, []model.Point{p}))
	}
	return ov
}

func deriveEmergencyAlerts(in Input) model.Overlay {
	v := newView(in)
	ov := model.NewOverlay()
	ov.Series = append(ov.Series, lineSeries(in.Field, colorFlowPackets, 1, v.points(v.rows)))
	level4 := in.Metadata.Level(4)
	if len(level4) == 0 {
		return ov
	}
	set := make(map[int]struct{}, len(level4))
	for _, idx := range level4 {
		set[idx] = struct{}{}
	}
	rows := filterRows(v.rows, func(ir indexedRow) bool {
		_, ok := set[ir.index]
		return ok
	})
	ov.Series = append(ov.Series, markerSeries("Emergency Alerts", colorEmergency, markerCross, 5, v.points(rows)))
	return ov
}

func deriveConfusionMatrix(Input) model.Overlay {
	return model.NewOverlay()
}
