package overlay

import (
	"fmt"
	"math"

	"ewsreplay/internal/dataset"
	"ewsreplay/internal/model"
)

// AlertStat summarizes how far ahead of the attack peak an emergency alert fired.
type AlertStat struct {
	Label          string  `json:"label"`
	Second         float64 `json:"second"`
	TimeBeforePeak int     `json:"time_before_peak"`
	PeakSecond     float64 `json:"peak_second"`
}

// AlertStats reports lead times for the first three level-4 alerts relative
// to the attack peak over the whole dataset. It returns nil when there is no
// attack with a value for field.
func AlertStats(ds model.Dataset, meta model.PlotMetadata, field string) []AlertStat {
	peakIdx := -1
	var peakVal float64
	for _, idx := range meta.AttackIndices {
		if !dataset.InRange(idx, len(ds)) {
			continue
		}
		y, ok := ds[idx].Value(field)
		if !ok {
			continue
		}
		if peakIdx == -1 || y > peakVal {
			peakIdx, peakVal = idx, y
		}
	}
	if peakIdx == -1 {
		return nil
	}
	peakSecond := ds[peakIdx].Seconds

	level4 := meta.Level(4)
	stats := make([]AlertStat, 0, maxEWSMarkers)
	for i := 0; i < len(level4) && i < maxEWSMarkers; i++ {
		idx := level4[i]
		if !dataset.InRange(idx, len(ds)) {
			continue
		}
		second := ds[idx].Seconds
		stats = append(stats, AlertStat{
			Label:          fmt.Sprintf("EWS %d", i+1),
			Second:         second,
			TimeBeforePeak: int(math.Round(peakSecond - second)),
			PeakSecond:     peakSecond,
		})
	}
	return stats
}
