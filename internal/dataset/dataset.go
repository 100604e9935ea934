package dataset

import (
	"errors"
	"fmt"
	"sort"

	"ewsreplay/internal/model"
)

var (
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrFieldNotFound = errors.New("field not found")
)

// Validate gates playback: the dataset must have rows and its first row must
// carry the plotted field.
func Validate(ds model.Dataset, field string) error {
	if len(ds) == 0 {
		return fmt.Errorf("no data available: %w", ErrEmptyDataset)
	}
	if !ds[0].Has(field) {
		return fmt.Errorf("field %q not found in data: %w", field, ErrFieldNotFound)
	}
	return nil
}

// MalformedIndex is a metadata index that does not address a row.
type MalformedIndex struct {
	Source string
	Index  int
}

func (m MalformedIndex) String() string {
	return fmt.Sprintf("%s[%d]", m.Source, m.Index)
}

// CheckMetadata lists every index outside [0, maxFrames). These are skipped by
// consumers, not treated as fatal.
func CheckMetadata(meta model.PlotMetadata, maxFrames int) []MalformedIndex {
	var out []MalformedIndex
	if meta.FirstAttackIndex != -1 && !InRange(meta.FirstAttackIndex, maxFrames) {
		out = append(out, MalformedIndex{Source: "first_attack_idx", Index: meta.FirstAttackIndex})
	}
	for _, idx := range meta.AttackIndices {
		if !InRange(idx, maxFrames) {
			out = append(out, MalformedIndex{Source: "attack_indices", Index: idx})
		}
	}
	levels := make([]int, 0, len(meta.EWSAlerts))
	for level := range meta.EWSAlerts {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	for _, level := range levels {
		source := fmt.Sprintf("ews_alerts.level%d", level)
		for _, idx := range meta.EWSAlerts[level] {
			if !InRange(idx, maxFrames) {
				out = append(out, MalformedIndex{Source: source, Index: idx})
			}
		}
	}
	return out
}

func InRange(idx, maxFrames int) bool {
	return idx >= 0 && idx < maxFrames
}
