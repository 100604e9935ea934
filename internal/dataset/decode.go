package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ewsreplay/internal/model"
)

// Result is one analysis result as returned by the backend upload/capture
// endpoints.
type Result struct {
	Rows     model.Dataset      `json:"rows"`
	Metadata model.PlotMetadata `json:"metadata"`
}

var (
	rowsKeys     = []string{"cleaned_df", "rows", "data"}
	metadataKeys = []string{"plot_data", "metadata"}
	secondsKeys  = []string{"seconds", "second", "time"}
	labelKeys    = []string{"label", "class"}
	ewsKeys      = []string{"ews", "ews_level", "ewslevel"}
)

// DecodeResult parses {"cleaned_df": [...], "plot_data": {...}}. Missing
// metadata decodes as "no attack, no alerts".
func DecodeResult(data []byte) (Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Result{}, errors.New("empty analysis result")
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Result{}, fmt.Errorf("decode analysis result: %w", err)
	}
	res := Result{Metadata: model.EmptyMetadata()}
	if raw, ok := firstRaw(envelope, rowsKeys...); ok {
		var objs []map[string]interface{}
		if err := json.Unmarshal(raw, &objs); err != nil {
			return Result{}, fmt.Errorf("decode rows: %w", err)
		}
		res.Rows = ParseRows(objs)
	}
	if raw, ok := firstRaw(envelope, metadataKeys...); ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &res.Metadata); err != nil {
			return Result{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return res, nil
}

func ParseRows(objs []map[string]interface{}) model.Dataset {
	out := make(model.Dataset, 0, len(objs))
	for _, obj := range objs {
		out = append(out, ParseRow(obj))
	}
	return out
}

// ParseRow keeps every numeric column under its original key; the well-known
// columns are matched case-insensitively.
func ParseRow(obj map[string]interface{}) model.Row {
	row := model.Row{
		Fields:  make(map[string]float64, len(obj)),
		Present: make(map[string]struct{}, len(obj)),
	}
	lower := make(map[string]interface{}, len(obj))
	for key, val := range obj {
		row.Present[key] = struct{}{}
		lower[strings.ToLower(strings.TrimSpace(key))] = val
		if f, ok := toFloat(val); ok {
			row.Fields[key] = f
		}
	}
	if v, ok := firstValue(lower, secondsKeys...); ok {
		if f, ok := toFloat(v); ok {
			row.Seconds = f
		}
	}
	if v, ok := firstValue(lower, labelKeys...); ok && v != nil {
		row.Label = strings.TrimSpace(fmt.Sprint(v))
	}
	if v, ok := firstValue(lower, ewsKeys...); ok {
		if f, ok := toFloat(v); ok {
			row.EWS = int(f)
		}
	}
	return row
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func firstRaw(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func firstValue(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
