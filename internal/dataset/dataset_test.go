package dataset

import (
	"errors"
	"testing"

	"ewsreplay/internal/model"
)

func TestValidateEmptyDataset(t *testing.T) {
	err := Validate(nil, "Flow Packets/s")
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestValidateFieldNotFound(t *testing.T) {
	ds := model.Dataset{
		{Seconds: 0, Label: "BENIGN", Fields: map[string]float64{"Flow Bytes/s": 1}},
		{Seconds: 1, Label: "BENIGN", Fields: map[string]float64{"Flow Packets/s": 1}},
	}
	err := Validate(ds, "Flow Packets/s")
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestValidateOK(t *testing.T) {
	ds := model.Dataset{{Seconds: 0, Fields: map[string]float64{"Flow Packets/s": 3}}}
	if err := Validate(ds, "Flow Packets/s"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckMetadataReportsOutOfRange(t *testing.T) {
	meta := model.PlotMetadata{
		FirstAttackIndex: 7,
		AttackIndices:    []int{1, 2, 9},
		EWSAlerts:        model.EWSAlerts{4: {-1, 3}, 1: {0}},
	}
	bad := CheckMetadata(meta, 5)
	if len(bad) != 3 {
		t.Fatalf("expected 3 malformed indices, got %v", bad)
	}
	if bad[0].Source != "first_attack_idx" || bad[1].Index != 9 || bad[2].Source != "ews_alerts.level4" {
		t.Fatalf("unexpected malformed list: %v", bad)
	}
}

func TestCheckMetadataNoAttack(t *testing.T) {
	if bad := CheckMetadata(model.EmptyMetadata(), 0); len(bad) != 0 {
		t.Fatalf("expected no malformed indices, got %v", bad)
	}
}

func TestDecodeResult(t *testing.T) {
	body := `{
		"cleaned_df": [
			{"Seconds": 0, "Label": "BENIGN", "Flow Packets/s": 10.5, "EWS": 0, "Src IP": "10.0.0.1"},
			{"Seconds": "1", "Label": "DDoS", "Flow Packets/s": "99", "EWS": 4}
		],
		"plot_data": {
			"first_attack_idx": 1,
			"attack_indices": [1],
			"ews_alerts": {"level1": [], "level4": [1]}
		}
	}`
	res, err := DecodeResult([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows: %d", len(res.Rows))
	}
	r0, r1 := res.Rows[0], res.Rows[1]
	if !r0.IsBenign() || r0.Fields["Flow Packets/s"] != 10.5 || !r0.Has("Src IP") {
		t.Fatalf("row 0 mismatch: %+v", r0)
	}
	if _, ok := r0.Value("Src IP"); ok {
		t.Fatalf("non-numeric field should have no value")
	}
	if r1.Seconds != 1 || r1.Label != "DDoS" || r1.EWS != 4 || r1.Fields["Flow Packets/s"] != 99 {
		t.Fatalf("row 1 mismatch: %+v", r1)
	}
	if res.Metadata.FirstAttackIndex != 1 || len(res.Metadata.Level(4)) != 1 {
		t.Fatalf("metadata mismatch: %+v", res.Metadata)
	}
}

func TestDecodeResultWithoutMetadata(t *testing.T) {
	res, err := DecodeResult([]byte(`{"rows": [{"seconds": 2, "label": "BENIGN", "x": 1}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Metadata.FirstAttackIndex != -1 {
		t.Fatalf("expected -1 first attack index, got %d", res.Metadata.FirstAttackIndex)
	}
	if _, ok := res.Metadata.AttackStart(); ok {
		t.Fatalf("expected no attack start")
	}
	if res.Rows[0].Seconds != 2 {
		t.Fatalf("seconds alias not matched")
	}
}

func TestDecodeResultRejectsGarbage(t *testing.T) {
	if _, err := DecodeResult([]byte("   ")); err == nil {
		t.Fatalf("expected error on empty body")
	}
	if _, err := DecodeResult([]byte(`{"cleaned_df": 3}`)); err == nil {
		t.Fatalf("expected error on bad rows")
	}
}

func TestValidateAcceptsNullFieldValue(t *testing.T) {
	body := `{"cleaned_df": [
		{"Seconds": 0, "Label": "BENIGN", "Flow Packets/s": null},
		{"Seconds": 1, "Label": "BENIGN", "Flow Packets/s": 12}
	]}`
	res, err := DecodeResult([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(res.Rows, "Flow Packets/s"); err != nil {
		t.Fatalf("expected field to validate, got %v", err)
	}
	if _, ok := res.Rows[0].Value("Flow Packets/s"); ok {
		t.Fatalf("null value should not be numeric")
	}
	if v, ok := res.Rows[1].Value("Flow Packets/s"); !ok || v != 12 {
		t.Fatalf("row 1 value: %v %v", v, ok)
	}
	if err := Validate(res.Rows, "Missing"); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}
