package robot

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProfile_Normalize(t *testing.T) {
	p := Profile{
		Min: 1000,
		Max: 3000,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{1000, -100.0}, // min -> -100
		{3000, 100.0},  // max -> 100
		{2000, 0.0},    // mid -> 0
		{1500, -50.0},  // quarter -> -50
		{2500, 50.0},   // three-quarter -> 50
	}

	for _, tt := range tests {
		got := p.Normalize(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestProfile_Denormalize(t *testing.T) {
	p := Profile{
		Min: 1000,
		Max: 3000,
	}

	tests := []struct {
		norm     float64
		expected int
	}{
		{-100.0, 1000}, // -100 -> min
		{100.0, 3000},  // 100 -> max
		{0.0, 2000},    // 0 -> mid
		{-50.0, 1500},  // -50 -> quarter
		{50.0, 2500},   // 50 -> three-quarter
	}

	for _, tt := range tests {
		got := p.Denormalize(tt.norm)
		if got != tt.expected {
			t.Errorf("Denormalize(%f) = %d, want %d", tt.norm, got, tt.expected)
		}
	}
}

func TestProfile_RoundTrip(t *testing.T) {
	p := Profile{
		Min: 823,
		Max: 3540,
	}

	// raw -> normalized -> raw
	for raw := p.Min; raw <= p.Max; raw += 100 {
		norm := p.Normalize(raw)
		back := p.Denormalize(norm)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, norm, back)
		}
	}
}

func TestCalibration_ChannelIDs(t *testing.T) {
	cal := Calibration{
		17: Profile{ServoID: 17, Min: 1, Max: 2},
		1:  Profile{ServoID: 1, Min: 1, Max: 2},
		9:  Profile{ServoID: 9, Min: 1, Max: 2},
	}

	ids := cal.ChannelIDs()
	expected := []int{1, 9, 17}

	if len(ids) != len(expected) {
		t.Fatalf("ChannelIDs returned %d IDs, want %d", len(ids), len(expected))
	}

	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("ChannelIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}
}

func TestCalibration_ByName(t *testing.T) {
	cal := Calibration{
		1:  Profile{ServoID: 1, Min: 100, Max: 200},
		17: Profile{ServoID: 17, Min: 300, Max: 400},
	}

	p, ok := cal.ByName(Wrist)
	if !ok {
		t.Fatal("ByName(wrist) returned false")
	}
	if p.Min != 300 {
		t.Errorf("ByName(wrist) returned wrong profile: %+v", p)
	}

	if _, ok := cal.ByName(IndexMCP); ok {
		t.Error("ByName(index_mcp) should return false")
	}
}

func TestCalibration_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cal := Calibration{
		3: Profile{ServoID: 3, Min: 900, Max: 3100, ProbeSamples: 42, Timestamp: ts},
		1: Profile{ServoID: 1, Min: 1000, Max: 3000, ProbeSamples: 40, Timestamp: ts},
	}

	if err := cal.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d profiles, want 2", len(loaded))
	}
	for id, want := range cal {
		got := loaded[id]
		if got.Min != want.Min || got.Max != want.Max || got.ProbeSamples != want.ProbeSamples || !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("servo %d: got %+v, want %+v", id, got, want)
		}
	}
}

func TestLoadCalibration_RejectsDegenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	data := `[{"servo_id": 2, "min": 3000, "max": 1000, "timestamp": "2026-03-01T12:00:00Z"}]`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibration(path); err == nil {
		t.Error("expected error for min >= max")
	}
}
