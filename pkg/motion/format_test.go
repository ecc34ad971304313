package motion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/robot"
)

func pose(base int) robot.Pose {
	var p robot.Pose
	for i := range p {
		p[i] = base + i
	}
	return p
}

func testRecording(offsets ...int64) *Recording {
	rec := &Recording{
		ID:        uuid.New(),
		Mode:      FrameBased,
		CreatedAt: time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
	}
	for i, off := range offsets {
		rec.Frames = append(rec.Frames, Frame{OffsetMS: off, Positions: pose(1000 + 100*i)})
	}
	rec.DurationMS = offsets[len(offsets)-1]
	return rec
}

func TestMarshalRoundTrip(t *testing.T) {
	rec := testRecording(0, 200, 500, 900, 1200)

	data, err := Marshal(rec)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, rec.Frames, got.Frames)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Mode, got.Mode)
	assert.Equal(t, int64(1200), got.DurationMS)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	again, err := Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestRealTimeRoundTripKeepsRate(t *testing.T) {
	rec := testRecording(0, 50, 100)
	rec.Mode = RealTime
	rec.SampleRateHz = 20

	data, err := Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sample_rate_hz": 20`)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 20, got.SampleRateHz)
}

func frameJSON(offset int64, n int) string {
	pos := make([]string, n)
	for i := range pos {
		pos[i] = "2048"
	}
	return fmt.Sprintf(`{"offset_ms": %d, "positions": [%s]}`, offset, strings.Join(pos, ","))
}

func doc(header string, frames ...string) []byte {
	return []byte(fmt.Sprintf(`{%s, "frames": [%s]}`, header, strings.Join(frames, ",")))
}

func TestUnmarshalRejects(t *testing.T) {
	const okHeader = `"version": 1, "mode": "frame", "servo_count": 17`
	tests := []struct {
		name  string
		data  []byte
		frame int
	}{
		{"version", doc(`"version": 2, "mode": "frame", "servo_count": 17`, frameJSON(0, 17)), -1},
		{"servo count", doc(`"version": 1, "mode": "frame", "servo_count": 16`, frameJSON(0, 16)), -1},
		{"mode", doc(`"version": 1, "mode": "video", "servo_count": 17`, frameJSON(0, 17)), -1},
		{"realtime rate", doc(`"version": 1, "mode": "realtime", "servo_count": 17`, frameJSON(0, 17)), -1},
		{"not json", []byte(`{"version": 1,`), -1},
		{"negative offset", doc(okHeader, frameJSON(-5, 17)), 0},
		{"short frame", doc(okHeader, frameJSON(0, 17), frameJSON(100, 12), frameJSON(50, 17)), 1},
		{"offset order", doc(okHeader, frameJSON(0, 17), frameJSON(100, 17), frameJSON(100, 17), frameJSON(50, 17)), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Unmarshal(tt.data)
			assert.Nil(t, rec)
			require.ErrorIs(t, err, ErrRecordingFormat)
			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.frame, fe.Frame)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	rec := testRecording(0, 40, 80)
	path := filepath.Join(t.TempDir(), "nested", FileName(rec))
	require.NoError(t, Save(path, rec))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec.Frames, got.Frames)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFrameAt(t *testing.T) {
	rec := testRecording(100, 200, 500)
	tests := []struct {
		ms   int64
		want int
	}{
		{0, 0},
		{100, 0},
		{199, 0},
		{200, 1},
		{499, 1},
		{500, 2},
		{9000, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rec.FrameAt(tt.ms), "FrameAt(%d)", tt.ms)
	}
}
