package robot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/bus"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestModel() (*Model, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewModel(ModelOptions{Freshness: 100 * time.Millisecond, Now: clk.Now}), clk
}

func TestSetTargetUncalibratedPassesThrough(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.SetTarget(4, 9000))
	v, ok := m.Target(4)
	assert.True(t, ok)
	assert.Equal(t, 9000, v)
}

func TestSetTargetRejectsOutOfRange(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.ApplyCalibration(Profile{ServoID: 2, Min: 1000, Max: 3000}))
	require.NoError(t, m.SetTarget(2, 2000))

	err := m.SetTarget(2, 3001)
	require.ErrorIs(t, err, ErrOutOfRange)
	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, 2, oor.Channel)
	assert.Equal(t, 3001, oor.Value)

	v, _ := m.Target(2)
	assert.Equal(t, 2000, v, "rejected write must not change the target")

	assert.ErrorIs(t, m.CheckTarget(2, 999), ErrOutOfRange)
	assert.NoError(t, m.CheckTarget(2, 1000))
	assert.NoError(t, m.CheckTarget(2, 3000))
}

func TestUnknownChannel(t *testing.T) {
	m, _ := newTestModel()
	assert.ErrorIs(t, m.SetTarget(0, 1), ErrUnknownChannel)
	assert.ErrorIs(t, m.SetTarget(18, 1), ErrUnknownChannel)
	_, err := m.Feedback(18)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestProbeTargetBypassesLimits(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.ApplyCalibration(Profile{ServoID: 1, Min: 1000, Max: 3000}))
	require.NoError(t, m.SetProbeTarget(1, 0))
	v, _ := m.Target(1)
	assert.Equal(t, 0, v)
}

func TestRestoreTargetUndoesProbe(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.ApplyCalibration(Profile{ServoID: 1, Min: 1000, Max: 3000}))
	require.NoError(t, m.SetTarget(1, 2200))
	prev, held := m.Target(1)

	require.NoError(t, m.SetProbeTarget(1, 0))
	require.NoError(t, m.RestoreTarget(1, prev, held))
	v, ok := m.Target(1)
	assert.True(t, ok)
	assert.Equal(t, 2200, v)

	require.NoError(t, m.SetProbeTarget(2, 4095))
	require.NoError(t, m.RestoreTarget(2, 0, false))
	_, ok = m.Target(2)
	assert.False(t, ok, "no target before the probe, none after")

	assert.ErrorIs(t, m.RestoreTarget(18, 0, false), ErrUnknownChannel)
}

func TestApplyCalibrationClampsTarget(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.SetTarget(3, 3500))
	require.NoError(t, m.ApplyCalibration(Profile{ServoID: 3, Min: 1000, Max: 3000}))
	v, _ := m.Target(3)
	assert.Equal(t, 3000, v)

	assert.Error(t, m.ApplyCalibration(Profile{ServoID: 3, Min: 2000, Max: 2000}))
	p, ok := m.Limits(3)
	require.True(t, ok)
	assert.Equal(t, 1000, p.Min, "invalid profile must leave previous limits")
}

func TestFeedbackStaleness(t *testing.T) {
	m, clk := newTestModel()

	r, err := m.Feedback(5)
	require.NoError(t, err)
	assert.True(t, r.Stale, "never received")

	m.IngestFeedback(bus.Feedback{Channel: 5, Position: 1234, At: clk.Now()})
	r, _ = m.Feedback(5)
	assert.False(t, r.Stale)
	assert.Equal(t, 1234, r.Position)

	clk.Advance(101 * time.Millisecond)
	r, _ = m.Feedback(5)
	assert.True(t, r.Stale)
	assert.Equal(t, 1234, r.Position, "stale reading keeps last value")
}

func TestFeedbackLastWriterWins(t *testing.T) {
	m, clk := newTestModel()
	now := clk.Now()

	assert.True(t, m.IngestFeedback(bus.Feedback{Channel: 1, Position: 200, At: now}))
	assert.False(t, m.IngestFeedback(bus.Feedback{Channel: 1, Position: 100, At: now.Add(-time.Millisecond)}))
	r, _ := m.Feedback(1)
	assert.Equal(t, 200, r.Position)

	assert.True(t, m.IngestFeedback(bus.Feedback{Channel: 1, Position: 300, At: now.Add(time.Millisecond)}))
	r, _ = m.Feedback(1)
	assert.Equal(t, 300, r.Position)
}

func TestPosePrefersFreshFeedback(t *testing.T) {
	m, clk := newTestModel()
	require.NoError(t, m.SetTarget(1, 1500))
	require.NoError(t, m.SetTarget(2, 1600))
	m.IngestFeedback(bus.Feedback{Channel: 1, Position: 1490, At: clk.Now()})

	p := m.Pose()
	assert.Equal(t, 1490, p.At(1))
	assert.Equal(t, 1600, p.At(2))
	assert.Equal(t, 0, p.At(3))
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestModel()
	require.NoError(t, m.ApplyCalibration(Profile{ServoID: 17, Min: 100, Max: 900}))
	require.NoError(t, m.SetTarget(17, 500))
	require.NoError(t, m.SetEnabled(17, true))

	snap := m.Snapshot()
	require.Len(t, snap, NumChannels)
	w := snap[16]
	assert.Equal(t, 17, w.ID)
	assert.Equal(t, Wrist, w.Name)
	require.NotNil(t, w.Target)
	assert.Equal(t, 500, *w.Target)
	assert.True(t, w.Enabled)
	require.NotNil(t, w.Calibration)
	assert.Equal(t, 900, w.Calibration.Max)

	assert.Nil(t, snap[0].Target)
	assert.Nil(t, snap[0].Calibration)
}
