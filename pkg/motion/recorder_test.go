package motion

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/robot"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFrameBasedRecording(t *testing.T) {
	clk := &manualClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	r, err := StartRecording(RecorderOptions{Mode: FrameBased, Logger: quietLogger(), Now: clk.Now})
	require.NoError(t, err)

	f, err := r.Append(pose(100))
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.OffsetMS)

	// Clock has not moved: the engine still assigns an increasing offset.
	f, err = r.Append(pose(200))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.OffsetMS)

	clk.Advance(750 * time.Millisecond)
	f, err = r.Append(pose(300))
	require.NoError(t, err)
	assert.Equal(t, int64(750), f.OffsetMS)

	_, err = r.AppendAt(750, pose(400))
	require.ErrorIs(t, err, ErrFrameOrdering)
	var ordErr *FrameOrderingError
	require.True(t, errors.As(err, &ordErr))
	assert.Equal(t, 3, ordErr.Frame)
	assert.Equal(t, int64(750), ordErr.Previous)

	_, err = r.AppendAt(2000, pose(500))
	require.NoError(t, err)

	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, r.ID(), rec.ID)
	assert.Equal(t, FrameBased, rec.Mode)
	assert.Len(t, rec.Frames, 4)
	assert.Equal(t, int64(2000), rec.DurationMS)
	require.NoError(t, rec.Validate())

	_, err = r.Append(pose(1))
	assert.ErrorIs(t, err, ErrNotRecording)
	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStopWithoutFrames(t *testing.T) {
	r, err := StartRecording(RecorderOptions{Mode: FrameBased, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrEmptyRecording)
}

func TestStartRecordingValidation(t *testing.T) {
	sampler := SamplerFunc(func(context.Context) (robot.Pose, error) { return robot.Pose{}, nil })
	for _, hz := range []int{0, 101} {
		_, err := StartRecording(RecorderOptions{Mode: RealTime, RateHz: hz, Sampler: sampler})
		assert.ErrorIs(t, err, ErrInvalidRate, "rate %d", hz)
	}
	_, err := StartRecording(RecorderOptions{Mode: RealTime, RateHz: 10})
	assert.Error(t, err, "missing sampler")
	_, err = StartRecording(RecorderOptions{Mode: "video"})
	assert.Error(t, err)
}

func TestRealTimeRecording(t *testing.T) {
	var calls atomic.Int64
	sampler := SamplerFunc(func(context.Context) (robot.Pose, error) {
		return pose(int(calls.Add(1))), nil
	})
	r, err := StartRecording(RecorderOptions{Mode: RealTime, RateHz: 10, Sampler: sampler, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = r.Append(pose(0))
	assert.ErrorIs(t, err, ErrWrongMode)

	time.Sleep(time.Second)
	rec, err := r.Stop()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(rec.Frames), 9)
	assert.LessOrEqual(t, len(rec.Frames), 12)
	assert.Equal(t, 10, rec.SampleRateHz)
	for i := 1; i < len(rec.Frames); i++ {
		assert.Greater(t, rec.Frames[i].OffsetMS, rec.Frames[i-1].OffsetMS)
	}
	assert.Equal(t, rec.Frames[len(rec.Frames)-1].OffsetMS, rec.DurationMS)
	assert.InDelta(t, 1000, rec.DurationMS, 150)

	after := calls.Load()
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no sampling after stop")
}

func TestRealTimeRecordingSkipsFailedSamples(t *testing.T) {
	var calls atomic.Int64
	sampler := SamplerFunc(func(context.Context) (robot.Pose, error) {
		if calls.Add(1)%2 == 0 {
			return robot.Pose{}, errors.New("bus busy")
		}
		return pose(1), nil
	})
	r, err := StartRecording(RecorderOptions{Mode: RealTime, RateHz: 50, Sampler: sampler, Logger: quietLogger()})
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	rec, err := r.Stop()
	require.NoError(t, err)

	assert.Less(t, int64(len(rec.Frames)), calls.Load())
	require.NoError(t, rec.Validate())
}
