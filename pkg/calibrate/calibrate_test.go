package calibrate

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/robot"
)

type rig struct {
	sim    *bus.Simulator
	model  *robot.Model
	engine *Engine
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sim := bus.NewSimulator(robot.NumChannels)
	tr, err := bus.NewTransport(sim, bus.Config{
		Timeout:    5 * time.Millisecond,
		Retries:    1,
		CommandGap: 10 * time.Microsecond,
		Logger:     log,
	})
	require.NoError(t, err)
	lease, err := tr.Acquire("calibration")
	require.NoError(t, err)
	t.Cleanup(lease.Release)

	model := robot.NewModel(robot.ModelOptions{})
	return &rig{sim: sim, model: model, engine: New(lease, model, cfg, log)}
}

func testConfig() Config {
	return Config{
		ProbeSpeed:       200,
		ProbeTorqueLimit: 300,
		ProbeMin:         0,
		ProbeMax:         4095,
		Epsilon:          3,
		Debounce:         15 * time.Millisecond,
		Poll:             time.Millisecond,
		MaxProbe:         time.Second,
		MinSeparation:    200,
	}
}

func TestRunFindsMechanicalStops(t *testing.T) {
	r := newRig(t, testConfig())
	r.sim.Configure(3, func(s *bus.SimServo) {
		s.Min, s.Max = 1000, 3000
		s.Rate = 200
		s.Jitter = 1
	})

	p, err := r.engine.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.ServoID)
	assert.InDelta(t, 1000, p.Min, 1)
	assert.InDelta(t, 3000, p.Max, 1)
	assert.Positive(t, p.ProbeSamples)
	assert.False(t, p.Timestamp.IsZero())

	limits, ok := r.model.Limits(3)
	require.True(t, ok)
	assert.Equal(t, p, limits)

	target, _ := r.model.Target(3)
	assert.Equal(t, p.Mid(), target, "parked at the middle of the range")

	st := r.engine.Status()
	assert.Equal(t, Completed, st.State)
	require.NotNil(t, st.Profile)
	assert.Equal(t, p.Max, st.Profile.Max)

	servo, _ := r.sim.State(3)
	assert.Equal(t, bus.MaxTorqueLimit, servo.TorqueLimit, "torque limit restored")
	assert.Equal(t, p.Mid(), servo.Goal)

	for _, c := range r.sim.Commands() {
		assert.Equal(t, 3, c.ID, "only the calibrated channel is commanded")
	}
}

func TestRunWithoutPlateauFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxProbe = 50 * time.Millisecond
	r := newRig(t, cfg)
	r.sim.Configure(4, func(s *bus.SimServo) { s.Jitter = 50 })

	prior := robot.Profile{ServoID: 4, Min: 1500, Max: 2500}
	require.NoError(t, r.model.ApplyCalibration(prior))

	_, err := r.engine.Run(context.Background(), 4)
	require.ErrorIs(t, err, ErrNoStallDetected)
	var calErr *Error
	require.True(t, errors.As(err, &calErr))
	assert.Equal(t, 4, calErr.Channel)

	limits, ok := r.model.Limits(4)
	require.True(t, ok)
	assert.Equal(t, prior, limits, "previous limits kept")

	st := r.engine.Status()
	assert.Equal(t, Failed, st.State)
	assert.NotEmpty(t, st.Error)

	servo, _ := r.sim.State(4)
	assert.InDelta(t, 2048, servo.Goal, 50, "returned to start position")
}

func TestRunDegenerateRange(t *testing.T) {
	r := newRig(t, testConfig())
	r.sim.Configure(5, func(s *bus.SimServo) {
		s.Min, s.Max = 2000, 2100
		s.Rate = 0
	})

	_, err := r.engine.Run(context.Background(), 5)
	require.ErrorIs(t, err, ErrDegenerateRange)
	_, ok := r.model.Limits(5)
	assert.False(t, ok)
	assert.Equal(t, Failed, r.engine.Status().State)
}

func TestRunRejectsCollapsedRangeWithoutMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinSeparation = 0
	r := newRig(t, cfg)
	r.sim.Configure(5, func(s *bus.SimServo) {
		s.Min, s.Max = 2048, 2048
		s.Rate = 0
	})

	_, err := r.engine.Run(context.Background(), 5)
	require.ErrorIs(t, err, ErrDegenerateRange)
	_, ok := r.model.Limits(5)
	assert.False(t, ok)
}

func TestRunLostServoKeepsPriorTarget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxProbe = time.Minute
	r := newRig(t, cfg)
	r.sim.Configure(8, func(s *bus.SimServo) {
		s.Rate = 200
		s.Jitter = 50
	})
	require.NoError(t, r.model.ApplyCalibration(robot.Profile{ServoID: 8, Min: 1500, Max: 2500}))
	require.NoError(t, r.model.SetTarget(8, 2100))

	// The servo drops off the bus mid-probe, so restoring it fails too.
	go func() {
		time.Sleep(30 * time.Millisecond)
		r.sim.Remove(8)
	}()
	_, err := r.engine.Run(context.Background(), 8)
	require.ErrorIs(t, err, bus.ErrTimeout)

	target, ok := r.model.Target(8)
	require.True(t, ok)
	assert.Equal(t, 2100, target, "probe extreme must not stick as the target")
	limits, _ := r.model.Limits(8)
	assert.Equal(t, 1500, limits.Min)
}

func TestRunSurfacesBusErrors(t *testing.T) {
	r := newRig(t, testConfig())
	r.sim.Remove(6)

	_, err := r.engine.Run(context.Background(), 6)
	assert.ErrorIs(t, err, bus.ErrTimeout)
	assert.Equal(t, Failed, r.engine.Status().State)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxProbe = time.Minute
	r := newRig(t, cfg)
	r.sim.Configure(7, func(s *bus.SimServo) { s.Jitter = 50 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.engine.Run(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := r.model.Limits(7)
	assert.False(t, ok)
}

func TestRunRejectsUnknownChannel(t *testing.T) {
	r := newRig(t, testConfig())
	_, err := r.engine.Run(context.Background(), 18)
	assert.ErrorIs(t, err, robot.ErrUnknownChannel)
}
