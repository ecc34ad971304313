// Package calibrate discovers the safe position limits of a channel by
// driving it into both mechanical stops at low speed and torque.
package calibrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/robot"
)

// State is a step of the calibration state machine.
type State int

const (
	Idle State = iota
	ProbingMin
	ProbingMax
	Computing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProbingMin:
		return "probing_min"
	case ProbingMax:
		return "probing_max"
	case Computing:
		return "computing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Bus is the part of a bus lease the engine drives. *bus.Lease satisfies it.
type Bus interface {
	Send(ctx context.Context, id int, cmd bus.Command) (bus.Ack, error)
	Query(ctx context.Context, id int) (bus.Feedback, error)
}

// Config tunes the probe.
type Config struct {
	ProbeSpeed       int
	ProbeTorqueLimit int
	ProbeMin         int // goal commanded while looking for the lower stop
	ProbeMax         int
	Epsilon          int           // largest position change still counted as stationary
	Debounce         time.Duration // how long the position must stay within Epsilon
	Poll             time.Duration
	MaxProbe         time.Duration // per direction
	MinSeparation    int

	// Limits restored once probing ends.
	RestoreTorqueLimit int
	Now                func() time.Time
}

// ConfigFrom builds the probe settings from the application config.
func ConfigFrom(c robot.CalibrationConfig) Config {
	return Config{
		ProbeSpeed:       c.ProbeSpeed,
		ProbeTorqueLimit: c.ProbeTorqueLimit,
		ProbeMin:         c.ProbeMin,
		ProbeMax:         c.ProbeMax,
		Epsilon:          c.Epsilon,
		Debounce:         c.Debounce(),
		Poll:             c.Poll(),
		MaxProbe:         c.MaxProbe(),
		MinSeparation:    c.MinSeparation,
	}
}

// Status reports the progress of the current or last calibration.
type Status struct {
	Channel int            `json:"channel"`
	State   State          `json:"state"`
	Samples int            `json:"samples"`
	Profile *robot.Profile `json:"profile,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Engine runs calibrations one channel at a time.
type Engine struct {
	bus   Bus
	model *robot.Model
	cfg   Config
	log   logrus.FieldLogger

	run    sync.Mutex // one calibration at a time
	mu     sync.RWMutex
	status Status
}

// New creates an engine commanding through b and recording into m.
func New(b Bus, m *robot.Model, cfg Config, log logrus.FieldLogger) *Engine {
	if cfg.Poll <= 0 {
		cfg.Poll = 20 * time.Millisecond
	}
	if cfg.RestoreTorqueLimit <= 0 {
		cfg.RestoreTorqueLimit = bus.MaxTorqueLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		bus:   b,
		model: m,
		cfg:   cfg,
		log:   log.WithField("component", "calibrate"),
	}
}

// Status returns the progress of the current or last calibration.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

func (e *Engine) setState(st State) {
	e.mu.Lock()
	e.status.State = st
	e.mu.Unlock()
	e.log.WithFields(logrus.Fields{"channel": e.status.Channel, "state": st}).Debug("calibration state")
}

func (e *Engine) addSamples(n int) {
	e.mu.Lock()
	e.status.Samples += n
	e.mu.Unlock()
}

// Run calibrates channel ch. Only ch is commanded. On success the new
// profile is applied to the model and the channel is parked at the middle
// of its range; on failure the previous limits stay in place and the
// channel returns to where it started.
func (e *Engine) Run(ctx context.Context, ch int) (robot.Profile, error) {
	if !robot.ValidChannel(ch) {
		return robot.Profile{}, &robot.UnknownChannelError{Channel: ch}
	}
	e.run.Lock()
	defer e.run.Unlock()

	e.mu.Lock()
	e.status = Status{Channel: ch, State: Idle}
	e.mu.Unlock()
	log := e.log.WithField("channel", ch)
	o := origin{}
	o.target, o.held = e.model.Target(ch)

	start, err := e.bus.Query(ctx, ch)
	if err != nil {
		return e.fail(ctx, ch, o, false, err)
	}
	o.position = start.Position
	e.model.IngestFeedback(start)
	log.WithField("position", start.Position).Info("calibration started")

	for _, cmd := range []bus.Command{
		bus.Speed(e.cfg.ProbeSpeed),
		bus.TorqueLimit(e.cfg.ProbeTorqueLimit),
		bus.Torque(true),
	} {
		if _, err := e.bus.Send(ctx, ch, cmd); err != nil {
			return e.fail(ctx, ch, o, true, err)
		}
	}
	e.model.SetEnabled(ch, true)

	e.setState(ProbingMin)
	lo, err := e.probe(ctx, ch, e.cfg.ProbeMin)
	if err != nil {
		return e.fail(ctx, ch, o, true, err)
	}
	e.setState(ProbingMax)
	hi, err := e.probe(ctx, ch, e.cfg.ProbeMax)
	if err != nil {
		return e.fail(ctx, ch, o, true, err)
	}

	e.setState(Computing)
	if hi <= lo || hi-lo < e.cfg.MinSeparation {
		return e.fail(ctx, ch, o, true, &Error{
			Channel: ch,
			Kind:    DegenerateRange,
			Detail:  fmt.Sprintf("range [%d, %d] narrower than %d", lo, hi, e.cfg.MinSeparation),
		})
	}

	p := robot.Profile{
		ServoID:      ch,
		Min:          lo,
		Max:          hi,
		ProbeSamples: e.Status().Samples,
		Timestamp:    e.cfg.Now(),
	}
	if err := e.model.ApplyCalibration(p); err != nil {
		return e.fail(ctx, ch, o, true, err)
	}

	if err := e.restore(ctx, ch, p.Mid(), false); err != nil {
		e.model.RestoreTarget(ch, o.target, o.held)
	}

	e.mu.Lock()
	e.status.State = Completed
	e.status.Profile = &p
	e.mu.Unlock()
	log.WithFields(logrus.Fields{"min": lo, "max": hi, "samples": p.ProbeSamples}).Info("calibration completed")
	return p, nil
}

// probe drives ch towards goal and returns the position at which it came to
// rest: feedback that stayed within Epsilon for the debounce window.
func (e *Engine) probe(ctx context.Context, ch, goal int) (int, error) {
	if _, err := e.bus.Send(ctx, ch, bus.Position(goal)); err != nil {
		return 0, err
	}
	e.model.SetProbeTarget(ch, goal)

	began := e.cfg.Now()
	var (
		anchor   int
		anchorAt time.Time
		anchored bool
	)
	ticker := time.NewTicker(e.cfg.Poll)
	defer ticker.Stop()

	for {
		fb, err := e.bus.Query(ctx, ch)
		if err != nil {
			return 0, err
		}
		e.model.IngestFeedback(fb)
		e.addSamples(1)

		now := e.cfg.Now()
		switch {
		case !anchored || abs(fb.Position-anchor) > e.cfg.Epsilon:
			anchor, anchorAt, anchored = fb.Position, now, true
		case now.Sub(anchorAt) >= e.cfg.Debounce:
			return fb.Position, nil
		}
		if now.Sub(began) >= e.cfg.MaxProbe {
			return 0, &Error{
				Channel: ch,
				Kind:    NoStallDetected,
				Detail:  fmt.Sprintf("no plateau towards %d within %s", goal, e.cfg.MaxProbe),
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// origin is where a channel stood before calibration touched it.
type origin struct {
	position int
	target   int
	held     bool // whether target was set
}

func (e *Engine) fail(ctx context.Context, ch int, o origin, moved bool, err error) (robot.Profile, error) {
	if moved {
		if rerr := e.restore(ctx, ch, o.position, true); rerr != nil {
			// The probe extreme is not a target anyone asked for.
			e.model.RestoreTarget(ch, o.target, o.held)
		}
	}
	e.mu.Lock()
	e.status.State = Failed
	e.status.Error = err.Error()
	e.mu.Unlock()
	e.log.WithField("channel", ch).Warnf("calibration failed: %v", err)
	return robot.Profile{}, err
}

// restore puts back normal speed and torque limits and sends the channel to
// park. It runs even when ctx was cancelled.
func (e *Engine) restore(ctx context.Context, ch, park int, probe bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	speed, _ := e.model.MotionLimits(ch)
	for _, cmd := range []bus.Command{
		bus.TorqueLimit(e.cfg.RestoreTorqueLimit),
		bus.Speed(speed),
		bus.Position(park),
	} {
		if _, err := e.bus.Send(ctx, ch, cmd); err != nil {
			e.log.WithField("channel", ch).Warnf("restore after calibration: %v", err)
			return err
		}
	}
	if probe {
		e.model.SetProbeTarget(ch, park)
	} else if err := e.model.SetTarget(ch, park); err != nil {
		e.log.WithField("channel", ch).Warnf("park target: %v", err)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
