// Package engine is the single entry point for driving the hand. It owns
// the bus lease and hands it to exactly one operating mode at a time:
// calibration, recording, playback or mirroring. Starting a mode while
// another one runs fails with bus.ErrModeConflict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/calibrate"
	"github.com/gwillem/dexhand/pkg/gesture"
	"github.com/gwillem/dexhand/pkg/motion"
	"github.com/gwillem/dexhand/pkg/robot"
)

// Mode is the operating mode holding the bus.
type Mode string

const (
	Idle        Mode = "idle"
	Calibrating Mode = "calibrating"
	Recording   Mode = "recording"
	Playback    Mode = "playback"
	Mirroring   Mode = "mirroring"
)

// manual is the requester name reported when a direct command is refused.
const manual = "manual"

// Options configures an Engine.
type Options struct {
	Calibration     calibrate.Config
	CalibrationFile string // profiles are saved here after each successful calibration; empty disables
	Playback        robot.PlaybackConfig
	Gesture         gesture.Profile
	MonitorInterval time.Duration // background feedback poll period; zero disables it
	Logger          logrus.FieldLogger
}

// OptionsFrom builds engine options from the application config, loading
// the gesture profile file when one is configured.
func OptionsFrom(cfg *robot.Config, log logrus.FieldLogger) (Options, error) {
	profile := gesture.DefaultProfile()
	if cfg.Gesture.Profile != "" {
		p, err := gesture.LoadProfile(cfg.Gesture.Profile)
		if err != nil {
			return Options{}, err
		}
		profile = p
	} else {
		profile.MinConfidence = cfg.Gesture.MinConfidence
	}
	return Options{
		Calibration:     calibrate.ConfigFrom(cfg.Calibration),
		CalibrationFile: cfg.Calibration.File,
		Playback:        cfg.Playback,
		Gesture:         profile,
		MonitorInterval: cfg.Channels.MonitorInterval(),
		Logger:          log,
	}, nil
}

// Engine is the engine-facing API of the hand. All methods are safe for
// concurrent use.
type Engine struct {
	t      *bus.Transport
	model  *robot.Model
	opts   Options
	log    logrus.FieldLogger
	mapper *gesture.Mapper
	hand   *robot.Hand // set by Open, closed by Close
	mon    *monitor

	mu    sync.Mutex
	mode  Mode
	lease *bus.Lease

	calib    *calibration
	recorder *motion.Recorder
	session  *motion.Session
	mirror   *mirrorState
}

// New creates an engine on an open transport and model. The engine takes
// the transport's lease immediately and keeps it for its whole lifetime.
func New(t *bus.Transport, m *robot.Model, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	mapper, err := gesture.NewMapper(opts.Gesture, m)
	if err != nil {
		return nil, fmt.Errorf("gesture profile: %w", err)
	}
	lease, err := t.Acquire(string(Idle))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		t:      t,
		model:  m,
		opts:   opts,
		log:    opts.Logger.WithField("component", "engine"),
		mapper: mapper,
		mode:   Idle,
		lease:  lease,
	}
	if opts.MonitorInterval > 0 {
		e.mon = e.startMonitor(opts.MonitorInterval)
	}
	return e, nil
}

// Open connects to the hand described by cfg and returns an engine that
// owns the connection.
func Open(cfg *robot.Config, log logrus.FieldLogger) (*Engine, error) {
	opts, err := OptionsFrom(cfg, log)
	if err != nil {
		return nil, err
	}
	h, err := robot.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	e, err := New(h.Transport, h.Model, opts)
	if err != nil {
		h.Close()
		return nil, err
	}
	e.hand = h
	return e, nil
}

// Hand returns the connection opened by Open, or nil.
func (e *Engine) Hand() *robot.Hand { return e.hand }

// Model returns the channel state model.
func (e *Engine) Model() *robot.Model { return e.model }

// Mode returns the active operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// enter hands the bus to mode. The idle lease is released first, which
// waits for in-flight direct commands. Callers hold mu.
func (e *Engine) enter(mode Mode) (*bus.Lease, error) {
	if e.mode != Idle {
		return nil, &bus.ConflictError{Holder: string(e.mode), Requested: string(mode)}
	}
	if e.lease != nil {
		e.lease.Release()
		e.lease = nil
	}
	l, err := e.t.Acquire(string(mode))
	if err != nil {
		e.lease, _ = e.t.Acquire(string(Idle))
		return nil, err
	}
	e.lease, e.mode = l, mode
	e.log.WithField("mode", mode).Info("mode started")
	return l, nil
}

// leave returns the bus to idle if l is still the active lease.
func (e *Engine) leave(l *bus.Lease) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaveLocked(l)
}

func (e *Engine) leaveLocked(l *bus.Lease) {
	if e.lease != l {
		return
	}
	mode := e.mode
	l.Release()
	idle, err := e.t.Acquire(string(Idle))
	if err != nil {
		e.log.Errorf("reacquire bus: %v", err)
	}
	e.lease, e.mode = idle, Idle
	e.log.WithField("mode", mode).Info("mode ended")
}

// commandLease returns the lease direct commands go through. They are
// allowed while idle and during recording, so a frame-based recording can
// pose the hand between frames.
func (e *Engine) commandLease() (*bus.Lease, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.mode != Idle && e.mode != Recording:
		return nil, &bus.ConflictError{Holder: string(e.mode), Requested: manual}
	case e.lease == nil:
		return nil, ErrBusUnavailable
	}
	return e.lease, nil
}

// Channels returns the state of all 17 channels.
func (e *Engine) Channels() []robot.ChannelSnapshot {
	return e.model.Snapshot()
}

// SetTarget commands channel id to value. Calibrated channels reject values
// outside their limits before anything is sent.
func (e *Engine) SetTarget(ctx context.Context, id, value int) error {
	if err := e.model.CheckTarget(id, value); err != nil {
		return err
	}
	l, err := e.commandLease()
	if err != nil {
		return err
	}
	if _, err := l.Send(ctx, id, bus.Position(value)); err != nil {
		return err
	}
	return e.model.SetTarget(id, value)
}

// SetEnabled switches holding torque of one channel.
func (e *Engine) SetEnabled(ctx context.Context, id int, on bool) error {
	if !robot.ValidChannel(id) {
		return e.model.SetEnabled(id, on)
	}
	l, err := e.commandLease()
	if err != nil {
		return err
	}
	if _, err := l.Send(ctx, id, bus.Torque(on)); err != nil {
		return err
	}
	return e.model.SetEnabled(id, on)
}

// SetAllEnabled switches holding torque of every channel. Channels that
// failed are listed in the returned *bus.BroadcastError; the others are
// switched.
func (e *Engine) SetAllEnabled(ctx context.Context, on bool) error {
	l, err := e.commandLease()
	if err != nil {
		return err
	}
	return e.broadcast(ctx, l, bus.Torque(on), func(id int) { e.model.SetEnabled(id, on) })
}

func (e *Engine) broadcast(ctx context.Context, l *bus.Lease, cmd bus.Command, ok func(id int)) error {
	err := l.Broadcast(ctx, robot.AllChannels(), cmd)
	var be *bus.BroadcastError
	if err != nil && !errors.As(err, &be) {
		return err
	}
	for _, id := range robot.AllChannels() {
		if be != nil && be.Failures[id] != nil {
			continue
		}
		ok(id)
	}
	return err
}

// Ping returns the channels whose servo answers.
func (e *Engine) Ping(ctx context.Context) []int {
	var alive []int
	for _, id := range robot.AllChannels() {
		if err := e.t.Ping(ctx, id); err == nil {
			alive = append(alive, id)
		}
	}
	return alive
}

// PollFeedback reads every channel once and feeds the model. Channels that
// did not answer are reported in the returned error.
func (e *Engine) PollFeedback(ctx context.Context) error {
	failures := make(map[int]error)
	for _, id := range robot.AllChannels() {
		fb, err := e.t.Query(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures[id] = err
			continue
		}
		e.model.IngestFeedback(fb)
	}
	if len(failures) > 0 {
		return &bus.BroadcastError{Failures: failures}
	}
	return nil
}

// Status is the snapshot returned to collaborators: channel state plus the
// progress of the running or last finished mode.
type Status struct {
	Mode        Mode                    `json:"mode"`
	Channels    []robot.ChannelSnapshot `json:"channels"`
	Calibration []calibrate.Status      `json:"calibration,omitempty"`
	Recording   *RecordingStatus        `json:"recording,omitempty"`
	Playback    *motion.SessionStatus   `json:"playback,omitempty"`
	Mirroring   *MirrorStatus           `json:"mirroring,omitempty"`
}

// Snapshot returns the current state of the hand and its modes.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	st := Status{Mode: e.mode}
	calib, rec, sess, mir := e.calib, e.recorder, e.session, e.mirror
	e.mu.Unlock()

	st.Channels = e.model.Snapshot()
	if calib != nil {
		st.Calibration = calib.statuses()
	}
	if rec != nil {
		st.Recording = &RecordingStatus{
			ID:        rec.ID(),
			Mode:      rec.Mode(),
			Frames:    rec.Len(),
			ElapsedMS: rec.Elapsed().Milliseconds(),
		}
	}
	if sess != nil {
		ps := sess.Status()
		st.Playback = &ps
	}
	if mir != nil {
		ms := mir.status()
		st.Mirroring = &ms
	}
	return st
}

// Close stops the running mode and, for engines created by Open, closes
// the bus connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	mode := e.mode
	e.mu.Unlock()

	switch mode {
	case Calibrating:
		e.StopCalibration()
	case Recording:
		if _, err := e.StopRecording(); err != nil && !errors.Is(err, motion.ErrEmptyRecording) {
			e.log.Warnf("stop recording: %v", err)
		}
	case Playback:
		e.StopPlayback()
	case Mirroring:
		e.StopMirroring()
	}

	if e.mon != nil {
		e.mon.stop()
		e.mon = nil
	}

	e.mu.Lock()
	if e.lease != nil {
		e.lease.Release()
		e.lease = nil
	}
	e.mu.Unlock()

	if e.hand != nil {
		return e.hand.Close()
	}
	return nil
}
