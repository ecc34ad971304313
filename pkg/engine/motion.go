package engine

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/motion"
	"github.com/gwillem/dexhand/pkg/robot"
)

// RecordingStatus reports an active recording.
type RecordingStatus struct {
	ID        uuid.UUID   `json:"id"`
	Mode      motion.Mode `json:"mode"`
	Frames    int         `json:"frames"`
	ElapsedMS int64       `json:"elapsed_ms"`
}

// StartRecording opens a recording session. Real-time recordings sample
// feedback of every channel at rateHz; frame-based recordings capture a
// frame on each AppendFrame.
func (e *Engine) StartRecording(mode motion.Mode, rateHz int) error {
	opts := motion.RecorderOptions{
		Mode:    mode,
		RateHz:  rateHz,
		Sampler: motion.SamplerFunc(e.sample),
		Logger:  e.opts.Logger,
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.enter(Recording)
	if err != nil {
		return err
	}
	rec, err := motion.StartRecording(opts)
	if err != nil {
		e.leaveLocked(l)
		return err
	}
	e.recorder = rec
	return nil
}

// sample reads feedback from every channel and returns the resulting pose.
// Channels that do not answer keep their last known position.
func (e *Engine) sample(ctx context.Context) (robot.Pose, error) {
	err := e.PollFeedback(ctx)
	var be *bus.BroadcastError
	if err != nil && !(errors.As(err, &be) && len(be.Failures) < robot.NumChannels) {
		return robot.Pose{}, err
	}
	return e.model.Pose(), nil
}

// AppendFrame captures the current pose as a keyframe. With a nil offset
// the frame is stamped with the time elapsed since recording started.
func (e *Engine) AppendFrame(offsetMS *int64) (motion.Frame, error) {
	e.mu.Lock()
	rec := e.recorder
	active := e.mode == Recording
	e.mu.Unlock()
	if rec == nil || !active {
		return motion.Frame{}, motion.ErrNotRecording
	}
	pose := e.model.Pose()
	if offsetMS != nil {
		return rec.AppendAt(*offsetMS, pose)
	}
	return rec.Append(pose)
}

// StopRecording ends the recording session and returns the bus.
func (e *Engine) StopRecording() (*motion.Recording, error) {
	e.mu.Lock()
	rec, l := e.recorder, e.lease
	active := e.mode == Recording
	e.mu.Unlock()
	if rec == nil || !active {
		return nil, motion.ErrNotRecording
	}
	out, err := rec.Stop()
	e.leave(l)
	e.mu.Lock()
	if e.recorder == rec {
		e.recorder = nil
	}
	e.mu.Unlock()
	return out, err
}

// Play starts a playback session of rec. The playback servo profile is
// applied to every channel first.
func (e *Engine) Play(ctx context.Context, rec *motion.Recording, speed float64, repeat int) (*motion.Session, error) {
	if err := motion.CheckSpeed(speed); err != nil {
		return nil, err
	}
	if rec == nil || len(rec.Frames) == 0 {
		return nil, motion.ErrEmptyRecording
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	l, err := e.enter(Playback)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.applyPlaybackProfile(ctx, l)
	s, err := motion.Play(rec, e.playbackSink(l), motion.PlayOptions{
		Speed:  speed,
		Repeat: repeat,
		Logger: e.opts.Logger,
	})
	if err != nil {
		e.leave(l)
		return nil, err
	}

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	go func() {
		<-s.Done()
		e.leave(l)
	}()
	return s, nil
}

func (e *Engine) applyPlaybackProfile(ctx context.Context, l *bus.Lease) {
	p := e.opts.Playback
	ids := robot.AllChannels()
	type setting struct {
		name string
		cmd  bus.Command
		ok   func(id int)
	}
	settings := []setting{
		{"speed", bus.Speed(p.ServoSpeed), func(id int) {
			_, accel := e.model.MotionLimits(id)
			e.model.SetMotionLimits(id, p.ServoSpeed, accel)
		}},
		{"acceleration", bus.Acceleration(p.Acceleration), func(id int) {
			speed, _ := e.model.MotionLimits(id)
			e.model.SetMotionLimits(id, speed, p.Acceleration)
		}},
		{"torque limit", bus.TorqueLimit(p.TorqueLimit), func(int) {}},
	}
	for _, s := range settings {
		if s.cmd.Value <= 0 {
			continue
		}
		if err := e.broadcast(ctx, l, s.cmd, s.ok); err != nil {
			e.log.WithField("setting", s.name).Warnf("playback profile: %v", err)
		}
	}
	e.log.WithFields(logrus.Fields{
		"speed":        p.ServoSpeed,
		"acceleration": p.Acceleration,
		"torque_limit": p.TorqueLimit,
		"channels":     len(ids),
	}).Debug("playback profile applied")
}

// playbackSink commands frame targets through l. Targets outside a
// channel's calibrated limits are skipped and logged; the remaining
// channels are still commanded.
func (e *Engine) playbackSink(l *bus.Lease) motion.Sink {
	return motion.SinkFunc(func(ctx context.Context, frame int, targets map[int]int) error {
		var errs []error
		for _, id := range slices.Sorted(maps.Keys(targets)) {
			v := targets[id]
			if err := e.model.CheckTarget(id, v); err != nil {
				e.log.WithFields(logrus.Fields{"frame": frame, "channel": id}).Warnf("skipping target: %v", err)
				continue
			}
			if _, err := l.Send(ctx, id, bus.Position(v)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs = append(errs, err)
				continue
			}
			e.model.SetTarget(id, v)
		}
		return errors.Join(errs...)
	})
}

// playback returns the current or last session.
func (e *Engine) playback() (*motion.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrNoPlayback
	}
	return e.session, nil
}

// Pause freezes the playback cursor.
func (e *Engine) Pause() error {
	s, err := e.playback()
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume continues a paused playback.
func (e *Engine) Resume() error {
	s, err := e.playback()
	if err != nil {
		return err
	}
	return s.Resume()
}

// SeekTo jumps playback to the last frame at or before ms.
func (e *Engine) SeekTo(ms int64) error {
	s, err := e.playback()
	if err != nil {
		return err
	}
	return s.SeekTo(ms)
}

// SetPlaybackSpeed changes the speed factor of the running playback.
func (e *Engine) SetPlaybackSpeed(f float64) error {
	s, err := e.playback()
	if err != nil {
		return err
	}
	return s.SetSpeed(f)
}

// StopPlayback stops the playback session and returns the bus. No further
// target is sent once it returns.
func (e *Engine) StopPlayback() error {
	s, err := e.playback()
	if err != nil {
		return err
	}
	s.Stop()
	e.mu.Lock()
	l := e.lease
	mode := e.mode
	e.mu.Unlock()
	if mode == Playback {
		e.leave(l)
	}
	return nil
}
