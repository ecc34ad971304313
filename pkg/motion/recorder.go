package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/robot"
)

// Sampler reads the current full-hand pose.
type Sampler interface {
	Sample(ctx context.Context) (robot.Pose, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (robot.Pose, error)

func (f SamplerFunc) Sample(ctx context.Context) (robot.Pose, error) { return f(ctx) }

// RecorderOptions configures a recording session.
type RecorderOptions struct {
	Mode    Mode
	RateHz  int     // RealTime only
	Sampler Sampler // required for RealTime
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Recorder captures one recording. Frame-based recorders take frames from
// Append; real-time recorders sample the pose themselves until Stop.
type Recorder struct {
	id      uuid.UUID
	mode    Mode
	rate    int
	sampler Sampler
	log     logrus.FieldLogger
	now     func() time.Time
	started time.Time

	mu      sync.Mutex
	frames  []Frame
	stopped bool
	skipped int

	cancel context.CancelFunc
	done   chan struct{}
}

// Validate checks the mode and, for real-time recordings, the rate and
// sampler.
func (o RecorderOptions) Validate() error {
	switch o.Mode {
	case FrameBased:
	case RealTime:
		if o.RateHz < MinRateHz || o.RateHz > MaxRateHz {
			return fmt.Errorf("%w: %d Hz outside [%d, %d]", ErrInvalidRate, o.RateHz, MinRateHz, MaxRateHz)
		}
		if o.Sampler == nil {
			return fmt.Errorf("real-time recording needs a sampler")
		}
	default:
		return fmt.Errorf("unknown recording mode %q", o.Mode)
	}
	return nil
}

// StartRecording begins a recording session.
func StartRecording(opts RecorderOptions) (*Recorder, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		id:      uuid.New(),
		mode:    opts.Mode,
		rate:    opts.RateHz,
		sampler: opts.Sampler,
		now:     opts.Now,
		started: opts.Now(),
		done:    make(chan struct{}),
	}
	r.log = opts.Logger.WithFields(logrus.Fields{"component": "recorder", "recording": r.id})

	if r.mode == RealTime {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		go r.loop(ctx)
		r.log.WithField("rate_hz", r.rate).Info("real-time recording started")
	} else {
		close(r.done)
		r.log.Info("frame-based recording started")
	}
	return r, nil
}

// ID returns the identifier the finished recording will carry.
func (r *Recorder) ID() uuid.UUID { return r.id }

// Mode returns the recording mode.
func (r *Recorder) Mode() Mode { return r.mode }

// Elapsed returns the time since recording started.
func (r *Recorder) Elapsed() time.Duration { return r.now().Sub(r.started) }

// Len returns the number of frames captured so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Append adds a keyframe stamped with the elapsed time since the start,
// bumped past the previous frame when the clock has not advanced.
func (r *Recorder) Append(pose robot.Pose) (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.appendable(); err != nil {
		return Frame{}, err
	}
	offset := r.now().Sub(r.started).Milliseconds()
	if n := len(r.frames); n > 0 && offset <= r.frames[n-1].OffsetMS {
		offset = r.frames[n-1].OffsetMS + 1
	}
	return r.add(offset, pose), nil
}

// AppendAt adds a keyframe at an explicit offset, which must exceed the
// previous frame's.
func (r *Recorder) AppendAt(offsetMS int64, pose robot.Pose) (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.appendable(); err != nil {
		return Frame{}, err
	}
	if offsetMS < 0 {
		return Frame{}, &FrameOrderingError{Frame: len(r.frames), Offset: offsetMS, Previous: -1}
	}
	if n := len(r.frames); n > 0 && offsetMS <= r.frames[n-1].OffsetMS {
		return Frame{}, &FrameOrderingError{Frame: n, Offset: offsetMS, Previous: r.frames[n-1].OffsetMS}
	}
	return r.add(offsetMS, pose), nil
}

func (r *Recorder) appendable() error {
	if r.stopped {
		return ErrNotRecording
	}
	if r.mode != FrameBased {
		return fmt.Errorf("%w: append-frame needs %s mode", ErrWrongMode, FrameBased)
	}
	return nil
}

func (r *Recorder) add(offset int64, pose robot.Pose) Frame {
	f := Frame{OffsetMS: offset, Positions: pose}
	r.frames = append(r.frames, f)
	r.log.WithFields(logrus.Fields{"frame": len(r.frames) - 1, "offset_ms": offset}).Debug("frame added")
	return f
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(time.Second / time.Duration(r.rate))
	defer ticker.Stop()

	r.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample(ctx)
		}
	}
}

// sample appends one frame stamped with the observed elapsed time. A tick
// whose sample fails or lands on the previous millisecond is dropped.
func (r *Recorder) sample(ctx context.Context) {
	pose, err := r.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warnf("sample failed: %v", err)
		}
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return
	}
	offset := r.now().Sub(r.started).Milliseconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if n := len(r.frames); n > 0 && offset <= r.frames[n-1].OffsetMS {
		r.skipped++
		return
	}
	r.add(offset, pose)
}

// Stop ends the session and returns the finalized recording. No frame is
// captured after Stop returns.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.stopped = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &Recording{
		ID:        r.id,
		Mode:      r.mode,
		Frames:    append([]Frame(nil), r.frames...),
		CreatedAt: r.started,
	}
	if r.mode == RealTime {
		rec.SampleRateHz = r.rate
	}
	if n := len(rec.Frames); n > 0 {
		rec.DurationMS = rec.Frames[n-1].OffsetMS
	}
	r.log.WithFields(logrus.Fields{
		"frames":      len(rec.Frames),
		"duration_ms": rec.DurationMS,
		"skipped":     r.skipped,
	}).Info("recording stopped")
	if len(rec.Frames) == 0 {
		return nil, ErrEmptyRecording
	}
	return rec, nil
}
