package motion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/robot"
)

// Speed factor bounds for playback.
const (
	MinSpeed = 0.1
	MaxSpeed = 5.0
)

// CheckSpeed rejects a speed factor outside [MinSpeed, MaxSpeed].
func CheckSpeed(f float64) error {
	if !(f >= MinSpeed && f <= MaxSpeed) {
		return &InvalidSpeedError{Speed: f}
	}
	return nil
}

// Sink receives the channel targets of a frame when it is due. targets maps
// channel ID to position and only holds channels that need a new command.
type Sink interface {
	WriteTargets(ctx context.Context, frame int, targets map[int]int) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, frame int, targets map[int]int) error

func (f SinkFunc) WriteTargets(ctx context.Context, frame int, targets map[int]int) error {
	return f(ctx, frame, targets)
}

// SessionState is the lifecycle state of a playback session.
type SessionState int

const (
	Playing SessionState = iota
	Paused
	Finished // reached the end
	Stopped  // stopped by the caller
)

func (s SessionState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the session can no longer be driven.
func (s SessionState) Terminal() bool { return s == Finished || s == Stopped }

// PlayOptions configures a playback session.
type PlayOptions struct {
	Speed  float64
	Repeat int // number of passes, default 1
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// SessionStatus is a snapshot of playback progress.
type SessionStatus struct {
	ID          uuid.UUID    `json:"id"`
	RecordingID uuid.UUID    `json:"recording_id"`
	State       SessionState `json:"state"`
	Speed       float64      `json:"speed"`
	CursorMS    int64        `json:"cursor_ms"`
	DurationMS  int64        `json:"duration_ms"`
	NextFrame   int          `json:"next_frame"`
	Frames      int          `json:"frames"`
	Pass        int          `json:"pass"`
	Repeat      int          `json:"repeat"`
	Errors      int          `json:"errors"`
}

// Session replays one recording. A scheduler goroutine maps a virtual
// cursor onto wall-clock deadlines:
//
//	cursor(now)    = anchorCursor + (now - anchorWall) * speed
//	deadline(off)  = anchorWall + (off - anchorCursor) / speed
//
// Pause, seek and speed changes only move the anchors. Frames are issued
// while holding mu, so once Pause or Stop returns no further command for
// the session reaches the sink.
type Session struct {
	id   uuid.UUID
	rec  *Recording
	sink Sink
	log  logrus.FieldLogger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu           sync.Mutex
	state        SessionState
	speed        float64
	anchorWall   time.Time
	anchorCursor float64 // ms
	next         int
	pass         int
	repeat       int
	last         robot.Pose
	sent         [robot.NumChannels]bool
	errors       int
}

// Play starts replaying rec into sink.
func Play(rec *Recording, sink Sink, opts PlayOptions) (*Session, error) {
	if rec == nil || len(rec.Frames) == 0 {
		return nil, ErrEmptyRecording
	}
	if err := CheckSpeed(opts.Speed); err != nil {
		return nil, err
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.New(),
		rec:    rec,
		sink:   sink,
		now:    opts.Now,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		state:  Playing,
		speed:  opts.Speed,
		repeat: opts.Repeat,
	}
	s.log = opts.Logger.WithFields(logrus.Fields{"component": "player", "session": s.id})
	s.anchorWall = s.now()

	s.log.WithFields(logrus.Fields{
		"recording": rec.ID,
		"frames":    len(rec.Frames),
		"speed":     opts.Speed,
	}).Info("playback started")
	go s.run()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns a snapshot of playback progress.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		ID:          s.id,
		RecordingID: s.rec.ID,
		State:       s.state,
		Speed:       s.speed,
		CursorMS:    int64(s.cursor(s.now())),
		DurationMS:  s.rec.DurationMS,
		NextFrame:   s.next,
		Frames:      len(s.rec.Frames),
		Pass:        s.pass + 1,
		Repeat:      s.repeat,
		Errors:      s.errors,
	}
}

// Pause freezes the cursor. Last commanded targets stay in place.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Paused:
		return nil
	case Finished, Stopped:
		return ErrSessionFinished
	}
	s.anchorCursor = s.cursor(s.now())
	s.state = Paused
	s.log.WithField("cursor_ms", int64(s.anchorCursor)).Debug("playback paused")
	return nil
}

// Resume continues from the frozen cursor.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Playing:
		return nil
	case Finished, Stopped:
		return ErrSessionFinished
	}
	s.anchorWall = s.now()
	s.state = Playing
	s.signal()
	s.log.WithField("cursor_ms", int64(s.anchorCursor)).Debug("playback resumed")
	return nil
}

// SeekTo moves the cursor to the last frame at or before ms and issues that
// frame's targets once. A paused session stays paused.
func (s *Session) SeekTo(ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrSessionFinished
	}
	idx := s.rec.FrameAt(ms)
	s.issue(idx, true)
	s.next = idx + 1
	s.anchorCursor = float64(s.rec.Frames[idx].OffsetMS)
	s.anchorWall = s.now()
	s.signal()
	s.log.WithFields(logrus.Fields{"requested_ms": ms, "frame": idx}).Debug("playback seek")
	return nil
}

// SetSpeed changes the speed factor without moving the cursor.
func (s *Session) SetSpeed(f float64) error {
	if err := CheckSpeed(f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrSessionFinished
	}
	now := s.now()
	s.anchorCursor = s.cursor(now)
	s.anchorWall = now
	s.speed = f
	s.signal()
	return nil
}

// Stop ends the session and waits for the scheduler to exit. It is safe to
// call on a finished session.
func (s *Session) Stop() {
	s.cancel()
	s.mu.Lock()
	if !s.state.Terminal() {
		s.anchorCursor = s.cursor(s.now())
		s.state = Stopped
		s.log.Info("playback stopped")
	}
	s.mu.Unlock()
	<-s.done
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// cursor returns the virtual playback position in ms. Callers hold mu.
func (s *Session) cursor(now time.Time) float64 {
	c := s.anchorCursor
	if s.state == Playing {
		c += float64(now.Sub(s.anchorWall)) / float64(time.Millisecond) * s.speed
	}
	return min(max(c, 0), float64(s.rec.DurationMS))
}

// deadline returns the wall-clock time at which offset is due. Callers hold mu.
func (s *Session) deadline(offset int64) time.Time {
	ms := (float64(offset) - s.anchorCursor) / s.speed
	return s.anchorWall.Add(time.Duration(ms * float64(time.Millisecond)))
}

func (s *Session) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.state.Terminal() {
			s.mu.Unlock()
			return
		}
		if s.state == Paused {
			s.mu.Unlock()
			if !s.sleep(nil) {
				return
			}
			continue
		}

		if s.next >= len(s.rec.Frames) {
			if s.pass+1 < s.repeat {
				s.pass++
				s.next = 0
				s.anchorCursor = 0
				s.anchorWall = s.now()
				s.mu.Unlock()
				continue
			}
			s.anchorCursor = float64(s.rec.DurationMS)
			s.state = Finished
			s.mu.Unlock()
			s.log.Info("playback finished")
			return
		}

		now := s.now()
		due := s.deadline(s.rec.Frames[s.next].OffsetMS)
		if !now.Before(due) {
			s.issue(s.next, s.next == 0)
			s.next++
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		timer.Reset(due.Sub(now))
		if !s.sleep(timer.C) {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// sleep waits for the timer, a wake signal or cancellation. It returns
// false when the session was cancelled.
func (s *Session) sleep(timer <-chan time.Time) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-s.wake:
	case <-timer:
	}
	return true
}

// issue hands frame idx to the sink. Channels whose target equals the last
// one sent are left out unless force is set. Callers hold mu.
func (s *Session) issue(idx int, force bool) {
	pose := s.rec.Frames[idx].Positions
	targets := make(map[int]int, robot.NumChannels)
	for i, v := range pose {
		if !force && s.sent[i] && s.last[i] == v {
			continue
		}
		targets[i+1] = v
	}
	if len(targets) == 0 {
		return
	}

	err := s.sink.WriteTargets(s.ctx, idx, targets)
	for id, v := range targets {
		s.last[id-1] = v
		s.sent[id-1] = err == nil
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.errors++
		s.log.WithField("frame", idx).Warnf("playback write failed: %v", err)
	}
}
