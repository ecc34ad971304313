package robot

import (
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/dexhand/pkg/bus"
)

// DefaultFreshness is how long a feedback reading counts as current.
const DefaultFreshness = 250 * time.Millisecond

// Reading is the last feedback received for a channel.
type Reading struct {
	Channel  int       `json:"channel"`
	Position int       `json:"position"`
	Speed    int       `json:"speed"`
	Load     int       `json:"load"`
	At       time.Time `json:"at"`
	Stale    bool      `json:"stale"`
}

// ChannelSnapshot is a read-only copy of one channel's state.
type ChannelSnapshot struct {
	ID          int         `json:"id"`
	Name        ChannelName `json:"name"`
	Target      *int        `json:"target"`
	Feedback    Reading     `json:"feedback"`
	Enabled     bool        `json:"enabled"`
	Calibration *Profile    `json:"calibration,omitempty"`
	SpeedLimit  int         `json:"speed_limit"`
	AccelLimit  int         `json:"accel_limit"`
}

type channelState struct {
	target    int
	hasTarget bool
	feedback  bus.Feedback
	enabled   bool
	profile   *Profile
	speed     int
	accel     int
}

// ModelOptions configures a Model.
type ModelOptions struct {
	Freshness  time.Duration
	SpeedLimit int
	AccelLimit int
	Now        func() time.Time
}

// Model is the in-memory state of all channels. It never talks to hardware:
// callers commit targets after the bus acknowledged them and push feedback
// from bus queries.
type Model struct {
	mu        sync.RWMutex
	channels  [NumChannels]channelState
	freshness time.Duration
	now       func() time.Time
}

// NewModel creates a model with every channel uncalibrated and disabled.
func NewModel(opts ModelOptions) *Model {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Model{freshness: opts.Freshness, now: opts.Now}
	for i := range m.channels {
		m.channels[i].speed = opts.SpeedLimit
		m.channels[i].accel = opts.AccelLimit
	}
	return m
}

func (m *Model) channel(id int) (*channelState, error) {
	if !ValidChannel(id) {
		return nil, unknownChannel(id)
	}
	return &m.channels[id-1], nil
}

// CheckTarget validates value against the channel's calibrated limits
// without changing state. Uncalibrated channels accept any value.
func (m *Model) CheckTarget(id, value int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	return checkRange(id, ch, value)
}

func checkRange(id int, ch *channelState, value int) error {
	if ch.profile != nil && !ch.profile.Contains(value) {
		return &OutOfRangeError{Channel: id, Value: value, Min: ch.profile.Min, Max: ch.profile.Max}
	}
	return nil
}

// SetTarget records a commanded target. It fails with *OutOfRangeError if
// the channel is calibrated and value lies outside its limits.
func (m *Model) SetTarget(id, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	if err := checkRange(id, ch, value); err != nil {
		return err
	}
	ch.target, ch.hasTarget = value, true
	return nil
}

// SetProbeTarget records a calibration probe target, which may lie outside
// the current limits.
func (m *Model) SetProbeTarget(id, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	ch.target, ch.hasTarget = value, true
	return nil
}

// RestoreTarget puts back a target saved with Target, or clears it when
// held is false. A calibrated channel keeps its target within limits.
func (m *Model) RestoreTarget(id, value int, held bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	if held && ch.profile != nil {
		value = max(ch.profile.Min, min(ch.profile.Max, value))
	}
	ch.target, ch.hasTarget = value, held
	return nil
}

// Target returns the last commanded target of a channel.
func (m *Model) Target(id int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	if err != nil {
		return 0, false
	}
	return ch.target, ch.hasTarget
}

// IngestFeedback stores a feedback reading. Readings older than the one
// already held are discarded; it reports whether fb was kept.
func (m *Model) IngestFeedback(fb bus.Feedback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(fb.Channel)
	if err != nil {
		return false
	}
	if fb.At.Before(ch.feedback.At) {
		return false
	}
	ch.feedback = fb
	return true
}

// Feedback returns the last reading of a channel, flagged stale when it is
// older than the freshness window or was never received.
func (m *Model) Feedback(id int) (Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	if err != nil {
		return Reading{}, err
	}
	return m.reading(id, ch), nil
}

func (m *Model) reading(id int, ch *channelState) Reading {
	fb := ch.feedback
	return Reading{
		Channel:  id,
		Position: fb.Position,
		Speed:    fb.Speed,
		Load:     fb.Load,
		At:       fb.At,
		Stale:    fb.At.IsZero() || m.now().Sub(fb.At) > m.freshness,
	}
}

// SetEnabled records the torque-enable state of a channel.
func (m *Model) SetEnabled(id int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	ch.enabled = on
	return nil
}

// Enabled reports whether torque is enabled on a channel.
func (m *Model) Enabled(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	return err == nil && ch.enabled
}

// ApplyCalibration installs p as the channel's limits, replacing any previous
// profile. A held target outside the new range is pulled to the nearest limit.
func (m *Model) ApplyCalibration(p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(p.ServoID)
	if err != nil {
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("channel %d: invalid limits [%d, %d]", p.ServoID, p.Min, p.Max)
	}
	ch.profile = &p
	if ch.hasTarget {
		ch.target = max(p.Min, min(p.Max, ch.target))
	}
	return nil
}

// Limits returns the calibration profile of a channel.
func (m *Model) Limits(id int) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	if err != nil || ch.profile == nil {
		return Profile{}, false
	}
	return *ch.profile, true
}

// Calibration returns the profiles of all calibrated channels.
func (m *Model) Calibration() Calibration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cal := make(Calibration)
	for i, ch := range m.channels {
		if ch.profile != nil {
			cal[i+1] = *ch.profile
		}
	}
	return cal
}

// SetMotionLimits records the speed and acceleration limits of a channel.
func (m *Model) SetMotionLimits(id, speed, accel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(id)
	if err != nil {
		return err
	}
	ch.speed, ch.accel = speed, accel
	return nil
}

// MotionLimits returns the speed and acceleration limits of a channel.
func (m *Model) MotionLimits(id int) (speed, accel int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, err := m.channel(id)
	if err != nil {
		return 0, 0
	}
	return ch.speed, ch.accel
}

// Pose returns the best known position of every channel: fresh feedback
// where available, otherwise the commanded target, otherwise the last
// feedback seen.
func (m *Model) Pose() Pose {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var p Pose
	for i := range m.channels {
		ch := &m.channels[i]
		r := m.reading(i+1, ch)
		switch {
		case !r.Stale:
			p[i] = r.Position
		case ch.hasTarget:
			p[i] = ch.target
		default:
			p[i] = r.Position
		}
	}
	return p
}

// Snapshot copies the state of every channel.
func (m *Model) Snapshot() []ChannelSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelSnapshot, NumChannels)
	for i := range m.channels {
		ch := &m.channels[i]
		id := i + 1
		s := ChannelSnapshot{
			ID:         id,
			Name:       Name(id),
			Feedback:   m.reading(id, ch),
			Enabled:    ch.enabled,
			SpeedLimit: ch.speed,
			AccelLimit: ch.accel,
		}
		if ch.hasTarget {
			t := ch.target
			s.Target = &t
		}
		if ch.profile != nil {
			p := *ch.profile
			s.Calibration = &p
		}
		out[i] = s
	}
	return out
}
