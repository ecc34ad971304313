package gesture

import (
	"math"
	"sort"
	"sync"

	"github.com/gwillem/dexhand/pkg/robot"
)

// Limits supplies the calibrated range of a channel. *robot.Model
// satisfies it.
type Limits interface {
	Limits(id int) (robot.Profile, bool)
}

// Result is the outcome of mapping one landmark frame.
type Result struct {
	Targets map[int]int   // channel -> position, clamped to calibrated limits
	Skipped []int         // channels with missing or low-confidence landmarks
	Errors  map[int]error // per-channel *MappingError
}

// Mapper turns landmark frames into channel targets. Smoothing state is
// kept per channel across frames until Reset.
type Mapper struct {
	profile Profile
	limits  Limits

	mu   sync.Mutex
	prev map[int]float64
}

// NewMapper validates p and returns a mapper reading limits from l.
func NewMapper(p Profile, l Limits) (*Mapper, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{profile: p, limits: l, prev: make(map[int]float64)}, nil
}

// Profile returns the mapping profile in use.
func (m *Mapper) Profile() Profile { return m.profile }

// Reset drops all smoothing state; the next frame starts fresh lineages.
func (m *Mapper) Reset() {
	m.mu.Lock()
	m.prev = make(map[int]float64)
	m.mu.Unlock()
}

// MapFrame maps one observation. Uncalibrated channels get a
// *MappingError and no target; channels whose landmarks are missing or
// below the confidence threshold are skipped and keep their smoothing
// state untouched.
func (m *Mapper) MapFrame(landmarks []Landmark) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{
		Targets: make(map[int]int, len(m.profile.Channels)),
		Errors:  make(map[int]error),
	}
	for _, c := range m.profile.Channels {
		lim, ok := m.limits.Limits(c.Channel)
		if !ok {
			res.Errors[c.Channel] = &MappingError{Channel: c.Channel, Kind: Uncalibrated}
			continue
		}
		angle, ok := m.feature(c, landmarks)
		if !ok {
			res.Skipped = append(res.Skipped, c.Channel)
			continue
		}

		raw := scale(c, lim, angle)
		smoothed := raw
		if prev, ok := m.prev[c.Channel]; ok {
			smoothed = c.Smoothing*raw + (1-c.Smoothing)*prev
		}
		m.prev[c.Channel] = smoothed

		pos := int(math.Round(smoothed))
		res.Targets[c.Channel] = max(lim.Min, min(lim.Max, pos))
	}
	sort.Ints(res.Skipped)
	return res
}

func (m *Mapper) feature(c ChannelMapping, landmarks []Landmark) (float64, bool) {
	var pts [3]vec
	for i, idx := range c.Landmarks {
		if idx >= len(landmarks) {
			return 0, false
		}
		l := landmarks[idx]
		if l.Confidence < m.profile.MinConfidence || !l.finite() {
			return 0, false
		}
		pts[i] = l.vec()
	}
	switch c.Feature {
	case Flexion:
		a, ok := angleAt(pts[0], pts[1], pts[2])
		return 180 - a, ok
	case Spread:
		return angleAt(pts[1], pts[0], pts[2])
	case Roll:
		return palmRoll(pts[0], pts[1], pts[2])
	}
	return 0, false
}

// scale maps angle from the source range onto the calibrated range and
// applies sensitivity around the range centre.
func scale(c ChannelMapping, lim robot.Profile, angle float64) float64 {
	ratio := (angle - c.SourceMin) / (c.SourceMax - c.SourceMin)
	ratio = math.Max(0, math.Min(1, ratio))
	if c.Invert {
		ratio = 1 - ratio
	}
	lo, hi := float64(lim.Min), float64(lim.Max)
	centre := (lo + hi) / 2
	v := lo + ratio*(hi-lo)
	return centre + (v-centre)*c.Sensitivity
}
