// Package motion records full-hand poses and plays them back with their
// original timing, scaled by a speed factor.
package motion

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/dexhand/pkg/robot"
)

// Mode selects how a recording captures frames.
type Mode string

const (
	FrameBased Mode = "frame"    // caller appends keyframes
	RealTime   Mode = "realtime" // pose sampled at a fixed rate
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case FrameBased, RealTime:
		return m, nil
	}
	return "", fmt.Errorf("unknown recording mode %q", s)
}

// Sample rate bounds for real-time recording.
const (
	MinRateHz     = 1
	MaxRateHz     = 100
	DefaultRateHz = 20
)

// Frame is one full-hand pose at an offset from the start of a recording.
type Frame struct {
	OffsetMS  int64      `json:"offset_ms"`
	Positions robot.Pose `json:"positions"`
}

// Recording is a finalized motion sequence. It is not modified after the
// recorder hands it out.
type Recording struct {
	ID           uuid.UUID
	Mode         Mode
	SampleRateHz int // RealTime only
	Frames       []Frame
	DurationMS   int64
	CreatedAt    time.Time
}

// Duration returns the offset of the last frame as a duration.
func (r *Recording) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// FrameAt returns the index of the last frame at or before offset ms, or 0
// when offset precedes the first frame.
func (r *Recording) FrameAt(ms int64) int {
	i := sort.Search(len(r.Frames), func(i int) bool { return r.Frames[i].OffsetMS > ms })
	return max(i-1, 0)
}

// Validate checks the invariants every recording must hold.
func (r *Recording) Validate() error {
	switch r.Mode {
	case FrameBased:
	case RealTime:
		if r.SampleRateHz < MinRateHz || r.SampleRateHz > MaxRateHz {
			return &FormatError{Frame: -1, Reason: fmt.Sprintf("sample_rate_hz %d outside [%d, %d]", r.SampleRateHz, MinRateHz, MaxRateHz)}
		}
	default:
		return &FormatError{Frame: -1, Reason: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	for i, f := range r.Frames {
		if f.OffsetMS < 0 {
			return &FormatError{Frame: i, Reason: fmt.Sprintf("negative offset %d", f.OffsetMS)}
		}
		if i > 0 && f.OffsetMS <= r.Frames[i-1].OffsetMS {
			return &FormatError{Frame: i, Reason: fmt.Sprintf("offset %d does not exceed previous %d", f.OffsetMS, r.Frames[i-1].OffsetMS)}
		}
	}
	return nil
}
