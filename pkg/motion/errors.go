package motion

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSpeed    = errors.New("invalid playback speed")
	ErrInvalidRate     = errors.New("invalid sample rate")
	ErrFrameOrdering   = errors.New("frame offset not increasing")
	ErrRecordingFormat = errors.New("invalid recording")
	ErrWrongMode       = errors.New("operation not valid in this recording mode")
	ErrNotRecording    = errors.New("recording already stopped")
	ErrSessionFinished = errors.New("playback session finished")
	ErrEmptyRecording  = errors.New("recording has no frames")
)

// InvalidSpeedError rejects a speed factor outside [MinSpeed, MaxSpeed].
type InvalidSpeedError struct {
	Speed float64
}

func (e *InvalidSpeedError) Error() string {
	return fmt.Sprintf("speed %.2f outside [%.1f, %.1f]", e.Speed, MinSpeed, MaxSpeed)
}

func (e *InvalidSpeedError) Is(target error) bool { return target == ErrInvalidSpeed }

// FrameOrderingError rejects a frame whose offset does not exceed the
// previous frame's.
type FrameOrderingError struct {
	Frame    int
	Offset   int64
	Previous int64
}

func (e *FrameOrderingError) Error() string {
	return fmt.Sprintf("frame %d: offset %dms does not exceed previous %dms", e.Frame, e.Offset, e.Previous)
}

func (e *FrameOrderingError) Is(target error) bool { return target == ErrFrameOrdering }

// FormatError rejects a recording document. Frame is the index of the first
// offending frame, or -1 when the header is at fault.
type FormatError struct {
	Frame  int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("recording: %s", e.Reason)
	}
	return fmt.Sprintf("recording frame %d: %s", e.Frame, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrRecordingFormat }
