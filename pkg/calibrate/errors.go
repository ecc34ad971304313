package calibrate

import (
	"errors"
	"fmt"
)

var (
	ErrNoStallDetected = errors.New("no stall detected")
	ErrDegenerateRange = errors.New("degenerate range")
)

// ErrorKind classifies a failed calibration.
type ErrorKind int

const (
	NoStallDetected ErrorKind = iota
	DegenerateRange
)

func (k ErrorKind) String() string {
	if k == DegenerateRange {
		return "degenerate_range"
	}
	return "no_stall_detected"
}

// Error terminates a calibration attempt. The channel keeps its previous
// limits.
type Error struct {
	Channel int
	Kind    ErrorKind
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("calibrate channel %d: %s: %s", e.Channel, e.Kind, e.Detail)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoStallDetected:
		return e.Kind == NoStallDetected
	case ErrDegenerateRange:
		return e.Kind == DegenerateRange
	}
	return false
}
