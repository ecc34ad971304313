package gesture

import (
	"errors"
	"fmt"
)

var ErrUncalibrated = errors.New("channel uncalibrated")

// ErrorKind classifies a per-channel mapping failure.
type ErrorKind int

const (
	Uncalibrated ErrorKind = iota
)

func (k ErrorKind) String() string { return "uncalibrated" }

// MappingError is reported for one channel of a frame. It never aborts the
// rest of the frame.
type MappingError struct {
	Channel int
	Kind    ErrorKind
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map channel %d: %s", e.Channel, e.Kind)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrUncalibrated && e.Kind == Uncalibrated
}
