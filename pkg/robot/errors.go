package robot

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange     = errors.New("target out of calibrated range")
	ErrUnknownChannel = errors.New("unknown channel")
)

// OutOfRangeError rejects a target outside a channel's calibrated limits.
type OutOfRangeError struct {
	Channel int
	Value   int
	Min     int
	Max     int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("channel %d: target %d outside [%d, %d]", e.Channel, e.Value, e.Min, e.Max)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// UnknownChannelError rejects a channel ID outside 1..17.
type UnknownChannelError struct {
	Channel int
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %d", e.Channel)
}

func (e *UnknownChannelError) Is(target error) bool { return target == ErrUnknownChannel }

func unknownChannel(id int) error {
	return &UnknownChannelError{Channel: id}
}
