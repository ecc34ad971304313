package engine

import "errors"

var (
	ErrNotCalibrating = errors.New("no calibration running")
	ErrNoPlayback     = errors.New("no playback session")
	ErrNotMirroring   = errors.New("mirroring not active")
	ErrBusUnavailable = errors.New("bus unavailable")
)
