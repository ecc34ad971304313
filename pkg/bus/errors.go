package bus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTimeout       = errors.New("bus timeout")
	ErrCorrupt       = errors.New("bus frame corrupt")
	ErrModeConflict  = errors.New("mode conflict")
	ErrLeaseReleased = errors.New("bus lease released")
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	Timeout ErrorKind = iota
	Corrupt
)

func (k ErrorKind) String() string {
	if k == Corrupt {
		return "corrupt"
	}
	return "timeout"
}

// Error is returned once a transaction has exhausted its retries.
type Error struct {
	Kind     ErrorKind
	Channel  int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("servo %d: %s after %d attempts: %v", e.Channel, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == Timeout
	case ErrCorrupt:
		return e.Kind == Corrupt
	}
	return false
}

// BroadcastError reports every channel a broadcast failed on.
type BroadcastError struct {
	Failures map[int]error
}

func (e *BroadcastError) Error() string {
	ids := e.Channels()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("broadcast failed on %d channel(s): %s", len(ids), strings.Join(parts, "; "))
}

// Channels returns the failed channel IDs in ascending order.
func (e *BroadcastError) Channels() []int {
	ids := make([]int, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ConflictError is returned when a mode asks for the bus while another mode
// holds it.
type ConflictError struct {
	Holder    string
	Requested string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot start %s: bus held by %s", e.Requested, e.Holder)
}

func (e *ConflictError) Is(target error) bool { return target == ErrModeConflict }
