package engine

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/gesture"
)

// MirrorStatus reports live mirroring progress.
type MirrorStatus struct {
	Frames  int            `json:"frames"`
	Last    time.Time      `json:"last,omitempty"`
	Targets map[int]int    `json:"targets,omitempty"` // last frame
	Skipped []int          `json:"skipped,omitempty"` // last frame
	Errors  map[int]string `json:"errors,omitempty"`  // last frame, per channel
}

// MirrorResult is the outcome of one pushed landmark frame. Errors holds
// mapping errors (uncalibrated channels) and bus errors per channel.
type MirrorResult struct {
	Targets map[int]int
	Skipped []int
	Errors  map[int]error
}

type mirrorState struct {
	lease *bus.Lease

	mu   sync.Mutex
	last MirrorStatus
}

func (m *mirrorState) record(res MirrorResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last.Frames++
	m.last.Last = time.Now()
	m.last.Targets = res.Targets
	m.last.Skipped = res.Skipped
	m.last.Errors = make(map[int]string, len(res.Errors))
	for id, err := range res.Errors {
		m.last.Errors[id] = err.Error()
	}
}

func (m *mirrorState) status() MirrorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.last
	st.Targets = maps.Clone(m.last.Targets)
	st.Skipped = slices.Clone(m.last.Skipped)
	st.Errors = maps.Clone(m.last.Errors)
	return st
}

// StartMirroring takes the bus for live mirroring. Smoothing starts fresh
// on every start.
func (e *Engine) StartMirroring() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.enter(Mirroring)
	if err != nil {
		return err
	}
	e.mapper.Reset()
	e.mirror = &mirrorState{lease: l}
	return nil
}

// PushLandmarks maps one observed landmark frame and commands the
// resulting targets. Channels without calibration are reported in the
// result and never commanded; a failure on one channel does not stop the
// others.
func (e *Engine) PushLandmarks(ctx context.Context, landmarks []gesture.Landmark) (MirrorResult, error) {
	e.mu.Lock()
	mir := e.mirror
	active := e.mode == Mirroring
	e.mu.Unlock()
	if mir == nil || !active {
		return MirrorResult{}, ErrNotMirroring
	}

	mapped := e.mapper.MapFrame(landmarks)
	res := MirrorResult{
		Targets: make(map[int]int, len(mapped.Targets)),
		Skipped: mapped.Skipped,
		Errors:  mapped.Errors,
	}
	for _, id := range slices.Sorted(maps.Keys(mapped.Targets)) {
		v := mapped.Targets[id]
		if _, err := mir.lease.Send(ctx, id, bus.Position(v)); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors[id] = err
			continue
		}
		if err := e.model.SetTarget(id, v); err != nil {
			res.Errors[id] = err
			continue
		}
		res.Targets[id] = v
	}
	mir.record(res)
	if len(res.Errors) > 0 {
		e.log.WithFields(logrus.Fields{"failed": len(res.Errors), "sent": len(res.Targets)}).Debug("landmark frame partially applied")
	}
	return res, nil
}

// StopMirroring ends mirroring and returns the bus. Targets stay where the
// last frame put them.
func (e *Engine) StopMirroring() error {
	e.mu.Lock()
	mir := e.mirror
	active := e.mode == Mirroring
	e.mu.Unlock()
	if mir == nil || !active {
		return ErrNotMirroring
	}
	e.leave(mir.lease)
	return nil
}
