package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/calibrate"
	"github.com/gwillem/dexhand/pkg/robot"
)

// calibration is one calibration run over a list of channels.
type calibration struct {
	lease  *bus.Lease
	runner *calibrate.Engine
	ids    []int
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	results []calibrate.Status
	current bool
}

func (c *calibration) statuses() []calibrate.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.results)
	if c.current {
		out = append(out, c.runner.Status())
	}
	return out
}

// beginCalibration validates ids and takes the bus for calibration. The run
// is published with its cancel func already set, so StopCalibration can
// cancel it as soon as it is visible.
func (e *Engine) beginCalibration(parent context.Context, ids []int) (*calibration, context.Context, error) {
	if len(ids) == 0 {
		ids = robot.AllChannels()
	}
	for _, id := range ids {
		if !robot.ValidChannel(id) {
			return nil, nil, &robot.UnknownChannelError{Channel: id}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.enter(Calibrating)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	c := &calibration{
		lease:  l,
		runner: calibrate.New(l, e.model, e.opts.Calibration, e.opts.Logger),
		ids:    slices.Clone(ids),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.calib = c
	return c, ctx, nil
}

// run calibrates each channel in turn and returns the bus when done. A
// failed channel does not stop the others; cancellation does.
func (e *Engine) runCalibration(ctx context.Context, c *calibration) error {
	defer close(c.done)
	defer e.leave(c.lease)

	var errs []error
	for _, id := range c.ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		c.mu.Lock()
		c.current = true
		c.mu.Unlock()

		p, err := c.runner.Run(ctx, id)

		c.mu.Lock()
		c.current = false
		c.results = append(c.results, c.runner.Status())
		c.mu.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.saveCalibration(p)
	}
	return errors.Join(errs...)
}

func (e *Engine) saveCalibration(p robot.Profile) {
	if e.opts.CalibrationFile == "" {
		return
	}
	log := e.log.WithFields(logrus.Fields{"channel": p.ServoID, "file": e.opts.CalibrationFile})
	if err := e.model.Calibration().Save(e.opts.CalibrationFile); err != nil {
		log.Errorf("save calibration: %v", err)
		return
	}
	log.Debug("calibration saved")
}

// Calibrate probes the limits of ids (all channels when empty) and blocks
// until every channel is done. The returned statuses hold one entry per
// channel attempted.
func (e *Engine) Calibrate(ctx context.Context, ids ...int) ([]calibrate.Status, error) {
	c, ctx, err := e.beginCalibration(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	err = e.runCalibration(ctx, c)
	return c.statuses(), err
}

// StartCalibration starts calibrating ids in the background. Progress is
// reported through Snapshot.
func (e *Engine) StartCalibration(ids ...int) error {
	c, ctx, err := e.beginCalibration(context.Background(), ids)
	if err != nil {
		return err
	}
	go func() {
		defer c.cancel()
		if err := e.runCalibration(ctx, c); err != nil {
			e.log.Warnf("calibration: %v", err)
		}
	}()
	return nil
}

// StopCalibration cancels a running calibration and waits until the probed
// channel has been restored.
func (e *Engine) StopCalibration() error {
	e.mu.Lock()
	c := e.calib
	running := e.mode == Calibrating
	e.mu.Unlock()
	if c == nil || !running {
		return ErrNotCalibrating
	}
	c.cancel()
	<-c.done
	return nil
}

// CalibrationDone is closed when the current or last calibration run ends.
// It returns nil if no calibration was ever started.
func (e *Engine) CalibrationDone() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calib == nil {
		return nil
	}
	return e.calib.done
}
