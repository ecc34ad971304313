// Package teleop drives live mirroring: it reads hand landmark frames from
// a stream and pushes the most recent one into the engine at a fixed rate.
package teleop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/gesture"
)

// Mirror is the part of the engine the controller drives. *engine.Engine
// satisfies it.
type Mirror interface {
	StartMirroring() error
	PushLandmarks(ctx context.Context, landmarks []gesture.Landmark) (engine.MirrorResult, error)
	StopMirroring() error
}

// Frame is one line of the landmark stream.
type Frame struct {
	Landmarks []gesture.Landmark `json:"landmarks"`
}

// State represents the outcome of the last pushed frame.
type State struct {
	Targets   map[int]int
	Skipped   []int
	Errors    map[int]error
	Frames    int
	Timestamp time.Time
	Error     error
}

// Controller manages the mirroring control loop.
type Controller struct {
	mirror Mirror
	src    io.Reader
	hz     int

	mu      sync.Mutex
	running bool
	latest  []gesture.Landmark
	fresh   bool
	eof     bool
	frames  int
	stateCh chan State
	logCh   chan string
}

// Config holds configuration for the controller.
type Config struct {
	Hz int
}

// NewController creates a controller reading landmark frames from src.
func NewController(m Mirror, src io.Reader, cfg Config) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = 30
	}
	return &Controller{
		mirror:  m,
		src:     src,
		hz:      cfg.Hz,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start takes the bus for mirroring and runs until ctx is cancelled or the
// landmark stream ends. Frames arriving faster than Hz are coalesced; only
// the newest one is pushed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.mirror.StartMirroring(); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}
	c.log("Mirroring started at %d Hz", c.hz)

	go c.read()

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if done := c.step(ctx); done {
				c.log("Landmark stream ended")
				c.shutdown()
				return nil
			}
		}
	}
}

// read decodes frames until the stream ends. Malformed frames are logged
// and skipped.
func (c *Controller) read() {
	dec := json.NewDecoder(c.src)
	for {
		var f Frame
		err := dec.Decode(&f)
		if err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.log("Bad landmark frame: %v", err)
			} else if !errors.Is(err, io.EOF) {
				c.log("Read error: %v", err)
			}
			c.mu.Lock()
			c.eof = true
			c.mu.Unlock()
			return
		}
		if len(f.Landmarks) != gesture.NumLandmarks {
			c.log("Skipping frame with %d landmarks", len(f.Landmarks))
			continue
		}
		c.mu.Lock()
		c.latest, c.fresh = f.Landmarks, true
		c.mu.Unlock()
	}
}

// step pushes the newest unsent frame. It reports true once the stream has
// ended and every frame was pushed.
func (c *Controller) step(ctx context.Context) bool {
	c.mu.Lock()
	lm, fresh, eof := c.latest, c.fresh, c.eof
	c.fresh = false
	c.mu.Unlock()
	if !fresh {
		return eof
	}

	res, err := c.mirror.PushLandmarks(ctx, lm)
	if err != nil {
		c.log("Push error: %v", err)
		c.sendState(State{Error: err, Timestamp: time.Now()})
		return false
	}
	c.frames++
	for id, err := range res.Errors {
		if errors.Is(err, gesture.ErrUncalibrated) {
			continue
		}
		c.log("Channel %d: %v", id, err)
	}
	c.sendState(State{
		Targets:   res.Targets,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
		Frames:    c.frames,
		Timestamp: time.Now(),
	})
	return false
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.mirror.StopMirroring(); err != nil {
		c.log("Warning: failed to stop mirroring: %v", err)
	}
	c.log("Mirroring stopped")
}
