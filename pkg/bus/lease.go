package bus

import (
	"context"
	"sync"
	"time"
)

// Lease is the exclusive right to command servos. Exactly one lease exists
// per transport at a time; it is handed to the mode that is running.
type Lease struct {
	t       *Transport
	mode    string
	granted time.Time

	// mu is held shared for the duration of every command, so Release
	// waits for an in-flight command and no command starts afterwards.
	mu       sync.RWMutex
	released bool
}

// Acquire grants the lease to mode, or fails with a *ConflictError when
// another mode holds it. It never queues.
func (t *Transport) Acquire(mode string) (*Lease, error) {
	t.leaseMu.Lock()
	defer t.leaseMu.Unlock()
	if t.holder != nil {
		return nil, &ConflictError{Holder: t.holder.mode, Requested: mode}
	}
	l := &Lease{t: t, mode: mode, granted: t.cfg.Now()}
	t.holder = l
	t.log.WithField("mode", mode).Debug("bus lease granted")
	return l, nil
}

// Holder returns the mode holding the lease, or "" when the bus is free.
func (t *Transport) Holder() string {
	t.leaseMu.Lock()
	defer t.leaseMu.Unlock()
	if t.holder == nil {
		return ""
	}
	return t.holder.mode
}

// Mode returns the mode the lease was granted to.
func (l *Lease) Mode() string { return l.mode }

// Release returns the bus. It blocks until an in-flight command finishes and
// is safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	already := l.released
	l.released = true
	l.mu.Unlock()
	if already {
		return
	}

	l.t.leaseMu.Lock()
	if l.t.holder == l {
		l.t.holder = nil
	}
	l.t.leaseMu.Unlock()
	l.t.log.WithField("mode", l.mode).Debug("bus lease released")
}

// Send writes cmd to one channel and waits for its acknowledgement.
func (l *Lease) Send(ctx context.Context, id int, cmd Command) (Ack, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.released {
		return Ack{}, ErrLeaseReleased
	}
	return l.t.send(ctx, id, cmd)
}

// Broadcast sends cmd to every listed channel. Failures are reported per
// channel in a *BroadcastError.
func (l *Lease) Broadcast(ctx context.Context, ids []int, cmd Command) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.released {
		return ErrLeaseReleased
	}
	return l.t.broadcast(ctx, ids, cmd)
}

// Query reads feedback through the lease holder's transport.
func (l *Lease) Query(ctx context.Context, id int) (Feedback, error) {
	return l.t.Query(ctx, id)
}
