// Package bus implements the half-duplex servo bus: a single-slot
// transaction transport with bounded retries on top of the Feetech STS
// driver, and the lease that grants one operating mode the right to
// command servos.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/sirupsen/logrus"
)

// Port is the physical link. feetech serial ports satisfy it, and so does
// Simulator.
type Port = feetech.Transport

// Config controls transaction timing.
type Config struct {
	Timeout    time.Duration // reply deadline for one attempt
	Retries    int           // extra attempts after the first
	Backoff    time.Duration // wait before the first retry, doubled each retry
	CommandGap time.Duration // minimum idle time between packets
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

const (
	DefaultTimeout    = 20 * time.Millisecond
	DefaultRetries    = 2
	DefaultBackoff    = 2 * time.Millisecond
	DefaultCommandGap = time.Millisecond
)

// Ack confirms a write was accepted by a servo.
type Ack struct {
	Channel int
	Status  byte // servo status flags, 0 when healthy
}

// Feedback is one present-state reading of a servo.
type Feedback struct {
	Channel  int
	Position int
	Speed    int
	Load     int
	At       time.Time
}

// Transport serializes every transaction on the port: at most one request is
// on the wire at any time.
type Transport struct {
	bus   *feetech.Bus
	proto *feetech.Protocol
	cfg   Config
	log   logrus.FieldLogger

	slot chan struct{}

	leaseMu sync.Mutex
	holder  *Lease
}

// NewTransport drives the servos behind port. Zero config fields take the
// package defaults.
func NewTransport(port Port, cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.CommandGap <= 0 {
		cfg.CommandGap = DefaultCommandGap
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if port == nil {
		return nil, errors.New("bus: nil port")
	}

	b, err := feetech.NewBus(feetech.BusConfig{
		Transport:     port,
		Protocol:      feetech.ProtocolSTS,
		Timeout:       cfg.Timeout,
		MinCommandGap: cfg.CommandGap,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	return &Transport{
		bus:   b,
		proto: b.Protocol(),
		cfg:   cfg,
		log:   cfg.Logger.WithField("component", "bus"),
		slot:  make(chan struct{}, 1),
	}, nil
}

// Close closes the underlying port.
func (t *Transport) Close() error {
	return t.bus.Close()
}

// Query reads position, speed and load of one channel. Feedback polling does
// not need a lease.
func (t *Transport) Query(ctx context.Context, id int) (Feedback, error) {
	if err := checkID(id); err != nil {
		return Feedback{}, err
	}
	var data []byte
	err := t.transact(ctx, id, func() error {
		d, err := t.bus.ReadRegister(ctx, id, feetech.RegPresentPosition.Address, feedbackLen)
		if err != nil {
			return err
		}
		if len(d) != feedbackLen {
			return fmt.Errorf("%w: %d of %d feedback bytes", feetech.ErrInvalidPacket, len(d), feedbackLen)
		}
		data = d
		return nil
	})
	if err != nil {
		return Feedback{}, err
	}
	return Feedback{
		Channel:  id,
		Position: decodeValue(t.proto, feetech.RegPresentPosition, data[0:2]),
		Speed:    decodeValue(t.proto, feetech.RegPresentVelocity, data[2:4]),
		Load:     decodeValue(t.proto, presentLoad, data[4:6]),
		At:       t.cfg.Now(),
	}, nil
}

// Ping reports whether a servo answers on id.
func (t *Transport) Ping(ctx context.Context, id int) error {
	if err := checkID(id); err != nil {
		return err
	}
	return t.transact(ctx, id, func() error {
		_, err := t.bus.Ping(ctx, id)
		return err
	})
}

// Scan pings every ID in lo..hi and returns the servos that answered.
func (t *Transport) Scan(ctx context.Context, lo, hi int) ([]feetech.FoundServo, error) {
	if err := t.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer t.releaseSlot()
	return t.bus.Scan(ctx, lo, hi)
}

// Positions reads the present position of every id with one sync read.
func (t *Transport) Positions(ctx context.Context, ids []int) (map[int]int, error) {
	if err := t.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer t.releaseSlot()
	raw, err := feetech.NewServoGroupByIDs(t.bus, ids...).Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for id, pos := range raw {
		out[id] = pos
	}
	return out, nil
}

func (t *Transport) send(ctx context.Context, id int, cmd Command) (Ack, error) {
	if err := checkID(id); err != nil {
		return Ack{}, err
	}
	reg, v, err := cmd.register()
	if err != nil {
		return Ack{}, err
	}
	data := encodeValue(t.proto, reg, v)
	ack := Ack{Channel: id}
	err = t.transact(ctx, id, func() error {
		err := t.bus.WriteRegister(ctx, id, reg.Address, data)
		var status feetech.StatusError
		if errors.As(err, &status) {
			// The write landed; the servo is flagging a condition.
			ack.Status = byte(status)
			return nil
		}
		return err
	})
	if err != nil {
		return Ack{}, err
	}
	if ack.Status != 0 {
		t.log.WithField("channel", id).Debugf("%s: %v", cmd, feetech.StatusError(ack.Status))
	}
	return ack, nil
}

// broadcast sends cmd to each channel individually so a failure can be
// attributed to the channel it happened on.
func (t *Transport) broadcast(ctx context.Context, ids []int, cmd Command) error {
	failures := make(map[int]error)
	for _, id := range ids {
		if _, err := t.send(ctx, id, cmd); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures[id] = err
		}
	}
	if len(failures) > 0 {
		return &BroadcastError{Failures: failures}
	}
	return nil
}

func (t *Transport) acquireSlot(ctx context.Context) error {
	select {
	case t.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) releaseSlot() { <-t.slot }

// transact runs op holding the slot, retrying timeouts and corrupt replies
// with increasing backoff.
func (t *Transport) transact(ctx context.Context, id int, op func() error) error {
	if err := t.acquireSlot(ctx); err != nil {
		return err
	}
	defer t.releaseSlot()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.cfg.Backoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(t.cfg.Retries)), ctx)

	var (
		attempts int
		lastKind ErrorKind
	)
	attempt := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		kind, retry := classify(err)
		lastKind = kind
		if !retry {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.log.WithFields(logrus.Fields{
			"channel": id,
			"attempt": attempts,
			"wait":    wait,
		}).Debugf("retrying bus transaction: %v", err)
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		busErr := &Error{Kind: lastKind, Channel: id, Attempts: attempts, Err: err}
		t.log.WithField("channel", id).Warn(busErr.Error())
		return busErr
	}
	return nil
}

// classify maps a driver error to a failure kind and reports whether another
// attempt can help.
func classify(err error) (ErrorKind, bool) {
	var status feetech.StatusError
	switch {
	case errors.Is(err, feetech.ErrNoResponse), errors.Is(err, feetech.ErrTimeout):
		return Timeout, true
	case errors.Is(err, feetech.ErrBusClosed), errors.Is(err, feetech.ErrInvalidID):
		return Timeout, false
	case errors.As(err, &status):
		return Corrupt, false
	default:
		// Bad header, checksum mismatch, short packet or a reply from the
		// wrong servo.
		return Corrupt, true
	}
}

func checkID(id int) error {
	if id < 0 || id > feetech.MaxServoID {
		return fmt.Errorf("%w: %d", feetech.ErrInvalidID, id)
	}
	return nil
}
