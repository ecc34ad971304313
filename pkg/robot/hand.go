package robot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
)

// Hand is an open connection to the hand: the bus transport plus the
// channel model seeded from the saved calibration.
type Hand struct {
	Transport *bus.Transport
	Model     *Model
	Sim       *bus.Simulator // non-nil when running against the simulator
}

// Open connects to the hand described by cfg and loads its calibration.
func Open(cfg *Config, log logrus.FieldLogger) (*Hand, error) {
	t, sim, err := OpenTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	m := NewModel(ModelOptions{
		Freshness:  cfg.Channels.Freshness(),
		SpeedLimit: cfg.Channels.DefaultSpeed,
		AccelLimit: cfg.Channels.DefaultAcceleration,
	})

	cal, err := LoadCalibration(cfg.Calibration.File)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.WithField("file", cfg.Calibration.File).Warn("no calibration file, all channels uncalibrated")
	case err != nil:
		t.Close()
		return nil, err
	default:
		for _, p := range cal.Profiles() {
			if err := m.ApplyCalibration(p); err != nil {
				t.Close()
				return nil, err
			}
		}
		log.WithField("channels", len(cal)).Info("calibration loaded")
	}

	return &Hand{Transport: t, Model: m, Sim: sim}, nil
}

// OpenTransport opens the bus described by cfg: the serial port, or a
// simulated hand when cfg.Simulate is set. The simulator is nil otherwise.
func OpenTransport(cfg *Config, log logrus.FieldLogger) (*bus.Transport, *bus.Simulator, error) {
	var (
		port bus.Port
		sim  *bus.Simulator
	)
	if cfg.Simulate {
		sim = NewSimulatedHand()
		port = sim
	} else {
		p, err := bus.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
		if err != nil {
			return nil, nil, fmt.Errorf("open bus: %w", err)
		}
		port = p
	}

	t, err := bus.NewTransport(port, bus.Config{
		Timeout:    cfg.Serial.Timeout(),
		Retries:    cfg.Serial.Retries,
		Backoff:    cfg.Serial.Backoff(),
		CommandGap: cfg.Serial.Gap(),
		Logger:     log,
	})
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	return t, sim, nil
}

// Close closes the hand's bus connection.
func (h *Hand) Close() error {
	return h.Transport.Close()
}

// NewSimulatedHand returns a simulator whose servos have finite mechanical
// stops, so calibration finds a realistic range.
func NewSimulatedHand() *bus.Simulator {
	sim := bus.NewSimulator(NumChannels)
	for _, id := range AllChannels() {
		lo := 700 + 25*id
		sim.Configure(id, func(s *bus.SimServo) {
			s.Min, s.Max = lo, 3400-25*id
			s.Jitter = 1
		})
	}
	return sim
}

// FoundServo is a servo that answered a scan.
type FoundServo struct {
	ID    int
	Model string
}

// ScanServos probes IDs 1-17 and reports the servos that answer.
func ScanServos(ctx context.Context, t *bus.Transport) ([]FoundServo, error) {
	found, err := t.Scan(ctx, 1, NumChannels)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]FoundServo, 0, len(found))
	for _, s := range found {
		name := fmt.Sprintf("model %d", s.ModelNumber)
		if s.Model != nil {
			name = s.Model.Name
		}
		out = append(out, FoundServo{ID: s.ID, Model: name})
	}
	return out, nil
}

// IsHand reports whether a scan found every channel of the hand.
func IsHand(servos []FoundServo) bool {
	seen := make(map[int]bool, len(servos))
	for _, s := range servos {
		seen[s.ID] = true
	}
	for _, id := range AllChannels() {
		if !seen[id] {
			return false
		}
	}
	return true
}

// ReadPositions reads raw positions of ids with a group read.
func ReadPositions(ctx context.Context, t *bus.Transport, ids []int) (map[int]int, error) {
	positions, err := t.Positions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	return positions, nil
}
