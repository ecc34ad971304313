package bus

import (
	"io"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// SimServo is the state of one simulated servo.
type SimServo struct {
	Position int
	Goal     int
	Min, Max int // mechanical stops
	Rate     int // units travelled per feedback read; 0 jumps to the goal
	Jitter   int // alternating noise added to reported positions

	ModelNumber  int
	Torque       byte
	Speed        int
	Acceleration int
	TorqueLimit  int

	flip     bool
	speed    int
	reported int
}

// SimCommand is a write the simulator received.
type SimCommand struct {
	ID      int
	Command Command
	At      time.Time
}

// Simulator is an in-process Port speaking the STS protocol for a set of
// servos. Motion advances on every feedback read, so tests stay
// deterministic regardless of wall-clock timing.
type Simulator struct {
	mu       sync.Mutex
	proto    *feetech.Protocol
	servos   map[int]*SimServo
	pending  []byte
	drop     int
	corrupt  int
	commands []SimCommand
	now      func() time.Time
}

// NewSimulator creates servos 1..n centred at 2048 with stops at 0 and 4095.
func NewSimulator(n int) *Simulator {
	s := &Simulator{
		proto:  feetech.NewProtocol(feetech.ProtocolSTS),
		servos: make(map[int]*SimServo, n),
		now:    time.Now,
	}
	for id := 1; id <= n; id++ {
		s.servos[id] = &SimServo{
			Position:    2048,
			Goal:        2048,
			Min:         0,
			Max:         4095,
			Rate:        40,
			ModelNumber: feetech.ModelSTS3215.Number,
			TorqueLimit: MaxTorqueLimit,
		}
	}
	return s
}

// Configure mutates one servo under the simulator lock.
func (s *Simulator) Configure(id int, fn func(*SimServo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.servos[id]; ok {
		fn(sv)
	}
}

// Remove disconnects a servo so it stops answering.
func (s *Simulator) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servos, id)
}

// State returns a copy of one servo's state.
func (s *Simulator) State(id int) (SimServo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.servos[id]
	if !ok {
		return SimServo{}, false
	}
	return *sv, true
}

// DropReplies swallows the next n replies, which the transport sees as
// timeouts.
func (s *Simulator) DropReplies(n int) {
	s.mu.Lock()
	s.drop = n
	s.mu.Unlock()
}

// CorruptReplies damages the checksum of the next n replies.
func (s *Simulator) CorruptReplies(n int) {
	s.mu.Lock()
	s.corrupt = n
	s.mu.Unlock()
}

// Commands returns every write received so far.
func (s *Simulator) Commands() []SimCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimCommand, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Instruction packets share the status layout, with the instruction in
	// the slot a reply uses for its error flags.
	pkt, _, err := s.proto.Decode(p)
	if err != nil {
		return len(p), nil
	}
	id, instr, params := int(pkt.ID), byte(pkt.Error), pkt.Parameters

	if id == BroadcastID {
		if instr == feetech.InstSyncRead && len(params) >= 2 {
			addr, n := params[0], int(params[1])
			for _, sid := range params[2:] {
				if sv, ok := s.servos[int(sid)]; ok {
					s.reply(int(sid), s.read(sv, addr, n))
				}
			}
		}
		return len(p), nil
	}
	sv, ok := s.servos[id]
	if !ok {
		return len(p), nil
	}

	switch instr {
	case feetech.InstPing:
		s.reply(id, nil)
	case feetech.InstRead:
		if len(params) != 2 {
			return len(p), nil
		}
		s.reply(id, s.read(sv, params[0], int(params[1])))
	case feetech.InstWrite:
		s.write(id, sv, params)
		s.reply(id, nil)
	}
	return len(p), nil
}

// Read returns pending reply bytes, or io.EOF when the line is quiet.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Flush discards replies nobody read.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetReadTimeout(time.Duration) error { return nil }

func (s *Simulator) Close() error { return nil }

func (s *Simulator) reply(id int, data []byte) {
	if s.drop > 0 {
		s.drop--
		return
	}
	pkt := s.proto.Encode(feetech.Packet{ID: byte(id), Parameters: data})
	if s.corrupt > 0 {
		s.corrupt--
		pkt[len(pkt)-1]++
	}
	s.pending = append(s.pending, pkt...)
}

// read returns n bytes of the control table starting at addr. Reading the
// present position advances the servo one step.
func (s *Simulator) read(sv *SimServo, addr byte, n int) []byte {
	pos := feetech.RegPresentPosition.Address
	if addr <= pos && int(addr)+n > int(pos) {
		s.step(sv)
		sv.reported = max(0, s.jittered(sv))
	}
	table := s.table(sv)
	data := make([]byte, n)
	for i := range data {
		data[i] = table[addr+byte(i)]
	}
	return data
}

func (s *Simulator) write(id int, sv *SimServo, params []byte) {
	if len(params) < 2 {
		return
	}
	addr, data := params[0], params[1:]
	var reg feetech.Register
	switch addr {
	case feetech.RegTorqueEnable.Address:
		reg = feetech.RegTorqueEnable
	case feetech.RegAcceleration.Address:
		reg = feetech.RegAcceleration
	case feetech.RegGoalPosition.Address:
		reg = feetech.RegGoalPosition
	case feetech.RegGoalVelocity.Address:
		reg = feetech.RegGoalVelocity
	case feetech.RegTorqueLimit.Address:
		reg = feetech.RegTorqueLimit
	default:
		return
	}
	if len(data) < reg.Size {
		return
	}
	v := decodeValue(s.proto, reg, data[:reg.Size])

	switch addr {
	case feetech.RegTorqueEnable.Address:
		sv.Torque = byte(v)
	case feetech.RegAcceleration.Address:
		sv.Acceleration = v
	case feetech.RegGoalPosition.Address:
		sv.Goal = v
	case feetech.RegGoalVelocity.Address:
		sv.Speed = v
	case feetech.RegTorqueLimit.Address:
		sv.TorqueLimit = v
	}
	if cmd, ok := commandFor(addr, v); ok {
		s.commands = append(s.commands, SimCommand{ID: id, Command: cmd, At: s.now()})
	}
}

// step moves the servo toward its goal, stopping at the mechanical stops.
func (s *Simulator) step(sv *SimServo) {
	if sv.Torque != 1 {
		sv.speed = 0
		return
	}
	delta := sv.Goal - sv.Position
	if sv.Rate > 0 {
		delta = clamp(delta, -sv.Rate, sv.Rate)
	}
	next := clamp(sv.Position+delta, sv.Min, sv.Max)
	sv.speed = next - sv.Position
	sv.Position = next
}

func (s *Simulator) jittered(sv *SimServo) int {
	if sv.Jitter == 0 {
		return sv.Position
	}
	sv.flip = !sv.flip
	if sv.flip {
		return sv.Position + sv.Jitter
	}
	return sv.Position - sv.Jitter
}

func (s *Simulator) load(sv *SimServo) int {
	stalled := (sv.Position == sv.Max && sv.Goal > sv.Max) || (sv.Position == sv.Min && sv.Goal < sv.Min)
	if sv.Torque == 1 && stalled {
		return sv.TorqueLimit * 6 / 10
	}
	return 0
}

// table renders the registers the simulator models.
func (s *Simulator) table(sv *SimServo) map[byte]byte {
	values := []struct {
		reg feetech.Register
		v   int
	}{
		{feetech.RegModelNumber, sv.ModelNumber},
		{feetech.RegTorqueEnable, int(sv.Torque)},
		{feetech.RegAcceleration, sv.Acceleration},
		{feetech.RegGoalPosition, sv.Goal},
		{feetech.RegGoalVelocity, sv.Speed},
		{feetech.RegTorqueLimit, sv.TorqueLimit},
		{feetech.RegPresentPosition, sv.reported},
		{feetech.RegPresentVelocity, sv.speed},
		{presentLoad, s.load(sv)},
		{feetech.RegPresentVoltage, 120},
		{feetech.RegPresentTemp, 32},
	}
	table := make(map[byte]byte, 2*len(values))
	for _, r := range values {
		for i, b := range encodeValue(s.proto, r.reg, r.v) {
			table[r.reg.Address+byte(i)] = b
		}
	}
	return table
}
