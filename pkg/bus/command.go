package bus

import (
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// BroadcastID addresses every servo on the bus. Servos never answer it.
const BroadcastID = feetech.BroadcastID

// Value ranges accepted by the servo registers.
const (
	MaxAcceleration = 254
	MaxTorqueLimit  = 1000
	maxWord         = 0x7FFF
)

// presentLoad reaches 1000 in magnitude, so its direction flag is bit 10.
var presentLoad = feetech.Register{Address: feetech.RegPresentLoad.Address, Size: 2, ReadOnly: true, SignBit: 10}

// feedbackLen covers present position, speed and load, which sit next to
// each other in the control table.
var feedbackLen = feetech.RegPresentPosition.Size + feetech.RegPresentVelocity.Size + presentLoad.Size

// CommandKind selects the register a Command writes.
type CommandKind int

const (
	SetPosition CommandKind = iota
	SetSpeed
	SetAcceleration
	SetTorqueLimit
	EnableTorque
	DisableTorque
	Damping
)

func (k CommandKind) String() string {
	switch k {
	case SetPosition:
		return "set-position"
	case SetSpeed:
		return "set-speed"
	case SetAcceleration:
		return "set-acceleration"
	case SetTorqueLimit:
		return "set-torque-limit"
	case EnableTorque:
		return "enable-torque"
	case DisableTorque:
		return "disable-torque"
	case Damping:
		return "damping"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a single register write addressed to one channel.
type Command struct {
	Kind  CommandKind
	Value int
}

func Position(v int) Command     { return Command{Kind: SetPosition, Value: v} }
func Speed(v int) Command        { return Command{Kind: SetSpeed, Value: v} }
func Acceleration(v int) Command { return Command{Kind: SetAcceleration, Value: v} }
func TorqueLimit(v int) Command  { return Command{Kind: SetTorqueLimit, Value: v} }

// Torque returns the command switching holding torque on or off.
func Torque(on bool) Command {
	if on {
		return Command{Kind: EnableTorque}
	}
	return Command{Kind: DisableTorque}
}

func (c Command) String() string {
	switch c.Kind {
	case EnableTorque, DisableTorque, Damping:
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", c.Kind, c.Value)
}

// register returns the register cmd writes and the value stored there.
func (c Command) register() (feetech.Register, int, error) {
	switch c.Kind {
	case SetPosition:
		return feetech.RegGoalPosition, clamp(c.Value, 0, maxWord), nil
	case SetSpeed:
		return feetech.RegGoalVelocity, clamp(c.Value, -maxWord, maxWord), nil
	case SetAcceleration:
		return feetech.RegAcceleration, clamp(c.Value, 0, MaxAcceleration), nil
	case SetTorqueLimit:
		return feetech.RegTorqueLimit, clamp(c.Value, 0, MaxTorqueLimit), nil
	case EnableTorque:
		return feetech.RegTorqueEnable, 1, nil
	case DisableTorque:
		return feetech.RegTorqueEnable, 0, nil
	case Damping:
		return feetech.RegTorqueEnable, 2, nil
	default:
		return feetech.Register{}, 0, fmt.Errorf("unknown command kind %d", c.Kind)
	}
}

// commandFor maps a register write back to the Command that produced it.
func commandFor(addr byte, v int) (Command, bool) {
	switch addr {
	case feetech.RegTorqueEnable.Address:
		switch v {
		case 0:
			return Torque(false), true
		case 1:
			return Torque(true), true
		default:
			return Command{Kind: Damping}, true
		}
	case feetech.RegAcceleration.Address:
		return Acceleration(v), true
	case feetech.RegGoalPosition.Address:
		return Position(v), true
	case feetech.RegGoalVelocity.Address:
		return Speed(v), true
	case feetech.RegTorqueLimit.Address:
		return TorqueLimit(v), true
	}
	return Command{}, false
}

// encodeValue lays v out in reg using the protocol's byte order. Signed
// registers use sign-magnitude with the sign at reg.SignBit.
func encodeValue(p *feetech.Protocol, reg feetech.Register, v int) []byte {
	raw := v
	if reg.SignBit > 0 && v < 0 {
		raw = -v | 1<<reg.SignBit
	}
	if reg.Size == 1 {
		return []byte{byte(raw)}
	}
	return p.EncodeWord(uint16(raw))
}

// decodeValue is the inverse of encodeValue.
func decodeValue(p *feetech.Protocol, reg feetech.Register, data []byte) int {
	var raw int
	if reg.Size == 1 {
		raw = int(data[0])
	} else {
		raw = int(p.DecodeWord(data))
	}
	if reg.SignBit > 0 && raw&(1<<reg.SignBit) != 0 {
		return -(raw & (1<<reg.SignBit - 1))
	}
	return raw
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
