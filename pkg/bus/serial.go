package bus

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the factory baud rate of STS servos.
const DefaultBaudRate = 1_000_000

// serialPort drops stale input with the driver's buffer reset instead of
// draining it through a read timeout, which would stall every transaction.
type serialPort struct {
	serial.Port
}

func (p serialPort) Flush() error { return p.ResetInputBuffer() }

// OpenSerial opens a serial port configured 8N1 at baud.
func OpenSerial(name string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return serialPort{port}, nil
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
