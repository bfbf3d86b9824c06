package backend

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Serial drives a microcontroller over a serial line. Each command is a text
// line: "<id> <0|1>" for one light, "all 0" for blackout.
type Serial struct {
	mu    sync.Mutex
	port  io.WriteCloser
	count int
}

func NewSerial(device string, baudRate, count int) (*Serial, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", device, err)
	}
	return newSerial(port, count), nil
}

func newSerial(port io.WriteCloser, count int) *Serial {
	return &Serial{port: port, count: count}
}

func (s *Serial) Count() int { return s.count }

func (s *Serial) SetState(id int, on bool) error {
	if id < 0 || id >= s.count {
		return fmt.Errorf("serial: id %d out of range [0, %d)", id, s.count)
	}
	state := 0
	if on {
		state = 1
	}
	return s.writeLine(fmt.Sprintf("%d %d\n", id, state))
}

func (s *Serial) Blackout() error {
	return s.writeLine("all 0\n")
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}
