package backend

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
)

const oscStateAddress = "/led"

// OSC drives a light controller that listens for "/led <id> <0|1>" messages
// over UDP. The receiver knows no other address, so Blackout switches every
// light off one message at a time.
type OSC struct {
	client *osc.Client
	count  int
}

func NewOSC(address string, count int) (*OSC, error) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("osc: address %q: %w", address, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("osc: port %q: %w", rawPort, err)
	}
	return &OSC{client: osc.NewClient(host, port), count: count}, nil
}

func (o *OSC) Count() int { return o.count }

func (o *OSC) SetState(id int, on bool) error {
	if id < 0 || id >= o.count {
		return fmt.Errorf("osc: id %d out of range [0, %d)", id, o.count)
	}
	var state int32
	if on {
		state = 1
	}
	if err := o.client.Send(osc.NewMessage(oscStateAddress, int32(id), state)); err != nil {
		return fmt.Errorf("osc: send %s %d: %w", oscStateAddress, id, err)
	}
	return nil
}

func (o *OSC) Blackout() error {
	for id := 0; id < o.count; id++ {
		if err := o.SetState(id, false); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op: the client opens a socket per message.
func (o *OSC) Close() error { return nil }
