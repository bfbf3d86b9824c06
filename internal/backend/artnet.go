package backend

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jsimonetti/go-artnet/packet"
)

const (
	artnetPort         = 6454
	artnetUniverseSize = 512
	// Many nodes only latch after a few identical frames.
	artnetFrames        = 5
	artnetFrameInterval = 50 * time.Millisecond
)

// ArtNet drives brightness-only DMX fixtures laid out on consecutive Art-Net
// universes starting at a base universe. A lit fixture has every channel at full.
type ArtNet struct {
	mu       sync.Mutex
	conn     net.Conn
	count    int
	channels int
	base     int
	levels   []byte
	sequence uint8

	frames   int
	interval time.Duration
}

// NewArtNet sends to address, a host with an optional port. The default
// broadcast target 255.255.255.255 works as is.
func NewArtNet(address string, count, baseUniverse, channelsPerFixture int) (*ArtNet, error) {
	if channelsPerFixture <= 0 {
		channelsPerFixture = 1
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(artnetPort))
	}
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("artnet: dial %s: %w", address, err)
	}

	universes := (count*channelsPerFixture + artnetUniverseSize - 1) / artnetUniverseSize
	return &ArtNet{
		conn:     conn,
		count:    count,
		channels: channelsPerFixture,
		base:     baseUniverse,
		levels:   make([]byte, universes*artnetUniverseSize),
		frames:   artnetFrames,
		interval: artnetFrameInterval,
	}, nil
}

func (a *ArtNet) Count() int { return a.count }

func (a *ArtNet) SetState(id int, on bool) error {
	if id < 0 || id >= a.count {
		return fmt.Errorf("artnet: id %d out of range [0, %d)", id, a.count)
	}
	var level byte
	if on {
		level = 255
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	first := id * a.channels
	for c := first; c < first+a.channels; c++ {
		a.levels[c] = level
	}
	return a.flush()
}

func (a *ArtNet) Blackout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.levels)
	return a.flush()
}

func (a *ArtNet) Close() error {
	return a.conn.Close()
}

// flush sends every universe frames times. Callers hold mu.
func (a *ArtNet) flush() error {
	universes := len(a.levels) / artnetUniverseSize
	for f := 0; f < a.frames; f++ {
		if f > 0 && a.interval > 0 {
			time.Sleep(a.interval)
		}
		for u := 0; u < universes; u++ {
			b, err := a.dmxPacket(u)
			if err != nil {
				return fmt.Errorf("artnet: encode universe %d: %w", a.base+u, err)
			}
			if _, err := a.conn.Write(b); err != nil {
				return fmt.Errorf("artnet: write universe %d: %w", a.base+u, err)
			}
		}
	}
	return nil
}

// dmxPacket encodes universe u of the level buffer. The 15-bit port address
// is split into Net (high 7 bits) and SubUni (low byte).
func (a *ArtNet) dmxPacket(u int) ([]byte, error) {
	addr := a.base + u
	p := packet.NewArtDMXPacket()
	p.Sequence = a.sequence
	p.SubUni = uint8(addr & 0xff)
	p.Net = uint8(addr >> 8 & 0x7f)
	p.Length = artnetUniverseSize
	copy(p.Data[:], a.levels[u*artnetUniverseSize:(u+1)*artnetUniverseSize])
	a.sequence++
	return p.MarshalBinary()
}
