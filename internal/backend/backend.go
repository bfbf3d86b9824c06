// Package backend contains the light backends a scan can drive.
package backend

import (
	"fmt"
	"io"
	"log"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/config"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
)

const (
	TypeMemory = "memory"
	TypeOSC    = "osc"
	TypeSerial = "serial"
	TypeArtNet = "artnet"
)

const defaultBaudRate = 115200

// Backend is a light backend that can be blacked out and released.
type Backend interface {
	scan.LightBackend
	scan.Blackouter
	io.Closer
}

// New opens the backend described by cfg.
func New(cfg config.Backend) (Backend, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("backend: count must be positive, got %d", cfg.Count)
	}

	switch cfg.Type {
	case TypeMemory, "":
		log.Printf("Backend: using in-memory backend with %d lights", cfg.Count)
		return NewMemory(cfg.Count), nil
	case TypeOSC:
		log.Printf("Backend: sending OSC to %s (%d lights)", cfg.Address, cfg.Count)
		return NewOSC(cfg.Address, cfg.Count)
	case TypeArtNet:
		log.Printf("Backend: sending Art-Net to %s from universe %d, %d channels per fixture (%d lights)",
			cfg.Address, cfg.Universe, cfg.ChannelsPerFixture, cfg.Count)
		return NewArtNet(cfg.Address, cfg.Count, cfg.Universe, cfg.ChannelsPerFixture)
	case TypeSerial:
		baud := cfg.BaudRate
		if baud <= 0 {
			baud = defaultBaudRate
		}
		log.Printf("Backend: opening serial port %s at %d baud (%d lights)", cfg.Device, baud, cfg.Count)
		return NewSerial(cfg.Device, baud, cfg.Count)
	default:
		return nil, fmt.Errorf("backend: unknown type %q", cfg.Type)
	}
}
