// Package scan implements the per-unit capture rendezvous: a Coordinator that
// owns the light backend and drives workers over channels, the Worker that owns
// one camera, and the direct single-station loop.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

var (
	// ErrBackend wraps any failure of the light backend. It is fatal for the session.
	ErrBackend = errors.New("light backend failure")

	// ErrNoUsableData is returned when no view produced a located point, or when
	// every view became unable to capture for the remaining range.
	ErrNoUsableData = errors.New("no usable data")
)

// LightBackend switches individual lights. Only the Coordinator or the direct
// loop may hold one.
type LightBackend interface {
	Count() int
	SetState(id int, on bool) error
}

// Blackouter is implemented by backends that can switch every light off at once.
type Blackouter interface {
	Blackout() error
}

// Camera is a connected camera handle owned by exactly one worker.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Connector opens the camera of one station. It is called by the worker that
// will own the handle, never by the dispatcher.
type Connector func(ctx context.Context) (Camera, error)

// Locator captures a frame from cam and returns the normalized position of the
// lit unit, or nil when nothing was found.
type Locator interface {
	Locate(ctx context.Context, cam Camera, threshold int) (*models.Point, error)
}

// Sink receives the observation stream of every view. Put is called once per
// unit and view, with a nil Point for skipped units. Done is called when a view
// has finished.
type Sink interface {
	Put(obs models.Observation)
	Done(viewID int)
}

// movementTolerance is the normalized distance beyond which a re-located unit
// is considered to have moved.
const movementTolerance = 0.01

// safeLocate calls locator and reports a panic as an error.
func safeLocate(ctx context.Context, locator Locator, cam Camera, threshold int) (point *models.Point, err error) {
	defer func() {
		if r := recover(); r != nil {
			point, err = nil, fmt.Errorf("locator panic: %v", r)
		}
	}()
	return locator.Locate(ctx, cam, threshold)
}

func blackout(b LightBackend) error {
	if bo, ok := b.(Blackouter); ok {
		return bo.Blackout()
	}
	for id := 0; id < b.Count(); id++ {
		if err := b.SetState(id, false); err != nil {
			return fmt.Errorf("switch off %d: %w", id, err)
		}
	}
	return nil
}

// clampRange limits end to the number of lights the backend exposes.
func clampRange(prefix string, start, end, count int) int {
	if end > count {
		log.Printf("%s: adjusted unit end from %d to %d (backend count %d)", prefix, end, count, count)
		end = count
	}
	if end < start {
		end = start
	}
	return end
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func putAll(sinks []Sink, obs models.Observation) {
	for _, s := range sinks {
		s.Put(obs)
	}
}

func doneAll(sinks []Sink, viewID int) {
	for _, s := range sinks {
		s.Done(viewID)
	}
}
