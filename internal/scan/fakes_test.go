package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

type backendEvent struct {
	ID int
	On bool
}

// fakeBackend records every state change and flags any moment at which two
// units are on together.
type fakeBackend struct {
	mu         sync.Mutex
	count      int
	on         map[int]bool
	events     []backendEvent
	violations int
	blackouts  int
	failOn     map[int]bool
	afterOff   func(id int)
}

func newFakeBackend(count int) *fakeBackend {
	return &fakeBackend{count: count, on: make(map[int]bool), failOn: make(map[int]bool)}
}

func (b *fakeBackend) Count() int { return b.count }

func (b *fakeBackend) SetState(id int, on bool) error {
	b.mu.Lock()
	if on && b.failOn[id] {
		b.mu.Unlock()
		return fmt.Errorf("dmx write failed for %d", id)
	}
	if on {
		for other, lit := range b.on {
			if lit && other != id {
				b.violations++
			}
		}
	}
	b.on[id] = on
	b.events = append(b.events, backendEvent{ID: id, On: on})
	hook := b.afterOff
	b.mu.Unlock()

	if !on && hook != nil {
		hook(id)
	}
	return nil
}

func (b *fakeBackend) Blackout() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blackouts++
	for id := range b.on {
		b.on[id] = false
	}
	return nil
}

func (b *fakeBackend) snapshot() ([]backendEvent, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendEvent(nil), b.events...), b.violations, b.blackouts
}

type fakeCamera struct {
	view   int
	mu     sync.Mutex
	closed bool
}

func (c *fakeCamera) Capture(context.Context) ([]byte, error) { return []byte{0xff, 0xd8}, nil }

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func connectorFor(view int) Connector {
	return func(context.Context) (Camera, error) {
		return &fakeCamera{view: view}, nil
	}
}

func failingConnector(context.Context) (Camera, error) {
	return nil, errors.New("connection refused")
}

// fakeLocator dispatches on the camera's view and counts calls per view and unit.
type fakeLocator struct {
	mu     sync.Mutex
	calls  map[int]int
	behave func(view, call int) (*models.Point, error)
}

func newFakeLocator(behave func(view, call int) (*models.Point, error)) *fakeLocator {
	return &fakeLocator{calls: make(map[int]int), behave: behave}
}

func (l *fakeLocator) Locate(_ context.Context, cam Camera, _ int) (*models.Point, error) {
	view := cam.(*fakeCamera).view
	l.mu.Lock()
	call := l.calls[view]
	l.calls[view]++
	l.mu.Unlock()
	return l.behave(view, call)
}

func (l *fakeLocator) callsFor(view int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[view]
}

func found(x, y float64) (*models.Point, error) {
	return &models.Point{X: x, Y: y}, nil
}

type recordSink struct {
	mu   sync.Mutex
	obs  map[int][]models.Observation
	done map[int]int
}

func newRecordSink() *recordSink {
	return &recordSink{obs: make(map[int][]models.Observation), done: make(map[int]int)}
}

func (s *recordSink) Put(obs models.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs[obs.ViewID] = append(s.obs[obs.ViewID], obs)
}

func (s *recordSink) Done(viewID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[viewID]++
}

func (s *recordSink) observations(view int) []models.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Observation(nil), s.obs[view]...)
}

func (s *recordSink) doneCount(view int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[view]
}

type rig struct {
	coord   *Coordinator
	workers []*Worker
}

// newRig wires one worker per connector to a coordinator the way the session
// dispatcher does.
func newRig(t *testing.T, cfg CoordinatorConfig, backend LightBackend, locator Locator, sink Sink, connectors ...Connector) *rig {
	t.Helper()
	depth := cfg.UnitEnd - cfg.UnitStart + 2
	results := make(chan models.Result, len(connectors)*depth)
	commands := make([]chan<- models.Command, len(connectors))
	done := make([]<-chan struct{}, len(connectors))
	r := &rig{}
	cfg.ViewIDs = nil
	for i, conn := range connectors {
		ch := make(chan models.Command, depth)
		w := NewWorker(WorkerConfig{Name: fmt.Sprintf("cam-%d", i), ViewID: i, Threshold: 128}, conn, locator, ch, results)
		if sink != nil {
			w.AddSink(sink)
		}
		r.workers = append(r.workers, w)
		commands[i] = ch
		done[i] = w.Done()
		cfg.ViewIDs = append(cfg.ViewIDs, i)
	}
	coord, err := NewCoordinator(cfg, backend, commands, results, done)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	r.coord = coord
	for _, w := range r.workers {
		go w.Run(context.Background())
	}
	return r
}

func waitClosed(t *testing.T, ch <-chan struct{}, within time.Duration) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(within):
		return false
	}
}
