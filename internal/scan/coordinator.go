package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

const defaultShutdownGrace = 3 * time.Second

type CoordinatorConfig struct {
	UnitStart int
	UnitEnd   int
	// ViewIDs[i] is the view answering on command channel i.
	ViewIDs            []int
	ResponseTimeout    time.Duration
	StabilizationDelay time.Duration
	ShutdownGrace      time.Duration
	MinSuccessRate     float64
	MovementCheck      bool
}

// Coordinator is the only owner of the light backend in a multi-station session.
// It activates one unit at a time, broadcasts Activate to every worker and
// collects at most one result per view until all answered or the response
// timeout elapsed.
type Coordinator struct {
	cfg      CoordinatorConfig
	backend  LightBackend
	commands []chan<- models.Command
	results  <-chan models.Result
	done     []<-chan struct{}

	views map[int]int // view id -> command channel index
	stats map[int]*models.StationStats
	dead  map[int]bool
	first map[int]firstHit

	stop     chan struct{}
	stopOnce sync.Once
}

type firstHit struct {
	unit  int
	point models.Point
}

func NewCoordinator(cfg CoordinatorConfig, backend LightBackend, commands []chan<- models.Command, results <-chan models.Result, done []<-chan struct{}) (*Coordinator, error) {
	if len(commands) == 0 || len(commands) != len(cfg.ViewIDs) {
		return nil, fmt.Errorf("coordinator: %d command channels for %d views", len(commands), len(cfg.ViewIDs))
	}
	if cfg.ResponseTimeout <= 0 {
		return nil, errors.New("coordinator: response timeout must be positive")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}

	c := &Coordinator{
		cfg:      cfg,
		backend:  backend,
		commands: commands,
		results:  results,
		done:     done,
		views:    make(map[int]int, len(cfg.ViewIDs)),
		stats:    make(map[int]*models.StationStats, len(cfg.ViewIDs)),
		dead:     make(map[int]bool),
		first:    make(map[int]firstHit),
		stop:     make(chan struct{}),
	}
	for i, id := range cfg.ViewIDs {
		if _, dup := c.views[id]; dup {
			return nil, fmt.Errorf("coordinator: duplicate view id %d", id)
		}
		c.views[id] = i
		c.stats[id] = &models.StationStats{ViewID: id}
	}
	return c, nil
}

// Stop asks the coordinator to finish the current unit and shut the workers
// down. No Activate is sent after Stop returns.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) stopped(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run scans [UnitStart, UnitEnd) and returns the final per-view report. The
// report is returned even when err is not nil.
func (c *Coordinator) Run(ctx context.Context) (*models.Report, error) {
	report := &models.Report{
		Mode:      models.ModeCoordinated,
		UnitStart: c.cfg.UnitStart,
		StartedAt: time.Now(),
	}
	end := clampRange("Coordinator", c.cfg.UnitStart, c.cfg.UnitEnd, c.backend.Count())
	report.UnitEnd = end

	err := c.scan(ctx, report, end)

	c.shutdown()
	if berr := blackout(c.backend); berr != nil {
		log.Printf("Coordinator: failed to blacken backend: %v", berr)
	}

	finalize("Coordinator", report, c.stats, c.cfg.MinSuccessRate)
	report.FinishedAt = time.Now()

	if err == nil && report.Units > 0 && !report.Contributing() {
		err = ErrNoUsableData
	}
	if err != nil {
		report.Error = err.Error()
	}
	log.Printf("Coordinator: scan finished, %d units in %s", report.Units, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, err
}

func (c *Coordinator) scan(ctx context.Context, report *models.Report, end int) error {
	if err := blackout(c.backend); err != nil {
		return fmt.Errorf("%w: blackout: %v", ErrBackend, err)
	}

	log.Printf("Coordinator: starting coordinated scan of units %d to %d with %d views", c.cfg.UnitStart, end-1, len(c.views))
	for unit := c.cfg.UnitStart; unit < end; unit++ {
		if c.stopped(ctx) {
			log.Printf("Coordinator: scan interrupted at unit %d", unit)
			return nil
		}

		if err := c.scanUnit(unit); err != nil {
			return err
		}
		report.Units++

		if len(c.dead) == len(c.views) {
			log.Printf("Coordinator: every view is unable to capture, aborting after unit %d", unit)
			return ErrNoUsableData
		}
	}

	if c.cfg.MovementCheck && !c.stopped(ctx) {
		return c.checkMovement()
	}
	return nil
}

func (c *Coordinator) scanUnit(unit int) error {
	started := time.Now()

	if err := c.backend.SetState(unit, true); err != nil {
		return fmt.Errorf("%w: activate unit %d: %v", ErrBackend, unit, err)
	}
	if c.cfg.StabilizationDelay > 0 {
		time.Sleep(c.cfg.StabilizationDelay)
	}

	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	c.broadcast(models.Activate(unit).WithDeadline(deadline), c.cfg.ViewIDs)
	got := c.collect(unit, c.cfg.ViewIDs, deadline)

	// Deactivation happens regardless of how many views answered.
	offErr := c.backend.SetState(unit, false)

	detected := 0
	for _, id := range c.cfg.ViewIDs {
		outcome := models.OutcomeTimeout
		if res, ok := got[id]; ok {
			switch res.Kind {
			case models.ResultSuccess:
				outcome = models.OutcomeSuccess
				detected++
				if _, seen := c.first[id]; !seen {
					c.first[id] = firstHit{unit: unit, point: res.Point}
				}
			case models.ResultFailure:
				outcome = models.OutcomeFailure
			case models.ResultError:
				outcome = models.OutcomeError
				log.Printf("Coordinator: view %d error on unit %d: %s", id, unit, res.Message)
			}
		}
		c.stats[id].Record(outcome)
		metrics.RecordOutcome(id, string(outcome))
	}
	metrics.ObserveUnit(string(models.ModeCoordinated), time.Since(started))
	log.Printf("Coordinator: unit %d: %d/%d views detected", unit, detected, len(c.views))

	if offErr != nil {
		return fmt.Errorf("%w: deactivate unit %d: %v", ErrBackend, unit, offErr)
	}
	return nil
}

// broadcast sends cmd to the workers of the given views. Command channels are
// buffered; a full channel means the worker is far behind and the view will
// simply time out for this unit.
func (c *Coordinator) broadcast(cmd models.Command, viewIDs []int) {
	for _, id := range viewIDs {
		select {
		case c.commands[c.views[id]] <- cmd:
		default:
			log.Printf("Coordinator: command queue of view %d is full, dropping %s(%d)", id, cmd.Kind, cmd.UnitID)
		}
	}
}

// collect receives results for unit until every expected view answered or the
// deadline passed. Results for other units are discarded. Workers get the same
// deadline with the command and drop what they could not deliver in time.
func (c *Coordinator) collect(unit int, expected []int, deadline time.Time) map[int]models.Result {
	got := make(map[int]models.Result, len(expected))
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for len(got) < len(expected) {
		select {
		case res := <-c.results:
			c.accept(unit, expected, got, res)
		case <-timer.C:
			// Answers already queued still count: their worker checked the
			// deadline before sending.
			c.drainQueued(unit, expected, got)
			if len(got) == len(expected) {
				return got
			}
			missing := lo.Filter(expected, func(id int, _ int) bool {
				_, ok := got[id]
				return !ok
			})
			log.Printf("Coordinator: unit %d: timeout waiting for views %v, received %d/%d responses",
				unit, missing, len(got), len(expected))
			return got
		}
	}
	return got
}

func (c *Coordinator) drainQueued(unit int, expected []int, got map[int]models.Result) {
	for {
		select {
		case res := <-c.results:
			c.accept(unit, expected, got, res)
		default:
			return
		}
	}
}

// accept records res in got when it is the first answer of an expected view
// for unit. A fatal result marks its view dead whatever unit it carries.
func (c *Coordinator) accept(unit int, expected []int, got map[int]models.Result, res models.Result) {
	if _, known := c.views[res.ViewID]; !known {
		log.Printf("Coordinator: result from unknown view %d ignored", res.ViewID)
		return
	}
	if res.Fatal && !c.dead[res.ViewID] {
		c.dead[res.ViewID] = true
		c.stats[res.ViewID].Dead = true
		log.Printf("Coordinator: view %d can no longer capture: %s", res.ViewID, res.Message)
	}
	if res.UnitID == models.NoUnit {
		return
	}
	if res.UnitID != unit {
		log.Printf("Coordinator: view %d returned result for unit %d, expected unit %d", res.ViewID, res.UnitID, unit)
		return
	}
	if !lo.Contains(expected, res.ViewID) {
		return
	}
	if _, dup := got[res.ViewID]; dup {
		log.Printf("Coordinator: duplicate result from view %d for unit %d ignored", res.ViewID, unit)
		return
	}
	got[res.ViewID] = res
}

// checkMovement re-activates the first unit every view detected and compares
// the new position with the original one.
func (c *Coordinator) checkMovement() error {
	byUnit := lo.GroupBy(lo.Keys(c.first), func(id int) int { return c.first[id].unit })
	units := lo.Keys(byUnit)
	slices.Sort(units)

	for _, unit := range units {
		views := byUnit[unit]
		slices.Sort(views)

		if err := c.backend.SetState(unit, true); err != nil {
			return fmt.Errorf("%w: activate unit %d for movement check: %v", ErrBackend, unit, err)
		}
		if c.cfg.StabilizationDelay > 0 {
			time.Sleep(c.cfg.StabilizationDelay)
		}
		deadline := time.Now().Add(c.cfg.ResponseTimeout)
		c.broadcast(models.Recheck(unit).WithDeadline(deadline), views)
		got := c.collect(unit, views, deadline)
		if err := c.backend.SetState(unit, false); err != nil {
			return fmt.Errorf("%w: deactivate unit %d for movement check: %v", ErrBackend, unit, err)
		}

		for _, id := range views {
			res, ok := got[id]
			if !ok || res.Kind != models.ResultSuccess {
				log.Printf("Coordinator: view %d could no longer find unit %d, cannot perform movement check", id, unit)
				continue
			}
			if d := distance(res.Point, c.first[id].point); d > movementTolerance {
				c.stats[id].Moved = true
				log.Printf("Coordinator: camera movement of %d%% detected on view %d", int(d*100), id)
			}
		}
	}
	return nil
}

// shutdown sends Shutdown to every worker and waits for them to terminate, at
// most ShutdownGrace in total. Results arriving meanwhile are drained so that
// no worker blocks on flushing its last answer.
func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()

	for i, ch := range c.commands {
		select {
		case ch <- models.Shutdown():
		case <-ctx.Done():
			log.Printf("Coordinator: failed to send shutdown to view %d", c.cfg.ViewIDs[i])
		}
	}

	for i, done := range c.done {
	wait:
		for {
			select {
			case <-done:
				break wait
			case <-c.results:
			case <-ctx.Done():
				log.Printf("Coordinator: view %d did not stop within %s", c.cfg.ViewIDs[i], c.cfg.ShutdownGrace)
				break wait
			}
		}
	}
}
