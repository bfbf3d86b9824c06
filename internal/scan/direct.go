package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

type DirectConfig struct {
	UnitStart          int
	UnitEnd            int
	ViewID             int
	Threshold          int
	StabilizationDelay time.Duration
	MinSuccessRate     float64
	MovementCheck      bool
}

// RunDirect scans a range with a single station. There is no worker, no result
// channel and no response timeout: every locate is awaited to completion.
// Observations have the same shape as in the coordinated path.
func RunDirect(ctx context.Context, cfg DirectConfig, backend LightBackend, cam Camera, locator Locator, sinks []Sink) (*models.Report, error) {
	report := &models.Report{
		Mode:      models.ModeDirect,
		UnitStart: cfg.UnitStart,
		StartedAt: time.Now(),
	}
	end := clampRange("Direct", cfg.UnitStart, cfg.UnitEnd, backend.Count())
	report.UnitEnd = end

	d := &direct{
		cfg:     cfg,
		backend: backend,
		cam:     cam,
		locator: locator,
		sinks:   sinks,
		stats:   &models.StationStats{ViewID: cfg.ViewID},
	}

	err := d.scan(ctx, report, end)

	doneAll(sinks, cfg.ViewID)
	if berr := blackout(backend); berr != nil {
		log.Printf("Direct: failed to blacken backend: %v", berr)
	}

	finalize("Direct", report, map[int]*models.StationStats{cfg.ViewID: d.stats}, cfg.MinSuccessRate)
	report.FinishedAt = time.Now()

	if err == nil && report.Units > 0 && !report.Contributing() {
		err = ErrNoUsableData
	}
	if err != nil {
		report.Error = err.Error()
	}
	log.Printf("Direct: scan finished, %d units in %s", report.Units, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, err
}

type direct struct {
	cfg     DirectConfig
	backend LightBackend
	cam     Camera
	locator Locator
	sinks   []Sink
	stats   *models.StationStats
	first   *firstHit
}

func (d *direct) scan(ctx context.Context, report *models.Report, end int) error {
	if err := blackout(d.backend); err != nil {
		return fmt.Errorf("%w: blackout: %v", ErrBackend, err)
	}

	captureCtx := context.WithoutCancel(ctx)
	log.Printf("Direct: starting scan of units %d to %d on view %d", d.cfg.UnitStart, end-1, d.cfg.ViewID)
	for unit := d.cfg.UnitStart; unit < end; unit++ {
		if ctx.Err() != nil {
			log.Printf("Direct: scan interrupted at unit %d", unit)
			return nil
		}
		if err := d.scanUnit(captureCtx, unit); err != nil {
			return err
		}
		report.Units++
	}

	if d.cfg.MovementCheck && d.first != nil && ctx.Err() == nil {
		return d.checkMovement(captureCtx)
	}
	return nil
}

// activate switches unit on and waits for it to stabilize.
func (d *direct) activate(unit int) error {
	if err := d.backend.SetState(unit, true); err != nil {
		return fmt.Errorf("%w: activate unit %d: %v", ErrBackend, unit, err)
	}
	if d.cfg.StabilizationDelay > 0 {
		time.Sleep(d.cfg.StabilizationDelay)
	}
	return nil
}

func (d *direct) scanUnit(ctx context.Context, unit int) error {
	started := time.Now()

	if err := d.activate(unit); err != nil {
		return err
	}
	point, locErr := safeLocate(ctx, d.locator, d.cam, d.cfg.Threshold)

	outcome := models.OutcomeSuccess
	switch {
	case locErr != nil:
		point = nil
		outcome = models.OutcomeError
		log.Printf("Direct: error during unit %d detection: %v", unit, locErr)
	case point == nil:
		outcome = models.OutcomeFailure
	default:
		if d.first == nil {
			d.first = &firstHit{unit: unit, point: *point}
		}
	}

	putAll(d.sinks, models.Observation{
		UnitID:    unit,
		ViewID:    d.cfg.ViewID,
		Point:     point,
		Success:   point != nil,
		Timestamp: time.Now(),
	})

	offErr := d.backend.SetState(unit, false)

	d.stats.Record(outcome)
	metrics.RecordOutcome(d.cfg.ViewID, string(outcome))
	metrics.ObserveUnit(string(models.ModeDirect), time.Since(started))
	log.Printf("Direct: unit %d: %s", unit, outcome)

	if offErr != nil {
		return fmt.Errorf("%w: deactivate unit %d: %v", ErrBackend, unit, offErr)
	}
	return nil
}

func (d *direct) checkMovement(ctx context.Context) error {
	if err := d.activate(d.first.unit); err != nil {
		return err
	}
	point, locErr := safeLocate(ctx, d.locator, d.cam, d.cfg.Threshold)
	if err := d.backend.SetState(d.first.unit, false); err != nil {
		return fmt.Errorf("%w: deactivate unit %d: %v", ErrBackend, d.first.unit, err)
	}

	if locErr != nil || point == nil {
		log.Printf("Direct: went back to check unit %d for movement and could no longer find it, cannot perform movement check", d.first.unit)
		return nil
	}
	if dist := distance(*point, d.first.point); dist > movementTolerance {
		d.stats.Moved = true
		log.Printf("Direct: camera movement of %d%% has been detected", int(dist*100))
	}
	return nil
}
