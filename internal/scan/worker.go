package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

// DefaultSettleDelay is the pause a worker takes after receiving Activate and
// before capturing.
const DefaultSettleDelay = 30 * time.Millisecond

type WorkerConfig struct {
	Name        string
	ViewID      int
	Threshold   int
	SettleDelay time.Duration
}

// Worker owns one camera and answers every Activate it receives exactly once.
// It never touches the light backend.
type Worker struct {
	cfg      WorkerConfig
	connect  Connector
	locator  Locator
	commands <-chan models.Command
	results  chan<- models.Result
	sinks    []Sink
	done     chan struct{}

	attempted  int
	successful int
}

func NewWorker(cfg WorkerConfig, connect Connector, locator Locator, commands <-chan models.Command, results chan<- models.Result) *Worker {
	return &Worker{
		cfg:      cfg,
		connect:  connect,
		locator:  locator,
		commands: commands,
		results:  results,
		done:     make(chan struct{}),
	}
}

// AddSink registers a downstream consumer. It must be called before Run.
func (w *Worker) AddSink(s Sink) {
	w.sinks = append(w.sinks, s)
}

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run opens the camera and serves commands until Shutdown. ctx is only used to
// open the camera and is detached for captures, so an in-flight locate always
// runs to completion.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	log.Printf("Worker %d: starting (station %s)", w.cfg.ViewID, w.cfg.Name)
	cam, err := w.connect(ctx)
	if err != nil {
		cam = nil
		log.Printf("Worker %d: failed to initialize camera: %v", w.cfg.ViewID, err)
		w.results <- models.Result{
			Kind:    models.ResultError,
			ViewID:  w.cfg.ViewID,
			UnitID:  models.NoUnit,
			Message: fmt.Sprintf("initialization failed: %v", err),
			Fatal:   true,
		}
	} else {
		log.Printf("Worker %d: camera connected, waiting for commands", w.cfg.ViewID)
	}

	captureCtx := context.WithoutCancel(ctx)
	defer w.finish(cam)

	for {
		cmd, ok := <-w.commands
		if !ok {
			return
		}
		switch cmd.Kind {
		case models.CommandActivate:
			w.detectAndReport(captureCtx, cam, cmd, true)
		case models.CommandRecheck:
			w.detectAndReport(captureCtx, cam, cmd, false)
		case models.CommandShutdown:
			log.Printf("Worker %d: received shutdown", w.cfg.ViewID)
			return
		default:
			log.Printf("Worker %d: unknown command %d", w.cfg.ViewID, cmd.Kind)
		}
	}
}

// overtaken reports whether the coordinator has already moved past cmd: it
// queued a newer command or stopped collecting for cmd's unit.
func (w *Worker) overtaken(cmd models.Command) bool {
	return len(w.commands) > 0 || cmd.Expired(time.Now())
}

func (w *Worker) detectAndReport(ctx context.Context, cam Camera, cmd models.Command, forward bool) {
	unit := cmd.UnitID
	if forward {
		w.attempted++
	}

	if cam == nil {
		w.results <- models.Result{
			Kind:    models.ResultError,
			ViewID:  w.cfg.ViewID,
			UnitID:  unit,
			Message: "camera unavailable",
			Fatal:   true,
		}
		if forward {
			w.forward(unit, nil)
		}
		return
	}

	if !w.overtaken(cmd) && w.cfg.SettleDelay > 0 {
		time.Sleep(w.cfg.SettleDelay)
	}
	// The unit is no longer lit: answer without capturing.
	if w.overtaken(cmd) {
		log.Printf("Worker %d: unit %d is no longer lit, skipping capture", w.cfg.ViewID, unit)
		w.results <- models.Result{Kind: models.ResultFailure, ViewID: w.cfg.ViewID, UnitID: unit, Message: "skipped"}
		if forward {
			w.forward(unit, nil)
		}
		return
	}

	point, err := safeLocate(ctx, w.locator, cam, w.cfg.Threshold)
	if cmd.Expired(time.Now()) {
		// Nobody collects this answer any more and the frame may show a
		// later unit.
		log.Printf("Worker %d: unit %d answered after the response timeout, dropping it", w.cfg.ViewID, unit)
		w.results <- models.Result{Kind: models.ResultFailure, ViewID: w.cfg.ViewID, UnitID: unit, Message: "late"}
		if forward {
			w.forward(unit, nil)
		}
		return
	}

	switch {
	case err != nil:
		point = nil
		log.Printf("Worker %d: error during unit %d detection: %v", w.cfg.ViewID, unit, err)
		w.results <- models.Result{Kind: models.ResultError, ViewID: w.cfg.ViewID, UnitID: unit, Message: err.Error()}
	case point == nil:
		w.results <- models.Result{Kind: models.ResultFailure, ViewID: w.cfg.ViewID, UnitID: unit}
	default:
		if forward {
			w.successful++
		}
		w.results <- models.Result{Kind: models.ResultSuccess, ViewID: w.cfg.ViewID, UnitID: unit, Point: *point}
	}

	if forward {
		w.forward(unit, point)
	}
}

func (w *Worker) forward(unit int, point *models.Point) {
	putAll(w.sinks, models.Observation{
		UnitID:    unit,
		ViewID:    w.cfg.ViewID,
		Point:     point,
		Success:   point != nil,
		Timestamp: time.Now(),
	})
}

func (w *Worker) finish(cam Camera) {
	doneAll(w.sinks, w.cfg.ViewID)

	if w.attempted > 0 {
		log.Printf("Worker %d: detected %d/%d units (%.1f%% success)",
			w.cfg.ViewID, w.successful, w.attempted, float64(w.successful)/float64(w.attempted)*100)
	}
	if cam != nil {
		if err := cam.Close(); err != nil {
			log.Printf("Worker %d: failed to release camera: %v", w.cfg.ViewID, err)
		}
	}
	log.Printf("Worker %d: stopped", w.cfg.ViewID)
}
