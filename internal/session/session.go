package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
)

// Station is one configured camera. Connect is only invoked by whoever ends up
// owning the camera, after the execution path has been chosen.
type Station struct {
	Name      string
	Threshold int
	Connect   scan.Connector
}

// Session is created once per scan and read-only afterwards.
type Session struct {
	ID        string
	UnitStart int
	UnitEnd   int
	Stations  []Station
	// ViewOffset is the view id of the first station; station i is view ViewOffset+i.
	ViewOffset         int
	ResponseTimeout    time.Duration
	StabilizationDelay time.Duration
	SettleDelay        time.Duration
	ShutdownGrace      time.Duration
	MovementCheck      bool
	// MinSuccessRate below which a view is reported degraded. Zero disables it.
	MinSuccessRate float64
}

// Plan is the execution path of a session, chosen once by NewPlan.
type Plan interface {
	Mode() models.Mode
	run(ctx context.Context, d *Dispatcher) (*models.Report, error)
}

// DirectPlan runs a single station without coordinator, workers or timeout.
type DirectPlan struct {
	Session Session
	Station Station
	ViewID  int
}

func (p *DirectPlan) Mode() models.Mode { return models.ModeDirect }

// CoordinatedPlan runs one worker per station behind a coordinator.
type CoordinatedPlan struct {
	Session Session
	ViewIDs []int
}

func (p *CoordinatedPlan) Mode() models.Mode { return models.ModeCoordinated }

// NewPlan validates s and picks the execution path from the number of
// stations. No station connection is opened here.
func NewPlan(s Session) (Plan, error) {
	if s.UnitStart < 0 {
		return nil, fmt.Errorf("unit start %d is negative", s.UnitStart)
	}
	if s.UnitEnd < s.UnitStart {
		return nil, fmt.Errorf("unit start %d is greater than unit end %d", s.UnitStart, s.UnitEnd)
	}
	for i, st := range s.Stations {
		if st.Connect == nil {
			return nil, fmt.Errorf("station %d (%s) has no connector", i, st.Name)
		}
	}

	switch len(s.Stations) {
	case 0:
		return nil, errors.New("no stations configured")
	case 1:
		return &DirectPlan{Session: s, Station: s.Stations[0], ViewID: s.ViewOffset}, nil
	default:
		if s.ResponseTimeout <= 0 {
			return nil, errors.New("response timeout is required for multi-station sessions")
		}
		ids := make([]int, len(s.Stations))
		for i := range s.Stations {
			ids[i] = s.ViewOffset + i
		}
		return &CoordinatedPlan{Session: s, ViewIDs: ids}, nil
	}
}

// Dispatcher runs sessions against one light backend and one locator. Sinks
// receive the observation stream of every view.
type Dispatcher struct {
	backend scan.LightBackend
	locator scan.Locator
	sinks   []scan.Sink
}

func NewDispatcher(backend scan.LightBackend, locator scan.Locator, sinks ...scan.Sink) *Dispatcher {
	return &Dispatcher{backend: backend, locator: locator, sinks: sinks}
}

// Run plans and executes s. The report is returned even when err is not nil,
// except when s itself is invalid.
func (d *Dispatcher) Run(ctx context.Context, s Session) (*models.Report, error) {
	plan, err := NewPlan(s)
	if err != nil {
		return nil, fmt.Errorf("plan session: %w", err)
	}
	return d.Execute(ctx, plan)
}

// Execute runs an already chosen plan.
func (d *Dispatcher) Execute(ctx context.Context, plan Plan) (*models.Report, error) {
	log.Printf("Session: running in %s mode", plan.Mode())
	metrics.SessionStarted()
	report, err := plan.run(ctx, d)
	metrics.SessionFinished(string(plan.Mode()), err)
	return report, err
}

func (p *DirectPlan) run(ctx context.Context, d *Dispatcher) (*models.Report, error) {
	s := p.Session
	cam, err := p.Station.Connect(ctx)
	if err != nil {
		err = fmt.Errorf("%w: connect station %s: %v", scan.ErrNoUsableData, p.Station.Name, err)
		return &models.Report{
			SessionID: s.ID,
			Mode:      models.ModeDirect,
			UnitStart: s.UnitStart,
			UnitEnd:   s.UnitEnd,
			Views:     []models.StationStats{{ViewID: p.ViewID, Dead: true, Degraded: true}},
			Error:     err.Error(),
		}, err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Printf("Session: failed to release camera %s: %v", p.Station.Name, err)
		}
	}()

	report, err := scan.RunDirect(ctx, scan.DirectConfig{
		UnitStart:          s.UnitStart,
		UnitEnd:            s.UnitEnd,
		ViewID:             p.ViewID,
		Threshold:          p.Station.Threshold,
		StabilizationDelay: s.StabilizationDelay,
		MinSuccessRate:     s.MinSuccessRate,
		MovementCheck:      s.MovementCheck,
	}, d.backend, cam, d.locator, d.sinks)
	report.SessionID = s.ID
	return report, err
}

func (p *CoordinatedPlan) run(ctx context.Context, d *Dispatcher) (*models.Report, error) {
	s := p.Session
	units := s.UnitEnd - s.UnitStart
	// Every send in the session fits in the buffers: one Activate per unit, one
	// Recheck and one Shutdown per worker.
	depth := units + 2

	results := make(chan models.Result, len(s.Stations)*depth)
	commands := make([]chan<- models.Command, len(s.Stations))
	done := make([]<-chan struct{}, len(s.Stations))

	settle := s.SettleDelay
	if settle <= 0 {
		settle = scan.DefaultSettleDelay
	}

	workers := make([]*scan.Worker, len(s.Stations))
	for i, st := range s.Stations {
		ch := make(chan models.Command, depth)
		w := scan.NewWorker(scan.WorkerConfig{
			Name:        st.Name,
			ViewID:      p.ViewIDs[i],
			Threshold:   st.Threshold,
			SettleDelay: settle,
		}, st.Connect, d.locator, ch, results)
		for _, sink := range d.sinks {
			w.AddSink(sink)
		}
		workers[i] = w
		commands[i] = ch
		done[i] = w.Done()
	}

	coord, err := scan.NewCoordinator(scan.CoordinatorConfig{
		UnitStart:          s.UnitStart,
		UnitEnd:            s.UnitEnd,
		ViewIDs:            p.ViewIDs,
		ResponseTimeout:    s.ResponseTimeout,
		StabilizationDelay: s.StabilizationDelay,
		ShutdownGrace:      s.ShutdownGrace,
		MinSuccessRate:     s.MinSuccessRate,
		MovementCheck:      s.MovementCheck,
	}, d.backend, commands, results, done)
	if err != nil {
		return nil, err
	}

	for _, w := range workers {
		go w.Run(ctx)
	}

	log.Printf("Session: %d stations, view ids %d to %d", len(s.Stations), p.ViewIDs[0], p.ViewIDs[len(p.ViewIDs)-1])
	report, err := coord.Run(ctx)
	report.SessionID = s.ID
	return report, err
}
