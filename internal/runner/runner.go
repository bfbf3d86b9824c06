package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/config"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/database"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/s3"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/session"
)

// ErrBusy is returned when a session is requested while another one holds the
// light backend.
var ErrBusy = errors.New("another scan session is running")

const persistTimeout = 10 * time.Second

// RequestSource delivers scan requests, typically a kafka.Consumer.
type RequestSource interface {
	Requests() <-chan kafka.Request
}

// Deps are the collaborators of a runner. DB, S3, Producer and Requests are
// optional.
type Deps struct {
	Backend  scan.LightBackend
	Locator  scan.Locator
	Stations []session.Station

	DB       *database.Database
	S3       *s3.Client
	Producer *kafka.Producer
	Requests RequestSource
}

type Runner struct {
	cfg  config.Scan
	deps Deps

	activeRunners map[string]context.CancelFunc
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func New(cfg config.Scan, deps Deps) *Runner {
	return &Runner{
		cfg:           cfg,
		deps:          deps,
		activeRunners: make(map[string]context.CancelFunc),
	}
}

// ListenAndRun serves scan requests until ctx is done or the request source is
// closed, then waits for the running session to finish.
func (r *Runner) ListenAndRun(ctx context.Context) {
	defer r.wg.Wait()

	if r.deps.Requests == nil {
		log.Println("Runner: no request source configured")
		return
	}

	log.Println("Runner: listening for scan requests")
	for {
		select {
		case <-ctx.Done():
			log.Println("Runner: shutting down")
			return
		case req, ok := <-r.deps.Requests.Requests():
			if !ok {
				log.Println("Runner: request source closed")
				return
			}
			log.Printf("Runner: received %s request for session %q", req.Action, req.SessionID)

			switch req.Action {
			case models.CommandStart:
				if _, err := r.Start(ctx, req.ScanRequest); err != nil {
					log.Printf("Runner: cannot start session: %v", err)
				}
			case models.CommandStop:
				if !r.Stop(req.SessionID) {
					log.Printf("Runner %s: not running", req.SessionID)
				}
			default:
				log.Printf("Unknown command: %s", req.Action)
			}

			// A rejected start is not retried: the backend stays busy until the
			// running session ends.
			req.Ack()
		}
	}
}

// Start launches a session in the background and returns its id.
func (r *Runner) Start(ctx context.Context, req models.ScanRequest) (string, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	r.mu.Lock()
	if len(r.activeRunners) > 0 {
		r.mu.Unlock()
		return "", ErrBusy
	}
	childCtx, cancel := context.WithCancel(ctx)
	r.activeRunners[req.SessionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRunners, req.SessionID)
			r.mu.Unlock()
			cancel()
			r.wg.Done()

			log.Printf("Runner %s finished", req.SessionID)
		}()

		if _, err := r.RunOnce(childCtx, req); err != nil {
			log.Printf("Runner %s error: %v", req.SessionID, err)
		}
	}()

	return req.SessionID, nil
}

// Stop cancels a running session; an empty id stops whatever is running. The
// session ends at the next unit boundary.
func (r *Runner) Stop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopped := false
	for id, cancel := range r.activeRunners {
		if sessionID == "" || id == sessionID {
			cancel()
			log.Printf("Runner %s stopped", id)
			stopped = true
		}
	}
	return stopped
}

// Active returns the ids of running sessions.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.activeRunners))
	for id := range r.activeRunners {
		ids = append(ids, id)
	}
	return ids
}

// RunOnce runs one session synchronously and persists its outcome.
func (r *Runner) RunOnce(ctx context.Context, req models.ScanRequest) (*models.Report, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	project := req.Project
	if project == "" {
		project = r.cfg.Project
	}

	s := session.Session{
		ID:                 req.SessionID,
		UnitStart:          r.cfg.Start,
		UnitEnd:            r.cfg.End,
		Stations:           r.deps.Stations,
		ResponseTimeout:    r.cfg.ResponseTimeout,
		StabilizationDelay: r.cfg.StabilizationDelay,
		SettleDelay:        r.cfg.SettleDelay,
		ShutdownGrace:      r.cfg.ShutdownGrace,
		MinSuccessRate:     r.cfg.SuccessRate(),
		MovementCheck:      r.cfg.MovementCheck,
	}
	if req.Start != nil {
		s.UnitStart = *req.Start
	}
	if req.End != nil {
		s.UnitEnd = *req.End
	}

	if r.deps.S3 != nil {
		offset, err := r.deps.S3.CountViews(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("count existing views: %w", err)
		}
		s.ViewOffset = offset
	}

	plan, err := session.NewPlan(s)
	if err != nil {
		return nil, fmt.Errorf("plan session: %w", err)
	}

	if r.deps.DB != nil {
		if err := r.deps.DB.CreateSession(ctx, &models.SessionRecord{
			ID:        s.ID,
			Project:   project,
			Mode:      plan.Mode(),
			Status:    models.StatusRunning,
			UnitStart: s.UnitStart,
			UnitEnd:   s.UnitEnd,
		}); err != nil {
			log.Printf("Database error: %v", err)
			return nil, err
		}
	}
	log.Printf("Runner %s: project %q, units %d to %d, view offset %d", s.ID, project, s.UnitStart, s.UnitEnd, s.ViewOffset)

	var sinks []scan.Sink
	if r.deps.Producer != nil {
		sinks = append(sinks, r.deps.Producer)
	}
	var writer *s3.ViewWriter
	if r.deps.S3 != nil {
		writer = r.deps.S3.NewViewWriter(context.WithoutCancel(ctx), project)
		sinks = append(sinks, writer)
	}

	report, runErr := session.NewDispatcher(r.deps.Backend, r.deps.Locator, sinks...).Execute(ctx, plan)
	if report == nil {
		return nil, runErr
	}

	if writer != nil {
		if err := writer.Err(); err != nil {
			log.Printf("Runner %s: some views were not saved: %v", s.ID, err)
		}
	}
	r.persist(ctx, report, runErr)
	return report, runErr
}

// persist records the outcome even when ctx is already cancelled by a stop.
func (r *Runner) persist(ctx context.Context, report *models.Report, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	status := models.StatusCompleted
	if runErr != nil {
		status = models.StatusFailed
	}

	if r.deps.DB != nil {
		if err := r.deps.DB.SaveReport(ctx, report, status); err != nil {
			log.Printf("Runner %s error saving report: %v", report.SessionID, err)
		}
	}
	if r.deps.Producer != nil {
		if err := r.deps.Producer.SendReport(*report); err != nil {
			log.Printf("Runner %s error publishing report: %v", report.SessionID, err)
		}
	}
	log.Printf("Runner %s: session %s", report.SessionID, status)
}
