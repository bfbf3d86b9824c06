package models

import "time"

type CommandKind int

const (
	CommandActivate CommandKind = iota + 1
	CommandShutdown
	// CommandRecheck asks for a capture that is answered but not forwarded downstream.
	CommandRecheck
)

func (k CommandKind) String() string {
	switch k {
	case CommandActivate:
		return "activate"
	case CommandShutdown:
		return "shutdown"
	case CommandRecheck:
		return "recheck"
	default:
		return "unknown"
	}
}

// Command is sent by the coordinator to exactly one worker.
type Command struct {
	Kind   CommandKind
	UnitID int
	// Deadline is when the coordinator stops collecting for UnitID. Zero means
	// no deadline.
	Deadline time.Time
}

// WithDeadline returns a copy of c that expires at t.
func (c Command) WithDeadline(t time.Time) Command {
	c.Deadline = t
	return c
}

// Expired reports whether the coordinator has stopped waiting for c at now.
func (c Command) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}

func Activate(unitID int) Command {
	return Command{Kind: CommandActivate, UnitID: unitID}
}

func Shutdown() Command {
	return Command{Kind: CommandShutdown}
}

func Recheck(unitID int) Command {
	return Command{Kind: CommandRecheck, UnitID: unitID}
}

type ResultKind int

const (
	ResultSuccess ResultKind = iota + 1
	ResultFailure
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// NoUnit marks an Error result that is not tied to a particular unit,
// e.g. a camera that could not be opened.
const NoUnit = -1

// Result is sent by a worker to the coordinator over the shared result channel.
type Result struct {
	Kind    ResultKind
	ViewID  int
	UnitID  int
	Point   Point
	Message string
	// Fatal is set when the worker can no longer capture for the rest of the session.
	Fatal bool
}

// Point is a located light in normalized image coordinates, both in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Observation представляет результат одного вида для одного юнита
type Observation struct {
	UnitID    int       `json:"unit_id"`
	ViewID    int       `json:"view_id"`
	Point     *Point    `json:"point,omitempty"` // nil означает skip
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// StationStats holds per-view counters. Errors are a subset of Failures so
// that Successes+Failures+Timeouts always equals Attempts.
type StationStats struct {
	ViewID    int  `json:"view_id"`
	Attempts  int  `json:"attempts"`
	Successes int  `json:"successes"`
	Failures  int  `json:"failures"`
	Timeouts  int  `json:"timeouts"`
	Errors    int  `json:"errors"`
	Degraded  bool `json:"degraded"`
	Dead      bool `json:"dead"`
	Moved     bool `json:"moved"`
}

func (s *StationStats) Record(o Outcome) {
	s.Attempts++
	switch o {
	case OutcomeSuccess:
		s.Successes++
	case OutcomeFailure:
		s.Failures++
	case OutcomeError:
		s.Failures++
		s.Errors++
	case OutcomeTimeout:
		s.Timeouts++
	}
}

func (s *StationStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

type Mode string

const (
	ModeDirect      Mode = "direct"
	ModeCoordinated Mode = "coordinated"
)

// Report is returned at the end of a session.
type Report struct {
	SessionID  string         `json:"session_id"`
	Mode       Mode           `json:"mode"`
	UnitStart  int            `json:"unit_start"`
	UnitEnd    int            `json:"unit_end"`
	Units      int            `json:"units"`
	Views      []StationStats `json:"views"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
}

// Contributing reports whether at least one view produced a located point.
func (r *Report) Contributing() bool {
	for _, v := range r.Views {
		if v.Successes > 0 {
			return true
		}
	}
	return false
}

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// ScanRequest is consumed from Kafka by the runner.
type ScanRequest struct {
	SessionID string        `json:"session_id"`
	Action    CommandAction `json:"action"`
	Project   string        `json:"project"`
	Start     *int          `json:"start,omitempty"`
	End       *int          `json:"end,omitempty"`
}

type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// SessionRecord Структура для сессий сканирования
type SessionRecord struct {
	ID        string        `json:"id"`
	Project   string        `json:"project"`
	Mode      Mode          `json:"mode"`
	Status    SessionStatus `json:"status"`
	UnitStart int           `json:"unit_start"`
	UnitEnd   int           `json:"unit_end"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
