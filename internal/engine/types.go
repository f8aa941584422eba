package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var (
	ErrAlreadyRunning  = errors.New("engine already running")
	ErrNotRunning      = errors.New("engine not running")
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidInterval = errors.New("job interval must be > 0")
	ErrNilCallback     = errors.New("job callback is nil")
)

// State is the engine run-state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Engine is the narrow contract the planner uses.
type Engine interface {
	AddJob(fn func(ctx context.Context), interval time.Duration) (*Job, error)
	RemoveJob(j *Job) error
	Jobs() []*Job

	// Start blocks until Shutdown is called or ctx is done.
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Shutdown(wait bool)
	State() State
}

// Job is the engine's registration record. Callers treat it as an opaque handle.
type Job struct {
	id       string
	interval time.Duration
	fn       func(ctx context.Context)

	// guarded by the owning engine's mu
	entryID cron.EntryID
	spread  time.Duration
}

func (j *Job) ID() string { return j.id }

func (j *Job) Interval() time.Duration { return j.interval }

func (j *Job) String() string { return "job:" + j.id }

// JobInfo is a point-in-time view of a registered job.
type JobInfo struct {
	ID       string
	Interval time.Duration
	Spread   time.Duration
	Next     time.Time
	Prev     time.Time
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	State    State
	Timezone string
	Jobs     []JobInfo
}
