package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "databay/pkg/logx"
)

// Option configures a CronEngine.
type Option func(*CronEngine)

func WithLogger(log logx.Logger) Option {
	return func(e *CronEngine) { e.log = log }
}

// WithSkipIfStillRunning drops a firing when the previous firing of the same
// job has not returned yet. Enabled by default.
func WithSkipIfStillRunning(enabled bool) Option {
	return func(e *CronEngine) { e.skipOverlap = enabled }
}

// WithStartupSpread delays the first firing of each job by a random amount in
// [0, min(interval, max)). Zero disables it (default).
func WithStartupSpread(max time.Duration) Option {
	return func(e *CronEngine) { e.spreadMax = max }
}

// WithTimezone sets the location used for next-run calculations and snapshots.
func WithTimezone(tz string) Option {
	return func(e *CronEngine) { e.tz = strings.TrimSpace(tz) }
}

// CronEngine is the robfig/cron backed Engine.
//
// Job definitions outlive the cron instance: Shutdown discards the cron and
// Start builds a fresh one and registers every known job again, so the engine
// can be restarted any number of times.
type CronEngine struct {
	mu sync.Mutex

	log         logx.Logger
	tz          string
	loc         *time.Location
	skipOverlap bool
	spreadMax   time.Duration

	state State
	jobs  []*Job

	c         *cron.Cron
	stopCh    chan struct{}
	runCtx    context.Context
	cancelRun context.CancelFunc
}

var _ Engine = (*CronEngine)(nil)

func NewCron(opts ...Option) *CronEngine {
	e := &CronEngine{skipOverlap: true}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.loc = e.loadLocation()
	return e
}

func (e *CronEngine) State() State {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	return st
}

func (e *CronEngine) AddJob(fn func(ctx context.Context), interval time.Duration) (*Job, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	if interval <= 0 {
		return nil, errors.Wrapf(ErrInvalidInterval, "interval %s", interval)
	}
	j := &Job{id: uuid.NewString(), interval: interval, fn: fn}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, j)
	if e.c != nil {
		e.addEntryLocked(e.c, j)
		e.log.Debug("job registered", logx.String("job", j.id), logx.Duration("interval", interval), logx.Duration("spread", j.spread))
	}
	return j, nil
}

func (e *CronEngine) RemoveJob(j *Job) error {
	if j == nil {
		return ErrJobNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, cur := range e.jobs {
		if cur == j {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrapf(ErrJobNotFound, "%s", j)
	}
	if e.c != nil && j.entryID != 0 {
		e.c.Remove(j.entryID)
	}
	j.entryID = 0
	e.jobs = append(e.jobs[:idx], e.jobs[idx+1:]...)
	e.log.Debug("job removed", logx.String("job", j.id))
	return nil
}

func (e *CronEngine) Jobs() []*Job {
	e.mu.Lock()
	out := make([]*Job, len(e.jobs))
	copy(out, e.jobs)
	e.mu.Unlock()
	return out
}

// Start starts firing jobs and blocks until Shutdown is called or ctx is done.
// A done ctx is treated as Shutdown(false).
func (e *CronEngine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	c := cron.New(
		cron.WithLocation(e.loc),
		cron.WithLogger(cronLogger{log: e.log}),
		cron.WithChain(e.chain()...),
	)
	for _, j := range e.jobs {
		e.addEntryLocked(c, j)
	}
	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	e.c = c
	e.stopCh = stop
	e.runCtx = runCtx
	e.cancelRun = cancel
	e.state = StateRunning
	jobs := len(e.jobs)
	c.Start()
	e.mu.Unlock()

	e.log.Info("engine started", logx.Int("jobs", jobs), logx.String("tz", e.loc.String()))

	select {
	case <-stop:
	case <-ctx.Done():
		e.shutdown(stop, false)
	}
	return nil
}

func (e *CronEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateStopped:
		return ErrNotRunning
	case StateRunning:
		e.state = StatePaused
		e.log.Info("engine paused")
	}
	return nil
}

func (e *CronEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateStopped:
		return ErrNotRunning
	case StatePaused:
		e.state = StateRunning
		e.log.Info("engine resumed")
	}
	return nil
}

// Shutdown stops firing and releases Start. With wait it blocks until every
// in-flight callback has returned. Calling it while stopped is a no-op.
func (e *CronEngine) Shutdown(wait bool) {
	e.shutdown(nil, wait)
}

// shutdown stops the current run. A non-nil stop channel restricts it to the run that
// owns that stop channel, so a late ctx cancellation cannot stop a restart.
func (e *CronEngine) shutdown(only chan struct{}, wait bool) {
	start := time.Now()

	e.mu.Lock()
	if e.state == StateStopped || (only != nil && e.stopCh != only) {
		e.mu.Unlock()
		return
	}
	c := e.c
	stop := e.stopCh
	cancel := e.cancelRun
	e.c = nil
	e.stopCh = nil
	e.runCtx = nil
	e.cancelRun = nil
	e.state = StateStopped
	for _, j := range e.jobs {
		j.entryID = 0
	}
	e.mu.Unlock()

	drained := c.Stop()
	close(stop)
	// Callbacks keep a live ctx until they return on their own.
	go func() {
		<-drained.Done()
		cancel()
	}()

	if wait {
		<-drained.Done()
	}
	e.log.Info("engine stopped", logx.Bool("wait", wait), logx.Duration("took", time.Since(start)))
}

// Snapshot returns the state and next/prev fire times of every job.
func (e *CronEngine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]JobInfo, 0, len(e.jobs))
	for _, j := range e.jobs {
		it := JobInfo{ID: j.id, Interval: j.interval, Spread: j.spread}
		if e.c != nil && j.entryID != 0 {
			ent := e.c.Entry(j.entryID)
			it.Next = ent.Next
			it.Prev = ent.Prev
		}
		items = append(items, it)
	}
	return Snapshot{State: e.state, Timezone: e.loc.String(), Jobs: items}
}

func (e *CronEngine) chain() []cron.JobWrapper {
	cl := cronLogger{log: e.log}
	wrappers := []cron.JobWrapper{cron.Recover(cl)}
	if e.skipOverlap {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cl))
	}
	return wrappers
}

// addEntryLocked registers j with c. Call with e.mu held.
func (e *CronEngine) addEntryLocked(c *cron.Cron, j *Job) {
	sched, spread := makeIntervalSchedule(j.interval, time.Now().In(e.loc), j.id, e.spreadMax)
	j.spread = spread
	j.entryID = c.Schedule(sched, cron.FuncJob(func() { e.fire(j) }))
}

func (e *CronEngine) fire(j *Job) {
	e.mu.Lock()
	st := e.state
	ctx := e.runCtx
	e.mu.Unlock()

	// Paused engines keep computing next runs but drop the firings.
	if st != StateRunning || ctx == nil {
		return
	}
	j.fn(ctx)
}

func (e *CronEngine) loadLocation() *time.Location {
	if e.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(e.tz)
	if err != nil {
		e.log.Warn("invalid timezone; falling back to Local", logx.String("tz", e.tz), logx.Err(err))
		return time.Local
	}
	return loc
}
