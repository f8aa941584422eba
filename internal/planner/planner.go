package planner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"databay/internal/engine"
	"databay/internal/eventbus"
	"databay/internal/link"
	logx "databay/pkg/logx"
)

// Planner drives a set of links through an engine and owns its run-state.
type Planner struct {
	mu sync.Mutex

	eng         engine.Engine
	log         logx.Logger
	bus         eventbus.Bus
	catchErrors bool
	immediate   bool
	failEvery   time.Duration
	failBurst   int

	links []link.Handle
	index map[link.Handle]struct{}

	// gen identifies the current Start call. Fatal failures and late returns
	// only act on the run they belong to.
	gen    atomic.Uint64
	active bool
	cancel context.CancelFunc

	limiters sync.Map // link.Handle -> *failureLimiter
}

// New creates a stopped planner. Links passed with WithLinks are added
// immediately.
func New(opts ...Option) (*Planner, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.eng == nil {
		o.eng = engine.NewCron(engine.WithLogger(o.log.With(logx.String("comp", "engine"))))
	}
	p := &Planner{
		eng:         o.eng,
		log:         o.log.With(logx.String("comp", "planner")),
		bus:         o.bus,
		catchErrors: o.catchErrors,
		immediate:   o.immediate,
		failEvery:   o.failEvery,
		failBurst:   o.failBurst,
		index:       map[link.Handle]struct{}{},
	}
	if len(o.links) > 0 {
		if err := p.Add(o.links...); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Engine returns the engine the planner drives.
func (p *Planner) Engine() engine.Engine { return p.eng }

// Add schedules and registers every handle not already present. Handles that
// are already registered are left untouched. An engine rejection of one handle
// does not stop the rest of the batch; the rejections are returned combined.
func (p *Planner) Add(handles ...link.Handle) error {
	var (
		errs  error
		added []link.Handle
	)
	p.mu.Lock()
	for _, h := range handles {
		if h == nil {
			continue
		}
		if _, ok := p.index[h]; ok {
			continue
		}
		if err := p.scheduleLocked(h); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "schedule %s", handleName(h)))
			continue
		}
		p.index[h] = struct{}{}
		p.links = append(p.links, h)
		added = append(added, h)
	}
	running := p.active
	p.mu.Unlock()

	for _, h := range added {
		p.log.Debug("link added", logx.String("link", handleName(h)), logx.Duration("interval", h.Interval()))
		p.publish(eventbus.Event{Kind: eventbus.LinkAdded, Link: handleName(h)})
	}
	if running {
		p.startHooks(context.Background(), added)
	}
	return errs
}

// Remove unschedules and unregisters every given handle. Handles that are not
// registered are reported together in a *MissingHandleError after the whole
// batch has been processed.
func (p *Planner) Remove(handles ...link.Handle) error {
	var missing, removed []link.Handle

	p.mu.Lock()
	for _, h := range handles {
		if h == nil {
			continue
		}
		if _, ok := p.index[h]; !ok {
			missing = append(missing, h)
			continue
		}
		p.unscheduleLocked(h)
		delete(p.index, h)
		for i, cur := range p.links {
			if cur == h {
				p.links = append(p.links[:i], p.links[i+1:]...)
				break
			}
		}
		removed = append(removed, h)
	}
	running := p.active
	p.mu.Unlock()

	for _, h := range removed {
		p.limiters.Delete(h)
		p.log.Debug("link removed", logx.String("link", handleName(h)))
		p.publish(eventbus.Event{Kind: eventbus.LinkRemoved, Link: handleName(h)})
	}
	if running {
		p.shutdownHooks(context.Background(), removed)
	}
	if len(missing) > 0 {
		return &MissingHandleError{Handles: missing}
	}
	return nil
}

// Links returns the registered handles in insertion order.
func (p *Planner) Links() []link.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Start runs the engine and blocks until Shutdown is called, ctx is done or a
// fatal transfer failure stops the planner. It fails with ErrAlreadyRunning
// while running or paused.
func (p *Planner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.active || p.eng.State() != engine.StateStopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	gen := p.gen.Add(1)
	runCtx, cancel := context.WithCancel(ctx)
	p.active = true
	p.cancel = cancel
	links := p.snapshotLocked()
	p.mu.Unlock()

	p.log.Info("planner starting",
		logx.Int("links", len(links)),
		logx.Bool("catch_errors", p.catchErrors),
		logx.Bool("immediate_transfer", p.immediate),
	)
	p.startHooks(runCtx, links)
	p.publish(eventbus.Event{Kind: eventbus.PlannerStarted})

	if p.immediate {
		for _, h := range links {
			go p.execute(runCtx, gen, h)
		}
	}

	if err := p.eng.Start(runCtx); err != nil {
		p.mu.Lock()
		if p.gen.Load() == gen {
			p.active = false
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
		return err
	}

	// The engine returns on its own when ctx is done; finish the run if
	// nobody called Shutdown.
	p.stop(gen, false)
	return nil
}

// Pause stops links from firing until Resume. Pausing a paused planner is a no-op.
func (p *Planner) Pause() error {
	p.mu.Lock()
	before := p.eng.State()
	err := p.eng.Pause()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if before == engine.StateRunning {
		p.log.Info("planner paused")
		p.publish(eventbus.Event{Kind: eventbus.PlannerPaused})
	}
	return nil
}

// Resume lets a paused planner fire again. Resuming a running planner is a no-op.
func (p *Planner) Resume() error {
	p.mu.Lock()
	before := p.eng.State()
	err := p.eng.Resume()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if before == engine.StatePaused {
		p.log.Info("planner resumed")
		p.publish(eventbus.Event{Kind: eventbus.PlannerResumed})
	}
	return nil
}

// Shutdown stops the planner and releases Start. With wait it blocks until
// every in-flight transfer has returned. It is a no-op when already stopped.
// The planner can be started again afterwards.
func (p *Planner) Shutdown(wait bool) {
	p.stop(0, wait)
}

// LinkSchedule is the fire schedule of one registered link.
type LinkSchedule struct {
	Link     string
	Interval time.Duration
	Next     time.Time
	Prev     time.Time
}

// Schedule returns the next and previous fire times of every link, in
// insertion order. Times are zero when the engine does not report them or the
// planner is stopped.
func (p *Planner) Schedule() []LinkSchedule {
	p.mu.Lock()
	links := p.snapshotLocked()
	p.mu.Unlock()

	byID := map[string]engine.JobInfo{}
	if s, ok := p.eng.(interface{ Snapshot() engine.Snapshot }); ok {
		for _, ji := range s.Snapshot().Jobs {
			byID[ji.ID] = ji
		}
	}
	out := make([]LinkSchedule, 0, len(links))
	for _, h := range links {
		ls := LinkSchedule{Link: handleName(h), Interval: h.Interval()}
		if j := h.Job(); j != nil {
			if ji, ok := byID[j.ID()]; ok {
				ls.Next, ls.Prev = ji.Next, ji.Prev
			}
		}
		out = append(out, ls)
	}
	return out
}

// Running reports whether the planner is running and not paused.
func (p *Planner) Running() bool { return p.eng.State() == engine.StateRunning }

// State returns the current run-state.
func (p *Planner) State() engine.State { return p.eng.State() }

// stop ends the run identified by gen, or the current run when gen is 0.
func (p *Planner) stop(gen uint64, wait bool) {
	p.mu.Lock()
	if !p.active || (gen != 0 && gen != p.gen.Load()) {
		p.mu.Unlock()
		return
	}
	p.active = false
	cancel := p.cancel
	p.cancel = nil
	links := p.snapshotLocked()
	p.mu.Unlock()

	start := time.Now()
	p.eng.Shutdown(wait)
	if cancel != nil {
		cancel()
	}
	p.shutdownHooks(context.Background(), links)

	p.log.Info("planner stopped", logx.Bool("wait", wait), logx.Duration("took", time.Since(start)))
	p.publish(eventbus.Event{Kind: eventbus.PlannerStopped})
}

// scheduleLocked creates the engine job for h and fills its job slot.
func (p *Planner) scheduleLocked(h link.Handle) error {
	j, err := p.eng.AddJob(func(ctx context.Context) { p.execute(ctx, p.gen.Load(), h) }, h.Interval())
	if err != nil {
		return err
	}
	h.SetJob(j)
	return nil
}

// unscheduleLocked removes h's job from the engine and clears the slot. A
// handle without a job, or with a job the engine no longer knows, only has
// its slot cleared.
func (p *Planner) unscheduleLocked(h link.Handle) {
	if j := h.Job(); j != nil {
		if err := p.eng.RemoveJob(j); err != nil && !errors.Is(err, engine.ErrJobNotFound) {
			p.log.Warn("remove job failed", logx.String("link", handleName(h)), logx.Err(err))
		}
	}
	h.SetJob(nil)
}

func (p *Planner) snapshotLocked() []link.Handle {
	out := make([]link.Handle, len(p.links))
	copy(out, p.links)
	return out
}

// execute is the callback behind every job.
func (p *Planner) execute(ctx context.Context, gen uint64, h link.Handle) {
	start := time.Now()
	err := transfer(func() error { return h.Transfer(ctx) })
	dur := time.Since(start)
	name := handleName(h)

	if err == nil {
		p.publish(eventbus.Event{Kind: eventbus.LinkTransferred, Link: name, Started: start, Duration: dur})
		return
	}
	p.publish(eventbus.Event{Kind: eventbus.LinkFailed, Link: name, Started: start, Duration: dur, Err: err.Error()})

	if p.catchErrors {
		if ok, suppressed := p.limiter(h).allow(); ok {
			fields := []logx.Field{logx.String("link", name), logx.Duration("dur", dur), logx.Err(err)}
			if suppressed > 0 {
				fields = append(fields, logx.Uint64("suppressed", suppressed))
			}
			p.log.Warn("link transfer failed", fields...)
		}
		return
	}

	fields := []logx.Field{logx.String("link", name), logx.Duration("dur", dur), logx.Err(err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(string(pe.Stack)))
	}
	p.log.Error("link transfer failed; shutting down planner", fields...)
	// This callback is itself an in-flight job; never stop inline.
	go p.stop(gen, false)
}

func (p *Planner) startHooks(ctx context.Context, handles []link.Handle) {
	for _, h := range handles {
		s, ok := h.(link.Starter)
		if !ok {
			continue
		}
		if err := transfer(func() error { return s.OnStart(ctx) }); err != nil {
			p.log.Warn("link start hook failed", logx.String("link", handleName(h)), logx.Err(err))
		}
	}
}

func (p *Planner) shutdownHooks(ctx context.Context, handles []link.Handle) {
	for _, h := range handles {
		s, ok := h.(link.Stopper)
		if !ok {
			continue
		}
		if err := transfer(func() error { return s.OnShutdown(ctx) }); err != nil {
			p.log.Warn("link shutdown hook failed", logx.String("link", handleName(h)), logx.Err(err))
		}
	}
}

func (p *Planner) publish(e eventbus.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// failureLimiter throttles swallowed-failure logs for one link.
type failureLimiter struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

func (f *failureLimiter) allow() (bool, uint64) {
	if !f.lim.Allow() {
		f.suppressed.Add(1)
		return false, 0
	}
	return true, f.suppressed.Swap(0)
}

func (p *Planner) limiter(h link.Handle) *failureLimiter {
	if v, ok := p.limiters.Load(h); ok {
		return v.(*failureLimiter)
	}
	limit := rate.Inf
	if p.failEvery > 0 {
		limit = rate.Every(p.failEvery)
	}
	v, _ := p.limiters.LoadOrStore(h, &failureLimiter{lim: rate.NewLimiter(limit, p.failBurst)})
	return v.(*failureLimiter)
}
