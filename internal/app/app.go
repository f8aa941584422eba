package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"databay/internal/config"
	"databay/internal/engine"
	"databay/internal/eventbus"
	"databay/internal/history"
	"databay/internal/link"
	"databay/internal/planner"
	"databay/internal/runtime/supervisor"
	"databay/internal/transfer"
	logx "databay/pkg/logx"
)

// ErrPlannerStopped is returned by Run when the planner stops on its own,
// which happens after a fatal transfer failure.
var ErrPlannerStopped = errors.New("planner stopped")

const stopTimeout = 30 * time.Second

// App wires config, logging, history and the planner into one process.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus      eventbus.Bus
	store    history.Store
	recorder *history.Recorder
	builder  *transfer.Builder
	planner  *planner.Planner
	wait     bool

	mu      sync.Mutex
	links   map[string]*link.Link
	applied *config.Config
}

// New loads and validates the config and builds every component. Nothing
// runs until Run.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.NewService(cfg.Logging.ToLogx())
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		builder: transfer.NewBuilder(transfer.WithLogger(root.With(logx.String("comp", "transfer")))),
		wait:    cfg.Planner.WaitOnShutdown(),
		links:   map[string]*link.Link{},
		applied: cfg,
	}

	hc, err := HistoryConfig(cfg.History)
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	store, err := history.Open(hc, root.With(logx.String("comp", "history")))
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	if store != nil {
		a.store = store
		a.recorder = history.NewRecorder(store, a.bus, hc.Retention, root.With(logx.String("comp", "history")))
		log.Info("history enabled", logx.String("driver", hc.Driver))
	}

	engOpts, err := engineOptions(cfg.Planner, root.With(logx.String("comp", "engine")))
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	failEvery, err := config.ParseDurationOrDefault("planner.failure_log_every", cfg.Planner.FailureLogEvery, 10*time.Second)
	if err != nil {
		return nil, a.closeOnErr(err)
	}

	handles := make([]link.Handle, 0, len(cfg.Links))
	for _, lc := range cfg.Links {
		if lc.Disabled {
			continue
		}
		l, err := a.builder.Link(lc)
		if err != nil {
			return nil, a.closeOnErr(err)
		}
		a.links[l.Name()] = l
		handles = append(handles, l)
	}

	cfgm.SetValidator(a.validateLinks)

	a.planner, err = planner.New(
		planner.WithEngine(engine.NewCron(engOpts...)),
		planner.WithLogger(root),
		planner.WithBus(a.bus),
		planner.WithCatchErrors(cfg.Planner.CatchErrors),
		planner.WithImmediateTransfer(cfg.Planner.Immediate()),
		planner.WithFailureLogRate(failEvery, 1),
		planner.WithLinks(handles...),
	)
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	return a, nil
}

func (a *App) Planner() *planner.Planner { return a.planner }

// validateLinks rejects a reloaded config whose links cannot be built, so a
// bad edit never replaces a working link.
func (a *App) validateLinks(_ context.Context, cfg *config.Config) error {
	var errs []error
	for _, lc := range cfg.Links {
		if lc.Disabled {
			continue
		}
		if _, err := a.builder.Link(lc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts every component and blocks until ctx is done or the planner
// stops on its own. Shutdown honours planner.shutdown_wait.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	if a.recorder != nil {
		sup.GoRestart("history.recorder", a.recorder.Run)
	}
	sup.Go("events.log", a.logEvents)
	sup.GoRestart("config.watch", a.cfgm.Watch)
	sup.Go("config.apply", a.applyLoop)

	sup.Go("planner", a.runPlanner)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("databay started", logx.String("config", a.cfgm.Path()), logx.Int("links", len(a.planner.Links())))

	<-sup.Context().Done()
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("databay stopping")

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := sup.Stop(sctx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("stop timed out", logx.Duration("timeout", stopTimeout))
	}
	return err
}

// runPlanner runs the planner until it stops on its own or ctx is done. The
// planner gets a context that is never cancelled so a signal goes through
// Shutdown and honours shutdown_wait.
func (a *App) runPlanner(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.planner.Start(context.WithoutCancel(ctx)) }()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	pending := poll.C
wait:
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			return ErrPlannerStopped
		case <-ctx.Done():
			break wait
		case <-pending:
			if a.planner.Running() {
				a.logSchedule()
				pending = nil
			}
		}
	}

	// Start may not have registered yet; repeat until it returns.
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		a.planner.Shutdown(a.wait)
		select {
		case err := <-done:
			return err
		case <-t.C:
		}
	}
}

func (a *App) logSchedule() {
	for _, ls := range a.planner.Schedule() {
		fields := []logx.Field{logx.String("link", ls.Link), logx.Duration("interval", ls.Interval)}
		if !ls.Next.IsZero() {
			fields = append(fields, logx.Time("next", ls.Next))
		}
		a.log.Info("link scheduled", fields...)
	}
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("kind", string(e.Kind)), logx.String("link", e.Link), logx.Time("time", e.Time))
		}
	}
}

func (a *App) notify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", strings.TrimSpace(state)), logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify sent", logx.String("state", strings.TrimSpace(state)))
	}
}

func (a *App) closeOnErr(err error) error {
	a.close()
	return err
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("history close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
