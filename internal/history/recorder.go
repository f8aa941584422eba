package history

import (
	"context"
	"time"

	"databay/internal/eventbus"
	logx "databay/pkg/logx"
)

// Recorder appends every transfer event from a bus to a store.
type Recorder struct {
	store      Store
	bus        eventbus.Bus
	log        logx.Logger
	retention  time.Duration
	pruneEvery time.Duration
}

func NewRecorder(store Store, bus eventbus.Bus, retention time.Duration, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	pruneEvery := time.Hour
	if retention > 0 && retention/4 < pruneEvery {
		pruneEvery = max(retention/4, time.Second)
	}
	return &Recorder{store: store, bus: bus, log: log, retention: retention, pruneEvery: pruneEvery}
}

// Run consumes events until ctx is done. Store errors are logged, never fatal.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsubscribe := r.bus.Subscribe(256)
	defer unsubscribe()

	var prune <-chan time.Time
	if r.retention > 0 {
		t := time.NewTicker(r.pruneEvery)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, e)
		case <-prune:
			n, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
			if err != nil {
				r.log.Warn("history prune failed", logx.Err(err))
			} else if n > 0 {
				r.log.Debug("history pruned", logx.Int64("rows", n))
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	if e.Kind != eventbus.LinkTransferred && e.Kind != eventbus.LinkFailed {
		return
	}
	rec := Record{
		Link:     e.Link,
		Started:  e.Started,
		Duration: e.Duration,
		OK:       e.Kind == eventbus.LinkTransferred,
		Err:      e.Err,
	}
	if rec.Started.IsZero() {
		rec.Started = e.Time
	}
	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Warn("history append failed", logx.String("link", e.Link), logx.Err(err))
	}
}
