package app

import (
	"context"
	"reflect"
	"strings"

	"databay/internal/config"
	"databay/internal/link"
	logx "databay/pkg/logx"
)

// applyLoop applies hot-reloaded configs until ctx is done.
func (a *App) applyLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Only the newest pending config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(cfg)
		}
	}
}

// apply brings the running process in line with cfg. Links are diffed by name:
// replacements are built first, then removed and changed links leave the
// planner before added and changed ones join it. Planner and history settings
// only take effect on restart.
func (a *App) apply(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sections, attrs := config.SummarizeChange(a.applied, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("applying config change", fields...)

	if a.applied.Logging != cfg.Logging {
		a.logs.Apply(cfg.Logging.ToLogx())
	}
	if !reflect.DeepEqual(a.applied.Planner, cfg.Planner) || a.applied.History != cfg.History {
		a.log.Warn("planner and history settings apply on restart")
	}

	diff := config.DiffLinks(a.applied.Links, cfg.Links)

	// Build replacements first; a changed link whose new config fails to build
	// keeps running with its old config.
	var stale, fresh []link.Handle
	built := map[string]*link.Link{}
	for _, lc := range append(diff.Added, diff.Changed...) {
		l, err := a.builder.Link(lc)
		if err != nil {
			a.log.Warn("build link failed", logx.String("link", lc.Name), logx.Err(err))
			continue
		}
		built[l.Name()] = l
		fresh = append(fresh, l)
	}
	for _, lc := range diff.Removed {
		if l, ok := a.links[strings.TrimSpace(lc.Name)]; ok {
			stale = append(stale, l)
		}
	}
	for _, lc := range diff.Changed {
		name := strings.TrimSpace(lc.Name)
		if l, ok := a.links[name]; ok && built[name] != nil {
			stale = append(stale, l)
		}
	}

	if len(stale) > 0 {
		if err := a.planner.Remove(stale...); err != nil {
			a.log.Warn("remove links failed", logx.Err(err))
		}
		for _, h := range stale {
			delete(a.links, h.Name())
		}
	}
	if len(fresh) > 0 {
		if err := a.planner.Add(fresh...); err != nil {
			a.log.Warn("add links failed", logx.Err(err))
		}
		for name, l := range built {
			a.links[name] = l
		}
	}

	a.applied = cfg
}
