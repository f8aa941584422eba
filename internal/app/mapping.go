package app

import (
	"strings"

	"databay/internal/config"
	"databay/internal/engine"
	"databay/internal/history"
	logx "databay/pkg/logx"
)

// HistoryConfig maps the history section onto the store config.
func HistoryConfig(hc config.HistoryConfig) (history.Config, error) {
	retention, err := config.ParseDurationField("history.retention", hc.Retention)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:    hc.NormalizedDriver(),
		Path:      strings.TrimSpace(hc.Path),
		Size:      hc.Size,
		Retention: retention,
	}, nil
}

func engineOptions(pc config.PlannerConfig, log logx.Logger) ([]engine.Option, error) {
	spread, err := config.ParseDurationField("planner.startup_spread", pc.StartupSpread)
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithLogger(log),
		engine.WithSkipIfStillRunning(pc.SkipOverlap()),
		engine.WithStartupSpread(spread),
		engine.WithTimezone(pc.Timezone),
	}, nil
}
