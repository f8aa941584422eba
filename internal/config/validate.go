package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	for _, f := range []struct{ path, raw string }{
		{"planner.startup_spread", cfg.Planner.StartupSpread},
		{"planner.failure_log_every", cfg.Planner.FailureLogEvery},
		{"history.retention", cfg.History.Retention},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Planner.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, errors.Wrapf(err, "planner.timezone: %q", tz))
		}
	}

	switch d := cfg.History.NormalizedDriver(); d {
	case HistoryNone, HistoryMemory:
	case HistorySQLite:
		if strings.TrimSpace(cfg.History.Path) == "" {
			errs = append(errs, errors.WithHint(
				errors.New("history.path is required for the sqlite driver"),
				`e.g. path: "./data/history.db"`,
			))
		}
	default:
		errs = append(errs, errors.WithHint(
			errors.Newf("history.driver: unknown driver %q", d),
			"supported drivers: none, memory, sqlite",
		))
	}
	if cfg.History.Size < 0 {
		errs = append(errs, errors.New("history.size must be >= 0"))
	}

	seen := make(map[string]int, len(cfg.Links))
	for i, lc := range cfg.Links {
		path := fmt.Sprintf("links[%d]", i)
		name := strings.TrimSpace(lc.Name)
		if name == "" {
			errs = append(errs, errors.Newf("%s.name is required", path))
		} else {
			path = fmt.Sprintf("links[%s]", name)
			if prev, dup := seen[name]; dup {
				errs = append(errs, errors.Newf("%s: duplicate name (first at index %d)", path, prev))
			}
			seen[name] = i
		}
		errs = append(errs, validateLink(path, lc)...)
	}

	return errors.Join(errs...)
}

func validateLink(path string, lc LinkConfig) []error {
	var errs []error

	iv, err := ParseDurationField(path+".interval", lc.Interval)
	switch {
	case err != nil:
		errs = append(errs, err)
	case iv <= 0:
		errs = append(errs, errors.WithHint(
			errors.Newf("%s.interval must be > 0", path),
			`e.g. interval: "30s"`,
		))
	}
	if _, err := ParseDurationField(path+".action.timeout", lc.Action.Timeout); err != nil {
		errs = append(errs, err)
	}

	a := lc.Action
	switch kind := strings.ToLower(strings.TrimSpace(a.Kind)); kind {
	case ActionLog:
	case ActionShell:
		if strings.TrimSpace(a.Command) == "" {
			errs = append(errs, errors.Newf("%s.action.command is required for shell actions", path))
		} else if _, err := shellquote.Split(a.Command); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s.action.command", path))
		}
	case ActionHTTP:
		u, err := url.Parse(strings.TrimSpace(a.URL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, errors.WithHint(
				errors.Newf("%s.action.url: invalid url %q", path, a.URL),
				"use an absolute http:// or https:// url",
			))
		}
		if a.Expect != 0 && (a.Expect < 100 || a.Expect > 599) {
			errs = append(errs, errors.Newf("%s.action.expect_status: %d is not an http status", path, a.Expect))
		}
	default:
		errs = append(errs, errors.WithHint(
			errors.Newf("%s.action.kind: unknown kind %q", path, a.Kind),
			"supported kinds: log, shell, http",
		))
	}
	return errs
}
