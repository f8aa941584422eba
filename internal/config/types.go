package config

import (
	"strings"

	logx "databay/pkg/logx"
)

// Config is the on-disk configuration (YAML or JSON).
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Planner PlannerConfig `json:"planner"`
	History HistoryConfig `json:"history"`
	Links   []LinkConfig  `json:"links"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ToLogx maps the logging section onto the logger service config.
func (l LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(l.Level),
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: strings.TrimSpace(l.File.Path)},
	}
}

// PlannerConfig controls the failure policy and engine behaviour.
//
// Pointer fields distinguish "omitted" from an explicit false.
//
// Defaults:
//   - catch_errors: false
//   - immediate_transfer: true
//   - skip_if_running: true
//   - shutdown_wait: true
//   - startup_spread: "0s" (disabled)
//   - failure_log_every: "10s"
type PlannerConfig struct {
	CatchErrors       bool   `json:"catch_errors"`
	ImmediateTransfer *bool  `json:"immediate_transfer,omitempty"`
	SkipIfRunning     *bool  `json:"skip_if_running,omitempty"`
	ShutdownWait      *bool  `json:"shutdown_wait,omitempty"`
	StartupSpread     string `json:"startup_spread,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	FailureLogEvery   string `json:"failure_log_every,omitempty"`
}

func (p PlannerConfig) Immediate() bool      { return boolOr(p.ImmediateTransfer, true) }
func (p PlannerConfig) SkipOverlap() bool    { return boolOr(p.SkipIfRunning, true) }
func (p PlannerConfig) WaitOnShutdown() bool { return boolOr(p.ShutdownWait, true) }

// HistoryConfig selects where transfer outcomes are recorded.
//
// driver: "none" (default), "memory" or "sqlite".
type HistoryConfig struct {
	Driver    string `json:"driver"`
	Path      string `json:"path,omitempty"`
	Retention string `json:"retention,omitempty"`
	Size      int    `json:"size,omitempty"`
}

const (
	HistoryNone   = "none"
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

// NormalizedDriver returns the lower-cased driver with "none" for empty.
func (h HistoryConfig) NormalizedDriver() string {
	d := strings.ToLower(strings.TrimSpace(h.Driver))
	if d == "" {
		return HistoryNone
	}
	return d
}

// LinkConfig declares one link.
type LinkConfig struct {
	Name     string       `json:"name"`
	Interval string       `json:"interval"`
	Tags     []string     `json:"tags,omitempty"`
	Disabled bool         `json:"disabled,omitempty"`
	Action   ActionConfig `json:"action"`
}

// ActionConfig is the unit of work a configured link transfers.
type ActionConfig struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
	Dir     string `json:"dir,omitempty"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
	Body    string `json:"body,omitempty"`
	Expect  int    `json:"expect_status,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

const (
	ActionLog   = "log"
	ActionShell = "shell"
	ActionHTTP  = "http"
)

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
