package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
planner:
  catch_errors: true
  immediate_transfer: false
  startup_spread: 2s
history:
  driver: memory
  size: 50
links:
  - name: heartbeat
    interval: 500ms
    tags: [ops]
    action:
      kind: log
      message: alive
  - name: disk
    interval: 1m
    action:
      kind: shell
      command: df -h "/var/lib"
      timeout: 10s
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "databay.yaml", sampleYAML)
	m := NewManager(p)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Planner.CatchErrors)
	assert.False(t, cfg.Planner.Immediate())
	assert.True(t, cfg.Planner.SkipOverlap())
	assert.True(t, cfg.Planner.WaitOnShutdown())
	assert.Equal(t, HistoryMemory, cfg.History.NormalizedDriver())
	require.Len(t, cfg.Links, 2)
	assert.Equal(t, []string{"ops"}, cfg.Links[0].Tags)
	assert.Equal(t, ActionShell, cfg.Links[1].Action.Kind)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"links": [], "bogus": 1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yml", []byte("# nothing here\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Links)
	assert.Equal(t, HistoryNone, cfg.History.NormalizedDriver())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := LinkConfig{Name: "a", Interval: "1s", Action: ActionConfig{Kind: ActionLog}}

	cases := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{name: "ok", cfg: Config{Links: []LinkConfig{good}}},
		{
			name:    "missing name and zero interval",
			cfg:     Config{Links: []LinkConfig{{Interval: "0s", Action: ActionConfig{Kind: ActionLog}}}},
			wantErr: []string{"links[0].name is required", "interval must be > 0"},
		},
		{
			name:    "duplicate",
			cfg:     Config{Links: []LinkConfig{good, good}},
			wantErr: []string{"duplicate name"},
		},
		{
			name: "bad actions",
			cfg: Config{Links: []LinkConfig{
				{Name: "s", Interval: "1s", Action: ActionConfig{Kind: ActionShell, Command: `echo "unterminated`}},
				{Name: "h", Interval: "1s", Action: ActionConfig{Kind: ActionHTTP, URL: "ftp://x"}},
				{Name: "x", Interval: "1s", Action: ActionConfig{Kind: "carrier-pigeon"}},
			}},
			wantErr: []string{"links[s].action.command", "links[h].action.url", "unknown kind"},
		},
		{
			name:    "bad durations",
			cfg:     Config{Planner: PlannerConfig{StartupSpread: "soon"}, History: HistoryConfig{Retention: "-1h"}},
			wantErr: []string{"planner.startup_spread", "history.retention"},
		},
		{
			name:    "sqlite without path",
			cfg:     Config{History: HistoryConfig{Driver: "SQLite"}},
			wantErr: []string{"history.path is required"},
		},
		{
			name:    "unknown driver",
			cfg:     Config{History: HistoryConfig{Driver: "redis"}},
			wantErr: []string{`unknown driver "redis"`},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if len(tc.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tc.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 1m30s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = ParseDurationField("x", "later")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestDiffLinks(t *testing.T) {
	t.Parallel()
	a := LinkConfig{Name: "a", Interval: "1s", Action: ActionConfig{Kind: ActionLog}}
	b := LinkConfig{Name: "b", Interval: "1s", Action: ActionConfig{Kind: ActionLog}}
	c := LinkConfig{Name: "c", Interval: "1s", Action: ActionConfig{Kind: ActionLog}}
	b2 := b
	b2.Interval = "2s"
	cOff := c
	cOff.Disabled = true
	d := LinkConfig{Name: "d", Interval: "1s", Action: ActionConfig{Kind: ActionLog}}

	diff := DiffLinks([]LinkConfig{a, b, c}, []LinkConfig{a, b2, cOff, d})
	assert.Equal(t, []string{"d"}, linkNames(diff.Added))
	assert.Equal(t, []string{"c"}, linkNames(diff.Removed))
	assert.Equal(t, []string{"b"}, linkNames(diff.Changed))

	assert.True(t, DiffLinks([]LinkConfig{a}, []LinkConfig{a}).Empty())
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	old := &Config{Logging: LoggingConfig{Level: "info"}}
	next := &Config{Logging: LoggingConfig{Level: "debug"}, Links: []LinkConfig{{Name: "a", Interval: "1s"}}}
	sections, attrs := SummarizeChange(old, next)
	assert.Equal(t, []string{"logging", "links"}, sections)
	assert.NotEmpty(t, attrs)
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "databay.yaml", sampleYAML)
	m := NewManager(p)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	var rejected bool
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if len(cfg.Links) > 5 {
			rejected = true
			return errors.New("too many links")
		}
		return nil
	})

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	updated := strings.Replace(sampleYAML, "interval: 500ms", "interval: 750ms", 1)
	// The watcher may not be registered yet; rewrite until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(updated), 0o644)
		select {
		case cfg := <-sub:
			return cfg.Links[0].Interval == "750ms"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "750ms", m.Get().Links[0].Interval)
	assert.False(t, rejected)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "databay.yaml", sampleYAML)
	m := NewManager(p)
	first, err := m.Load()
	require.NoError(t, err)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "unchanged content must not republish")

	writeFile(t, filepath.Dir(p), "databay.yaml", "links:\n  - name: broken\n    interval: 0s\n    action: {kind: log}\n")
	changed, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, changed)
	assert.Same(t, first, m.Get())
}
