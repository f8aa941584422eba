package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLoggerFields(t *testing.T) {
	zerolog.ErrorFieldName = "err"
	var buf bytes.Buffer
	log := New(zerolog.New(&buf).Level(zerolog.DebugLevel)).With(String("comp", "planner"))

	log.Info("transfer ok", String("link", "a"), Duration("took", 1500*time.Millisecond), Int("n", 3))
	log.Trace("hidden")
	log.Warn("transfer failed", Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "planner", lines[0]["comp"])
	assert.Equal(t, "a", lines[0]["link"])
	assert.Equal(t, "transfer ok", lines[0]["message"])
	assert.Contains(t, lines[0]["caller"], "logging_test.go:")
	assert.Equal(t, "boom", lines[1]["err"])
}

func TestLaterFieldWins(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf)).With(String("link", "old"))
	log.Info("x", String("link", "new"))
	assert.Contains(t, buf.String(), `"link":"new"`)
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Error("nothing") })

	nop := Nop()
	assert.False(t, nop.IsZero())
	assert.NotPanics(t, func() { nop.With(Bool("x", true)).Info("nothing") })
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestServiceApplySwapsFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databay.log")
	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Debug("dropped")
	log.Info("kept", String("link", "a"))
	assert.False(t, log.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug))
	log.Debug("now visible")
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, "dropped")
	assert.Contains(t, s, `"message":"kept"`)
	assert.Contains(t, s, `"message":"now visible"`)
}
