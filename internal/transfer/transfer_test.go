package transfer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"databay/internal/config"
)

func TestLinkFromConfig(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	l, err := b.Link(config.LinkConfig{
		Name:     " heartbeat ",
		Interval: "250ms",
		Tags:     []string{"ops"},
		Action:   config.ActionConfig{Kind: "LOG", Message: "alive"},
	})
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", l.Name())
	assert.Equal(t, 250*time.Millisecond, l.Interval())
	assert.Equal(t, []string{"ops"}, l.Tags())
	assert.NoError(t, l.Transfer(context.Background()))
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()
	_, err := NewBuilder().Transfer("x", config.ActionConfig{Kind: "smoke-signal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link x")
}

func TestHTTPAction(t *testing.T) {
	t.Parallel()
	posted := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/created":
			b, _ := io.ReadAll(r.Body)
			posted <- r.Method + " " + string(b)
			w.WriteHeader(http.StatusCreated)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		}
	}))
	defer srv.Close()

	b := NewBuilder(WithHTTPClient(srv.Client()))

	fn, err := b.Transfer("post", config.ActionConfig{Kind: "http", URL: srv.URL + "/created", Method: "post", Body: "ping", Expect: 201})
	require.NoError(t, err)
	require.NoError(t, fn(context.Background()))
	assert.Equal(t, "POST ping", <-posted)

	fn, err = b.Transfer("broken", config.ActionConfig{Kind: "http", URL: srv.URL + "/broken"})
	require.NoError(t, err)
	err = fn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Contains(t, errors.FlattenDetails(err), "upstream down")

	fn, err = b.Transfer("slow", config.ActionConfig{Kind: "http", URL: srv.URL + "/slow", Timeout: "20ms"})
	require.NoError(t, err)
	err = fn(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestShellAction(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell tools required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	b := NewBuilder()

	fn, err := b.Transfer("ok", config.ActionConfig{Kind: "shell", Command: `sh -c "exit 0"`})
	require.NoError(t, err)
	require.NoError(t, fn(context.Background()))

	fn, err = b.Transfer("fail", config.ActionConfig{Kind: "shell", Command: `sh -c "echo 'disk full' >&2; exit 3"`})
	require.NoError(t, err)
	err = fn(context.Background())
	require.Error(t, err)
	assert.Contains(t, errors.FlattenDetails(err), "disk full")

	fn, err = b.Transfer("slow", config.ActionConfig{Kind: "shell", Command: "sleep 5", Timeout: "30ms"})
	require.NoError(t, err)
	start := time.Now()
	err = fn(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)

	_, err = b.Transfer("bad", config.ActionConfig{Kind: "shell", Command: `echo "unterminated`})
	require.Error(t, err)

	_, err = b.Transfer("missing", config.ActionConfig{Kind: "shell", Command: "databay-no-such-binary --flag"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databay-no-such-binary")

	// Paths are resolved against dir when the transfer runs.
	_, err = b.Transfer("script", config.ActionConfig{Kind: "shell", Command: "./scripts/export.sh", Dir: t.TempDir()})
	require.NoError(t, err)
}
