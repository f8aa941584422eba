package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 20 * time.Millisecond

// startAsync runs e.Start on its own goroutine and waits for RUNNING.
func startAsync(t *testing.T, e *CronEngine, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, time.Millisecond)
	return done
}

func waitReturned(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestAddJobValidation(t *testing.T) {
	t.Parallel()
	e := NewCron()

	_, err := e.AddJob(nil, time.Second)
	assert.True(t, errors.Is(err, ErrNilCallback))

	_, err = e.AddJob(func(context.Context) {}, 0)
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	assert.Empty(t, e.Jobs())
}

func TestAddRemoveJob(t *testing.T) {
	t.Parallel()
	e := NewCron()

	j, err := e.AddJob(func(context.Context) {}, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, j.ID())
	assert.Equal(t, time.Second, j.Interval())
	assert.Equal(t, []*Job{j}, e.Jobs())

	require.NoError(t, e.RemoveJob(j))
	assert.Empty(t, e.Jobs())

	err = e.RemoveJob(j)
	assert.True(t, errors.Is(err, ErrJobNotFound), "second remove: %v", err)
	assert.True(t, errors.Is(e.RemoveJob(nil), ErrJobNotFound))
}

func TestPauseResumeWhileStopped(t *testing.T) {
	t.Parallel()
	e := NewCron()
	assert.True(t, errors.Is(e.Pause(), ErrNotRunning))
	assert.True(t, errors.Is(e.Resume(), ErrNotRunning))
	assert.Equal(t, StateStopped, e.State())

	// Shutdown while stopped is a no-op.
	e.Shutdown(true)
	assert.Equal(t, StateStopped, e.State())
}

func TestStartBlocksUntilShutdown(t *testing.T) {
	t.Parallel()
	e := NewCron()
	done := startAsync(t, e, context.Background())

	select {
	case <-done:
		t.Fatal("Start returned before Shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, errors.Is(e.Start(context.Background()), ErrAlreadyRunning))

	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.State())
	require.NoError(t, e.Pause())
	assert.True(t, errors.Is(e.Start(context.Background()), ErrAlreadyRunning))
	require.NoError(t, e.Resume())
	require.NoError(t, e.Resume())
	assert.Equal(t, StateRunning, e.State())

	e.Shutdown(false)
	waitReturned(t, done)
	assert.Equal(t, StateStopped, e.State())
}

func TestSubSecondFiring(t *testing.T) {
	t.Parallel()
	e := NewCron()
	var n atomic.Int32
	_, err := e.AddJob(func(context.Context) { n.Add(1) }, tick)
	require.NoError(t, err)

	done := startAsync(t, e, context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)

	e.Shutdown(true)
	waitReturned(t, done)
}

func TestJobAddedWhileRunningFires(t *testing.T) {
	t.Parallel()
	e := NewCron()
	done := startAsync(t, e, context.Background())

	var n atomic.Int32
	_, err := e.AddJob(func(context.Context) { n.Add(1) }, tick)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, time.Millisecond)

	e.Shutdown(true)
	waitReturned(t, done)
}

func TestPausedDropsFirings(t *testing.T) {
	t.Parallel()
	e := NewCron()
	var n atomic.Int32
	_, err := e.AddJob(func(context.Context) { n.Add(1) }, tick)
	require.NoError(t, err)

	done := startAsync(t, e, context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, e.Pause())
	time.Sleep(3 * tick)
	paused := n.Load()
	time.Sleep(5 * tick)
	assert.Equal(t, paused, n.Load(), "paused engine must not run jobs")

	require.NoError(t, e.Resume())
	require.Eventually(t, func() bool { return n.Load() > paused }, time.Second, time.Millisecond)

	e.Shutdown(true)
	waitReturned(t, done)
}

func TestRestartAfterShutdown(t *testing.T) {
	t.Parallel()
	e := NewCron()
	var n atomic.Int32
	_, err := e.AddJob(func(context.Context) { n.Add(1) }, tick)
	require.NoError(t, err)

	done := startAsync(t, e, context.Background())
	e.Shutdown(true)
	waitReturned(t, done)

	before := n.Load()
	done = startAsync(t, e, context.Background())
	require.Eventually(t, func() bool { return n.Load() > before }, time.Second, time.Millisecond)

	e.Shutdown(true)
	waitReturned(t, done)
	assert.Len(t, e.Jobs(), 1)
}

func TestContextCancelStops(t *testing.T) {
	t.Parallel()
	e := NewCron()
	ctx, cancel := context.WithCancel(context.Background())
	done := startAsync(t, e, ctx)

	cancel()
	waitReturned(t, done)
	assert.Equal(t, StateStopped, e.State())
}

func TestShutdownWaitDrainsInFlight(t *testing.T) {
	t.Parallel()
	e := NewCron(WithSkipIfStillRunning(true))

	var (
		once     sync.Once
		started  = make(chan struct{})
		finished atomic.Bool
		ctxLive  atomic.Bool
	)
	_, err := e.AddJob(func(ctx context.Context) {
		first := false
		once.Do(func() { first = true; close(started) })
		if !first {
			return
		}
		time.Sleep(100 * time.Millisecond)
		ctxLive.Store(ctx.Err() == nil)
		finished.Store(true)
	}, tick)
	require.NoError(t, err)

	done := startAsync(t, e, context.Background())
	<-started
	e.Shutdown(true)
	assert.True(t, finished.Load(), "Shutdown(true) returned before the callback finished")
	assert.True(t, ctxLive.Load(), "callback ctx was cancelled before it returned")
	waitReturned(t, done)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	e := NewCron(WithTimezone("UTC"))
	j, err := e.AddJob(func(context.Context) {}, time.Minute)
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, j.ID(), snap.Jobs[0].ID)
	assert.True(t, snap.Jobs[0].Next.IsZero())

	done := startAsync(t, e, context.Background())
	snap = e.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.False(t, snap.Jobs[0].Next.IsZero())

	e.Shutdown(false)
	waitReturned(t, done)
}

func TestStartupSpreadBoundedByInterval(t *testing.T) {
	t.Parallel()
	now := time.Now()
	for i := 0; i < 20; i++ {
		sched, jitter := makeIntervalSchedule(time.Second, now, "job", time.Hour)
		require.GreaterOrEqual(t, jitter, time.Duration(0))
		require.Less(t, jitter, time.Second)
		assert.Equal(t, now.Add(time.Second+jitter), sched.Next(now))
	}

	sched, jitter := makeIntervalSchedule(time.Second, now, "job", 0)
	assert.Zero(t, jitter)
	assert.Equal(t, now.Add(time.Second), sched.Next(now))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	cases := map[State]string{
		StateStopped: "stopped",
		StateRunning: "running",
		StatePaused:  "paused",
		State(42):    "unknown",
	}
	for st, want := range cases {
		assert.Equal(t, want, st.String())
	}
}
