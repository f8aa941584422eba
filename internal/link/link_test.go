package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"databay/internal/engine"
)

func TestLinkJobSlot(t *testing.T) {
	t.Parallel()
	l := New("weather", time.Second, nil)
	if l.Job() != nil {
		t.Fatal("new link should have an empty job slot")
	}

	e := engine.NewCron()
	j, err := e.AddJob(func(context.Context) {}, time.Second)
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	l.SetJob(j)
	if l.Job() != j {
		t.Fatalf("Job() = %v, want %v", l.Job(), j)
	}
	l.SetJob(nil)
	if l.Job() != nil {
		t.Fatal("SetJob(nil) should clear the slot")
	}
}

func TestLinkTransferAndHooks(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var started, stopped bool
	l := New(" feed ", 2*time.Second,
		func(context.Context) error { return boom },
		WithTags("a", " ", "b"),
		WithOnStart(func(context.Context) error { started = true; return nil }),
		WithOnShutdown(func(context.Context) error { stopped = true; return nil }),
	)

	if l.Name() != "feed" {
		t.Fatalf("Name() = %q, want %q", l.Name(), "feed")
	}
	if got := l.Tags(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Tags() = %v", got)
	}
	if err := l.Transfer(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Transfer() = %v, want %v", err, boom)
	}
	_ = l.OnStart(context.Background())
	_ = l.OnShutdown(context.Background())
	if !started || !stopped {
		t.Fatalf("hooks not called: started=%v stopped=%v", started, stopped)
	}
	if l.String() != "Link(feed, every 2s, tags=a,b)" {
		t.Fatalf("String() = %q", l.String())
	}
}

func TestLinkNilTransferIsNoop(t *testing.T) {
	t.Parallel()
	l := New("noop", time.Second, nil)
	if err := l.Transfer(context.Background()); err != nil {
		t.Fatalf("Transfer() = %v, want nil", err)
	}
	if err := l.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() = %v, want nil", err)
	}
}
