package eventbus

import (
	"testing"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Kind: LinkAdded, Link: "feed"})

	for i, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Kind != LinkAdded || e.Link != "feed" {
			t.Fatalf("subscriber %d got %+v", i, e)
		}
		if e.Time.IsZero() {
			t.Fatalf("subscriber %d: event time not stamped", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: LinkTransferred})
	b.Publish(Event{Kind: LinkFailed})

	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	if e := <-ch; e.Kind != LinkTransferred {
		t.Fatalf("first event = %s, want %s", e.Kind, LinkTransferred)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: PlannerStopped})
}
