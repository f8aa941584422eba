// Package link defines the schedulable unit the planner drives.
package link

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"databay/internal/engine"
)

// Handle is one schedulable unit of work.
//
// The planner never constructs handles. It reads Interval once when scheduling,
// fills the job slot while the handle is registered and clears it afterwards.
type Handle interface {
	Name() string
	Interval() time.Duration
	Job() *engine.Job
	SetJob(j *engine.Job)
	Transfer(ctx context.Context) error
}

// Starter is implemented by handles that want a callback when the planner starts.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is implemented by handles that want a callback when the planner shuts down.
type Stopper interface {
	OnShutdown(ctx context.Context) error
}

// TransferFunc is the unit of work run on every firing.
type TransferFunc func(ctx context.Context) error

// Link is the stock Handle implementation.
type Link struct {
	name     string
	interval time.Duration
	transfer TransferFunc
	tags     []string

	onStart    func(ctx context.Context) error
	onShutdown func(ctx context.Context) error

	mu  sync.Mutex
	job *engine.Job
}

type Option func(*Link)

func WithTags(tags ...string) Option {
	return func(l *Link) {
		for _, t := range tags {
			if t = strings.TrimSpace(t); t != "" {
				l.tags = append(l.tags, t)
			}
		}
	}
}

func WithOnStart(fn func(ctx context.Context) error) Option {
	return func(l *Link) { l.onStart = fn }
}

func WithOnShutdown(fn func(ctx context.Context) error) Option {
	return func(l *Link) { l.onShutdown = fn }
}

// New creates a link. A nil transfer is a no-op.
func New(name string, interval time.Duration, transfer TransferFunc, opts ...Option) *Link {
	l := &Link{name: strings.TrimSpace(name), interval: interval, transfer: transfer}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Link) Name() string { return l.name }

func (l *Link) Interval() time.Duration { return l.interval }

func (l *Link) Tags() []string { return append([]string(nil), l.tags...) }

func (l *Link) Job() *engine.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.job
}

func (l *Link) SetJob(j *engine.Job) {
	l.mu.Lock()
	l.job = j
	l.mu.Unlock()
}

func (l *Link) Transfer(ctx context.Context) error {
	if l.transfer == nil {
		return nil
	}
	return l.transfer(ctx)
}

func (l *Link) OnStart(ctx context.Context) error {
	if l.onStart == nil {
		return nil
	}
	return l.onStart(ctx)
}

func (l *Link) OnShutdown(ctx context.Context) error {
	if l.onShutdown == nil {
		return nil
	}
	return l.onShutdown(ctx)
}

func (l *Link) String() string {
	if len(l.tags) == 0 {
		return fmt.Sprintf("Link(%s, every %s)", l.name, l.interval)
	}
	return fmt.Sprintf("Link(%s, every %s, tags=%s)", l.name, l.interval, strings.Join(l.tags, ","))
}
