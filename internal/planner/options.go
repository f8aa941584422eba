package planner

import (
	"time"

	"databay/internal/engine"
	"databay/internal/eventbus"
	"databay/internal/link"
	logx "databay/pkg/logx"
)

type options struct {
	eng         engine.Engine
	log         logx.Logger
	bus         eventbus.Bus
	catchErrors bool
	immediate   bool
	failEvery   time.Duration
	failBurst   int
	links       []link.Handle
}

func defaultOptions() options {
	return options{
		failEvery: 10 * time.Second,
		failBurst: 1,
	}
}

type Option func(*options)

// WithEngine injects the engine. The planner owns it from then on.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.eng = e }
}

// WithCatchErrors selects the failure policy. true logs and swallows transfer
// failures; false (default) shuts the whole planner down on the first one.
func WithCatchErrors(catch bool) Option {
	return func(o *options) { o.catchErrors = catch }
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithBus(b eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithImmediateTransfer runs every link once when Start begins, without
// waiting for the first interval.
func WithImmediateTransfer(enabled bool) Option {
	return func(o *options) { o.immediate = enabled }
}

// WithFailureLogRate limits swallowed-failure logs to burst entries per link
// every interval. every <= 0 disables the limit.
func WithFailureLogRate(every time.Duration, burst int) Option {
	return func(o *options) {
		o.failEvery = every
		if burst < 1 {
			burst = 1
		}
		o.failBurst = burst
	}
}

// WithLinks adds handles at construction.
func WithLinks(handles ...link.Handle) Option {
	return func(o *options) { o.links = append(o.links, handles...) }
}
