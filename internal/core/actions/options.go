package actions

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/core/proxies"
)

type Option func(*Engine)

// WithTickInterval sets the period of the engine's own tick loop. Without it
// the engine is manual and only advances through Tick.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithWorkers caps the number of lanes run in parallel within a tick.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock replaces time.Now for scheduling decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l log.Log) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithResolver(r *proxies.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithErrorHandler is called after every failed run, from the worker that ran
// the action.
func WithErrorHandler(fn func(*Handle, error)) Option {
	return func(e *Engine) { e.onError = fn }
}

type schedule struct {
	delay  time.Duration
	period time.Duration
}

type ScheduleOption func(*schedule)

// After delays the first run.
func After(d time.Duration) ScheduleOption {
	return func(s *schedule) { s.delay = d }
}

// Every makes the action periodic.
func Every(d time.Duration) ScheduleOption {
	return func(s *schedule) { s.period = d }
}
