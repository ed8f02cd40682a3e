// Package actions schedules work against entities and runs it in ticks.
//
// Every tick collects the actions that are due, splits them into lanes by
// entity and runs the lanes in parallel. Actions of one entity run one after
// the other in the order they were scheduled. An engine built without a tick
// interval is advanced only by calling Tick.
package actions

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/core/proxies"
	"github.com/zeusync/entsim/pkg/concurrent"
)

const tracerName = "github.com/zeusync/entsim/internal/core/actions"

// tickKey marks contexts handed to actions with the engine running them.
type tickKey struct{}

var (
	ErrNotRunning    = errors.New("engine is not running")
	ErrNilAction     = errors.New("action cannot be nil")
	ErrInvalidPeriod = errors.New("delay and period cannot be negative")
	ErrActionPanic   = errors.New("action panicked")
	ErrReentrantTick = errors.New("tick called from inside an action")
)

// State is the engine lifecycle state. Stopped is terminal.
type State uint32

const (
	StateCreated State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

func (s State) shutdown() bool {
	return s == StateStopping || s == StateStopped
}

type Engine struct {
	mu       sync.Mutex
	state    State
	pending  map[uuid.UUID]*Handle
	seq      uint64
	stopCh   chan struct{}
	loopDone chan struct{}

	// serializes ticks; Stop takes it to wait for the tick in flight
	tickMu sync.Mutex
	ticks  atomic.Uint64

	interval time.Duration
	workers  int
	now      func() time.Time
	logger   log.Log
	observer Observer
	tracer   trace.Tracer
	resolver *proxies.Resolver
	onError  func(*Handle, error)
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		pending: make(map[uuid.UUID]*Handle),
		workers: runtime.GOMAXPROCS(0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Provide()
	}
	e.logger = e.logger.Named("actions")
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.resolver == nil {
		e.resolver = proxies.NewResolver(e.logger)
	}
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ticks returns the number of ticks run so far.
func (e *Engine) Ticks() uint64 {
	return e.ticks.Load()
}

func (e *Engine) Workers() int {
	return e.workers
}

// TickInterval is zero for a manual engine.
func (e *Engine) TickInterval() time.Duration {
	return e.interval
}

// Start moves a created engine to running and starts the tick loop. Starting
// a running engine is a no-op and starting a paused one resumes it. A stopped
// engine cannot be restarted and fails with EngineShutdown.
func (e *Engine) Start() error {
	e.mu.Lock()
	from := e.state
	switch from {
	case StateRunning:
		e.mu.Unlock()
		return nil
	case StateStopping, StateStopped:
		e.mu.Unlock()
		return fault.New(fault.EngineShutdown, "op", "start")
	case StateCreated:
		if e.interval > 0 {
			e.stopCh = make(chan struct{})
			e.loopDone = make(chan struct{})
			go e.loop(e.stopCh, e.loopDone)
		}
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Info("engine running",
		log.Stringer("from", from),
		log.Duration("interval", e.interval),
		log.Int("workers", e.workers),
	)
	e.observer.StateChanged(from, StateRunning)
	return nil
}

// Pause stops ticking without unscheduling anything.
func (e *Engine) Pause() error {
	return e.transition(StateRunning, StatePaused)
}

func (e *Engine) Resume() error {
	return e.transition(StatePaused, StateRunning)
}

func (e *Engine) transition(from, to State) error {
	e.mu.Lock()
	switch e.state {
	case to:
		e.mu.Unlock()
		return nil
	case StateStopping, StateStopped:
		e.mu.Unlock()
		return fault.New(fault.EngineShutdown, "op", to.String())
	case from:
		e.state = to
	default:
		current := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot move from %s to %s", ErrNotRunning, current, to)
	}
	e.mu.Unlock()

	e.logger.Info("engine "+to.String(), log.Stringer("from", from))
	e.observer.StateChanged(from, to)
	return nil
}

// Stop waits for the tick in flight, then cancels every pending action. No
// action starts after Stop returns. Stopping twice fails with EngineShutdown.
// Stop must not be called from inside an action.
func (e *Engine) Stop() error {
	e.mu.Lock()
	from := e.state
	if from.shutdown() {
		e.mu.Unlock()
		return fault.New(fault.EngineShutdown, "op", "stop")
	}
	e.state = StateStopping
	stopCh, loopDone := e.stopCh, e.loopDone
	e.mu.Unlock()
	e.observer.StateChanged(from, StateStopping)

	if stopCh != nil {
		close(stopCh)
		<-loopDone
	}

	e.tickMu.Lock()
	e.mu.Lock()
	e.state = StateStopped
	cancelled := e.drainLocked()
	e.mu.Unlock()
	e.tickMu.Unlock()

	e.logger.Info("engine stopped",
		log.Uint64("ticks", e.ticks.Load()),
		log.Int("cancelled", cancelled),
	)
	e.observer.Scheduled(0)
	e.observer.StateChanged(StateStopping, StateStopped)
	return nil
}

// ScheduleAction runs action for entity every period, starting with the next
// tick. A zero period runs it once.
func (e *Engine) ScheduleAction(action Action, entity *entities.Entity, period time.Duration) (*Handle, error) {
	return e.Schedule(action, entity, Every(period))
}

// ScheduleOnce runs action for entity once, no earlier than delay from now.
func (e *Engine) ScheduleOnce(action Action, entity *entities.Entity, delay time.Duration) (*Handle, error) {
	return e.Schedule(action, entity, After(delay))
}

// Schedule registers action for entity. It fails with EngineShutdown once the
// engine is stopping and with EntityNotAlive when entity is not alive.
func (e *Engine) Schedule(action Action, entity *entities.Entity, opts ...ScheduleOption) (*Handle, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	if entity == nil {
		return nil, entities.ErrNilEntity
	}
	var s schedule
	for _, opt := range opts {
		opt(&s)
	}
	if s.delay < 0 || s.period < 0 {
		return nil, ErrInvalidPeriod
	}

	e.mu.Lock()
	if e.state.shutdown() {
		e.mu.Unlock()
		return nil, fault.New(fault.EngineShutdown, "op", "schedule", "entity", entity.ID().String())
	}
	if err := entity.CheckAlive(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.seq++
	h := &Handle{
		id:      uuid.New(),
		seq:     e.seq,
		action:  action,
		entity:  entity,
		period:  s.period,
		engine:  e,
		nextRun: e.now().Add(s.delay),
	}
	e.pending[h.id] = h
	pending := len(e.pending)
	e.mu.Unlock()

	e.logger.Debug("action scheduled",
		log.UUID("action", h.id),
		log.UUID("entity", entity.ID()),
		log.Duration("delay", s.delay),
		log.Duration("period", s.period),
	)
	e.observer.Scheduled(pending)
	return h, nil
}

// Actions returns the number of pending actions.
func (e *Engine) Actions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Handles returns the pending actions in scheduling order.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	out := make([]*Handle, 0, len(e.pending))
	for _, h := range e.pending {
		out = append(out, h)
	}
	e.mu.Unlock()
	slices.SortFunc(out, bySeq)
	return out
}

// CancelAll unschedules every pending action and returns how many there were.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	n := e.drainLocked()
	e.mu.Unlock()
	e.observer.Scheduled(0)
	return n
}

// Tick runs one tick: every due action of a live entity runs once. It fails
// with ErrNotRunning unless the engine is running, and with EngineShutdown
// once it is stopping. Ticks never overlap: called with an action's context it
// fails with ErrReentrantTick, and it must not be called from inside an
// action with any other context. Due actions the tick did not reach because
// ctx was cancelled stay scheduled.
func (e *Engine) Tick(ctx context.Context) error {
	if owner, _ := ctx.Value(tickKey{}).(*Engine); owner == e {
		return ErrReentrantTick
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	switch state := e.state; {
	case state.shutdown():
		e.mu.Unlock()
		return fault.New(fault.EngineShutdown, "op", "tick")
	case state != StateRunning:
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, state)
	}
	now := e.now()
	due, expired := e.collectLocked(now)
	pending := len(e.pending)
	e.mu.Unlock()

	tick := e.ticks.Add(1)
	for _, h := range expired {
		e.logger.Debug("action dropped for dead entity", log.UUID("action", h.id), log.UUID("entity", h.entity.ID()))
	}
	e.observer.Scheduled(pending)

	ctx = context.WithValue(ctx, tickKey{}, e)
	ctx, span := e.tracer.Start(ctx, "actions.tick", trace.WithAttributes(
		attribute.Int64("entsim.tick", int64(tick)),
		attribute.Int("entsim.due", len(due)),
	))
	defer span.End()

	start := time.Now()
	var ran atomic.Int64
	attempted := make(map[*Handle]*atomic.Bool, len(due))
	for _, h := range due {
		attempted[h] = new(atomic.Bool)
	}
	lanes := concurrent.Partition(due, e.workers, laneKey)
	err := concurrent.RunLanes(ctx, lanes, e.workers, func(ctx context.Context, h *Handle) error {
		attempted[h].Store(true)
		if e.execute(ctx, tick, h) {
			ran.Add(1)
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		e.requeue(due, attempted)
	}

	span.SetAttributes(attribute.Int64("entsim.ran", ran.Load()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.observer.TickDone(tick, elapsed, int(ran.Load()))
	return err
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := e.Tick(context.Background())
			if err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, fault.EngineShutdown) {
				e.logger.Error("tick failed", log.Error(err))
			}
		}
	}
}

// collectLocked returns the due actions in scheduling order and advances
// their next run. Actions of entities that are no longer alive are dropped.
func (e *Engine) collectLocked(now time.Time) (due, expired []*Handle) {
	for id, h := range e.pending {
		if !h.entity.IsAlive() {
			delete(e.pending, id)
			h.cancelled.Store(true)
			h.done.Store(true)
			expired = append(expired, h)
			continue
		}
		if h.nextRun.After(now) {
			continue
		}
		due = append(due, h)
	}
	slices.SortFunc(due, bySeq)

	for _, h := range due {
		h.lastDue = h.nextRun
		if h.period <= 0 {
			delete(e.pending, h.id)
			continue
		}
		next := h.nextRun.Add(h.period)
		if !next.After(now) {
			next = now.Add(h.period)
		}
		h.nextRun = next
	}
	return due, expired
}

// requeue puts back the due actions a cancelled tick never reached, so they
// run on the next tick as if this one had not collected them.
func (e *Engine) requeue(due []*Handle, attempted map[*Handle]*atomic.Bool) {
	e.mu.Lock()
	restored := 0
	for _, h := range due {
		if attempted[h].Load() || h.IsCancelled() {
			continue
		}
		h.nextRun = h.lastDue
		e.pending[h.id] = h
		restored++
	}
	pending := len(e.pending)
	e.mu.Unlock()

	if restored > 0 {
		e.logger.Debug("actions requeued after cancelled tick", log.Int("count", restored))
		e.observer.Scheduled(pending)
	}
}

func (e *Engine) execute(ctx context.Context, tick uint64, h *Handle) bool {
	if h.IsCancelled() {
		return false
	}
	if !h.entity.IsAlive() {
		h.Cancel()
		return false
	}

	start := time.Now()
	err := e.invoke(&Context{Context: ctx, engine: e, handle: h, tick: tick})
	elapsed := time.Since(start)

	h.record(err)
	if !h.IsPeriodic() {
		h.done.Store(true)
	}
	e.observer.ActionDone(elapsed, err)

	if err != nil {
		e.logger.Warn("action failed",
			log.UUID("action", h.id),
			log.UUID("entity", h.entity.ID()),
			log.Uint64("tick", tick),
			log.Error(err),
		)
		if e.onError != nil {
			e.onError(h, err)
		}
	}
	return true
}

func (e *Engine) invoke(ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	return ctx.handle.action(ctx)
}

func (e *Engine) unschedule(h *Handle) {
	e.mu.Lock()
	if e.pending[h.id] == h {
		delete(e.pending, h.id)
	}
	pending := len(e.pending)
	e.mu.Unlock()

	h.done.Store(true)
	e.observer.Scheduled(pending)
}

func (e *Engine) drainLocked() int {
	n := len(e.pending)
	for id, h := range e.pending {
		h.cancelled.Store(true)
		h.done.Store(true)
		delete(e.pending, id)
	}
	return n
}

func laneKey(h *Handle) uint64 {
	id := h.entity.ID()
	return xxhash.Sum64(id[:])
}

func bySeq(a, b *Handle) int {
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}
