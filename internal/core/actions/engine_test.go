package actions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/proxies"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	pending     int
	actions     int
	failures    int
	ticks       int
	ran         int
}

func (o *recordingObserver) StateChanged(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) Scheduled(pending int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = pending
}

func (o *recordingObserver) ActionDone(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions++
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) TickDone(_ uint64, _ time.Duration, ran int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
	o.ran += ran
}

func manualEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e := NewEngine(append([]Option{WithClock(clock.Now), WithWorkers(4)}, opts...)...)
	require.NoError(t, e.Start())
	return e, clock
}

func newEntity(t *testing.T, c *entities.Container) *entities.Entity {
	t.Helper()
	e, err := c.CreateEntity()
	require.NoError(t, err)
	return e
}

func nop(*Context) error { return nil }

func TestLifecycle(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, StateCreated, e.State())

	require.ErrorIs(t, e.Tick(context.Background()), ErrNotRunning)
	require.ErrorIs(t, e.Pause(), ErrNotRunning)

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	assert.Equal(t, StateRunning, e.State())

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.State())
	require.ErrorIs(t, e.Tick(context.Background()), ErrNotRunning)

	require.NoError(t, e.Start())
	assert.Equal(t, StateRunning, e.State())
	require.NoError(t, e.Pause())
	require.NoError(t, e.Resume())
	require.NoError(t, e.Resume())

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())

	require.ErrorIs(t, e.Stop(), fault.EngineShutdown)
	require.ErrorIs(t, e.Start(), fault.EngineShutdown)
	require.ErrorIs(t, e.Resume(), fault.EngineShutdown)
	require.ErrorIs(t, e.Tick(context.Background()), fault.EngineShutdown)

	_, err := e.ScheduleAction(nop, newEntity(t, entities.NewContainer()), time.Second)
	require.ErrorIs(t, err, fault.EngineShutdown)
}

func TestStopWithoutStart(t *testing.T) {
	e := NewEngine(WithTickInterval(time.Millisecond))
	require.NoError(t, e.Stop())
	require.ErrorIs(t, e.Start(), fault.EngineShutdown)
}

func TestScheduleValidation(t *testing.T) {
	e, _ := manualEngine(t)
	c := entities.NewContainer()
	ent := newEntity(t, c)

	_, err := e.Schedule(nil, ent)
	require.ErrorIs(t, err, ErrNilAction)
	_, err = e.Schedule(nop, nil)
	require.ErrorIs(t, err, entities.ErrNilEntity)
	_, err = e.Schedule(nop, ent, Every(-time.Second))
	require.ErrorIs(t, err, ErrInvalidPeriod)

	require.True(t, c.RemoveEntity(ent))
	_, err = e.ScheduleAction(nop, ent, time.Second)
	require.ErrorIs(t, err, fault.EntityNotAlive)

	_, err = e.ScheduleOnce(nop, entities.New(), 0)
	require.ErrorIs(t, err, fault.EntityNotAlive)
	assert.Equal(t, 0, e.Actions())
}

func TestPeriodicAction(t *testing.T) {
	e, clock := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())
	ctx := context.Background()

	h, err := e.ScheduleAction(nop, ent, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, h.IsPeriodic())

	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(1), h.Runs())

	// not yet due
	require.NoError(t, e.Tick(ctx))
	clock.Advance(9 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(1), h.Runs())

	clock.Advance(time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(2), h.Runs())

	// missed periods are not replayed
	clock.Advance(35 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(3), h.Runs())

	clock.Advance(10 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(4), h.Runs())
	assert.False(t, h.IsDone())
	assert.Equal(t, uint64(7), e.Ticks())

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.True(t, h.IsDone())
	clock.Advance(time.Hour)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(4), h.Runs())
	assert.Equal(t, 0, e.Actions())
}

func TestOneShotAction(t *testing.T) {
	e, clock := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())
	ctx := context.Background()

	h, err := e.ScheduleOnce(nop, ent, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, h.IsPeriodic())
	assert.Equal(t, 1, e.Actions())

	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(0), h.Runs())

	clock.Advance(5 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(1), h.Runs())
	assert.True(t, h.IsDone())
	assert.False(t, h.IsCancelled())
	assert.Equal(t, 0, e.Actions())

	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(1), h.Runs())
}

func TestCancelledTickKeepsActionsScheduled(t *testing.T) {
	e, clock := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())

	once, err := e.ScheduleOnce(nop, ent, 0)
	require.NoError(t, err)
	periodic, err := e.ScheduleAction(nop, ent, 10*time.Millisecond)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Tick(cancelled), context.Canceled)

	assert.Equal(t, uint64(0), once.Runs())
	assert.Equal(t, uint64(0), periodic.Runs())
	assert.False(t, once.IsDone())
	assert.False(t, once.IsCancelled())
	assert.Equal(t, 2, e.Actions())

	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, uint64(1), once.Runs())
	assert.True(t, once.IsDone())
	assert.Equal(t, uint64(1), periodic.Runs())
	assert.Equal(t, 1, e.Actions())

	clock.Advance(10 * time.Millisecond)
	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, uint64(2), periodic.Runs())
}

func TestTickFromInsideActionIsRejected(t *testing.T) {
	e, _ := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())

	var inner error
	_, err := e.ScheduleOnce(func(ctx *Context) error {
		inner = ctx.Engine().Tick(ctx)
		return nil
	}, ent, 0)
	require.NoError(t, err)

	require.NoError(t, e.Tick(context.Background()))
	require.ErrorIs(t, inner, ErrReentrantTick)
	assert.Equal(t, uint64(1), e.Ticks())
}

func TestScheduleWithDelayAndPeriod(t *testing.T) {
	e, clock := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())
	ctx := context.Background()

	h, err := e.Schedule(nop, ent, After(20*time.Millisecond), Every(5*time.Millisecond))
	require.NoError(t, err)

	clock.Advance(19 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(0), h.Runs())

	clock.Advance(time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	clock.Advance(5 * time.Millisecond)
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, uint64(2), h.Runs())
}

func TestFailingActionsAreIsolated(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []error
	)
	obs := &recordingObserver{}
	e, _ := manualEngine(t,
		WithObserver(obs),
		WithErrorHandler(func(_ *Handle, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, err)
		}),
	)
	c := entities.NewContainer()
	boom := errors.New("boom")

	erroring, err := e.ScheduleAction(func(*Context) error { return boom }, newEntity(t, c), time.Millisecond)
	require.NoError(t, err)
	panicking, err := e.ScheduleAction(func(*Context) error { panic("kaboom") }, newEntity(t, c), time.Millisecond)
	require.NoError(t, err)
	var healthyRuns atomic.Int32
	healthy, err := e.ScheduleAction(func(*Context) error {
		healthyRuns.Add(1)
		return nil
	}, newEntity(t, c), time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, int32(1), healthyRuns.Load())
	require.ErrorIs(t, erroring.LastError(), boom)
	require.ErrorIs(t, panicking.LastError(), ErrActionPanic)
	assert.NoError(t, healthy.LastError())
	assert.Equal(t, uint64(1), panicking.Runs())
	assert.Len(t, failed, 2)
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, 3, e.Actions())

	assert.Equal(t, 3, obs.actions)
	assert.Equal(t, 2, obs.failures)
	assert.Equal(t, 1, obs.ticks)
	assert.Equal(t, 3, obs.ran)
}

func TestActionsOfDeadEntitiesAreDropped(t *testing.T) {
	e, _ := manualEngine(t)
	c := entities.NewContainer()
	ent := newEntity(t, c)

	var runs atomic.Int32
	h, err := e.ScheduleAction(func(*Context) error {
		runs.Add(1)
		return nil
	}, ent, time.Millisecond)
	require.NoError(t, err)

	require.True(t, c.RemoveEntity(ent))
	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, int32(0), runs.Load())
	assert.True(t, h.IsCancelled())
	assert.True(t, h.IsDone())
	assert.Equal(t, 0, e.Actions())
}

func TestEntityKilledByEarlierAction(t *testing.T) {
	e, _ := manualEngine(t, WithWorkers(1))
	c := entities.NewContainer()
	victim := newEntity(t, c)

	_, err := e.ScheduleOnce(func(*Context) error {
		c.RemoveEntity(victim)
		return nil
	}, newEntity(t, c), 0)
	require.NoError(t, err)

	var ran atomic.Bool
	h, err := e.ScheduleOnce(func(*Context) error {
		ran.Store(true)
		return nil
	}, victim, 0)
	require.NoError(t, err)

	require.NoError(t, e.Tick(context.Background()))
	assert.False(t, ran.Load())
	assert.True(t, h.IsCancelled())
}

func TestActionsOfOneEntityRunInSchedulingOrder(t *testing.T) {
	e, _ := manualEngine(t, WithWorkers(8))
	c := entities.NewContainer()
	ent := newEntity(t, c)

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 20; i++ {
		_, err := e.ScheduleOnce(func(*Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		}, ent, 0)
		require.NoError(t, err)

		// noise on other entities
		_, err = e.ScheduleOnce(nop, newEntity(t, c), 0)
		require.NoError(t, err)
	}

	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestManyEntitiesRunOncePerTick(t *testing.T) {
	e, _ := manualEngine(t, WithWorkers(4))
	c := entities.NewContainer()

	counts := make([]atomic.Int32, 64)
	for i := range counts {
		_, err := e.ScheduleAction(func(*Context) error {
			counts[i].Add(1)
			return nil
		}, newEntity(t, c), time.Millisecond)
		require.NoError(t, err)
	}

	require.NoError(t, e.Tick(context.Background()))
	for i := range counts {
		assert.Equal(t, int32(1), counts[i].Load(), "entity %d", i)
	}
}

func TestContext(t *testing.T) {
	e, _ := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())

	b := proxies.Define("Counter").Extends(proxies.Entity)
	proxies.Method[int](b, "SetCount", proxies.OpAdd)
	counter := proxies.MustBuild(b)
	count := attributes.MustType[int]("count")

	var seen *Context
	h, err := e.ScheduleAction(func(ctx *Context) error {
		seen = ctx
		view, err := ctx.View(counter)
		if err != nil {
			return err
		}
		if _, err := view.Invoke("SetCount", int(ctx.Tick())); err != nil {
			return err
		}
		ctx.Cancel()
		return nil
	}, ent, time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, e.Tick(context.Background()))
	require.NotNil(t, seen)
	assert.Same(t, ent, seen.Entity())
	assert.Same(t, e, seen.Engine())
	assert.Same(t, h, seen.Handle())
	assert.Equal(t, uint64(1), seen.Tick())
	assert.Equal(t, 1, attributes.Get(ent.Attributes(), count).OrElse(0))
	assert.True(t, h.IsCancelled())
	assert.NoError(t, h.LastError())
}

func TestScheduleFromInsideAction(t *testing.T) {
	e, _ := manualEngine(t)
	ent := newEntity(t, entities.NewContainer())

	var child atomic.Pointer[Handle]
	_, err := e.ScheduleOnce(func(ctx *Context) error {
		h, err := ctx.Engine().ScheduleOnce(nop, ctx.Entity(), 0)
		child.Store(h)
		return err
	}, ent, 0)
	require.NoError(t, err)

	require.NoError(t, e.Tick(context.Background()))
	require.NotNil(t, child.Load())
	assert.Equal(t, uint64(0), child.Load().Runs())

	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, uint64(1), child.Load().Runs())
}

func TestStopWaitsForInFlightAction(t *testing.T) {
	e := NewEngine(WithTickInterval(time.Millisecond))
	ent := newEntity(t, entities.NewContainer())

	var (
		once     sync.Once
		runs     atomic.Int32
		finished atomic.Bool
		started  = make(chan struct{})
		release  = make(chan struct{})
	)
	h, err := e.ScheduleAction(func(*Context) error {
		runs.Add(1)
		once.Do(func() {
			close(started)
			<-release
			finished.Store(true)
		})
		return nil
	}, ent, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("action never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an action was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned")
	}

	assert.True(t, finished.Load())
	assert.Equal(t, StateStopped, e.State())
	assert.True(t, h.IsCancelled())

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestTickLoopRunsActions(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(WithTickInterval(time.Millisecond), WithObserver(obs))
	ent := newEntity(t, entities.NewContainer())

	done := make(chan struct{})
	var once sync.Once
	_, err := e.ScheduleAction(func(ctx *Context) error {
		if ctx.Handle().Runs() >= 2 {
			once.Do(func() { close(done) })
		}
		return nil
	}, ent, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick loop did not run the action")
	}
	require.NoError(t, e.Stop())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []State{StateRunning, StateStopping, StateStopped}, obs.transitions)
	assert.Equal(t, 0, obs.pending)
	assert.GreaterOrEqual(t, obs.ticks, 3)
}

func TestCancelAll(t *testing.T) {
	e, _ := manualEngine(t)
	c := entities.NewContainer()
	handles := make([]*Handle, 0, 3)
	for i := 0; i < 3; i++ {
		h, err := e.ScheduleAction(nop, newEntity(t, c), time.Second)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, handles, e.Handles())

	assert.Equal(t, 3, e.CancelAll())
	assert.Equal(t, 0, e.Actions())
	for _, h := range handles {
		assert.True(t, h.IsCancelled())
	}
}

func TestTickIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e, _ := manualEngine(t, WithTracer(provider.Tracer("test")))
	_, err := e.ScheduleOnce(nop, newEntity(t, entities.NewContainer()), 0)
	require.NoError(t, err)
	require.NoError(t, e.Tick(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "actions.tick", spans[0].Name())

	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	assert.Equal(t, int64(1), attrs["entsim.tick"])
	assert.Equal(t, int64(1), attrs["entsim.due"])
	assert.Equal(t, int64(1), attrs["entsim.ran"])
}
