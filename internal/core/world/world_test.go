package world

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entsim/internal/core/actions"
	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/config"
	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/core/proxies"
)

var health = attributes.MustType[int]("health")

func manualConfig(limit int) *config.Config {
	cfg := config.Default()
	cfg.Entities.Limit = limit
	cfg.Engine.TickInterval = 0
	return cfg
}

func newWorld(t *testing.T, cfg *config.Config) *World {
	t.Helper()
	w, err := New(cfg, log.NewNop(), nil)
	require.NoError(t, err)
	return w
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Workers = -1
	_, err := New(cfg, log.NewNop(), nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewWithDefaults(t *testing.T) {
	w, err := New(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, w.ID(), w.Entities().ID())
	assert.Equal(t, actions.StateCreated, w.Engine().State())
	assert.Equal(t, 50*time.Millisecond, w.Engine().TickInterval())
}

func TestEntityLimit(t *testing.T) {
	w := newWorld(t, manualConfig(2))

	for range 2 {
		_, err := w.NewEntity()
		require.NoError(t, err)
	}
	_, err := w.NewEntity()
	require.ErrorIs(t, err, fault.EntityLimitReached)
	assert.Equal(t, 2, w.Entities().Len())
}

func TestNewEntityAs(t *testing.T) {
	w := newWorld(t, manualConfig(0))

	b := proxies.Define("Creature").Extends(proxies.Entity)
	proxies.MethodOf(b, "GetHealth", health, proxies.OpGet)
	proxies.MethodOf(b, "SetHealth", health, proxies.OpAdd)
	creature := proxies.MustBuild(b)

	v, err := w.NewEntityAs(creature)
	require.NoError(t, err)
	_, err = v.Invoke("SetHealth", 10)
	require.NoError(t, err)

	got, err := w.View(v.ID(), creature)
	require.NoError(t, err)
	hp, err := proxies.Call[int](got, "GetHealth")
	require.NoError(t, err)
	assert.Equal(t, 10, hp.OrElse(0))

	views, err := w.Views(creature)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestNewEntityAsRejectsForeignCapability(t *testing.T) {
	w := newWorld(t, manualConfig(0))

	loose := proxies.MustBuild(proxies.Define("Loose"))
	_, err := w.NewEntityAs(loose)
	require.ErrorIs(t, err, fault.InvalidEntityType)
	_, err = w.NewEntityAs(nil)
	require.ErrorIs(t, err, fault.InvalidEntityType)
	assert.Zero(t, w.Entities().Len(), "no entity is created for an invalid capability")
}

func TestViewOfUnknownEntity(t *testing.T) {
	w := newWorld(t, manualConfig(0))
	_, err := w.View(entities.New().ID(), proxies.Entity)
	require.ErrorIs(t, err, entities.ErrNotMember)
}

func TestScheduleAndTick(t *testing.T) {
	w := newWorld(t, manualConfig(0))
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	e, err := w.NewEntity()
	require.NoError(t, err)

	h, err := w.Schedule(func(ctx *actions.Context) error {
		_, err := attributes.Add(ctx.Entity().Attributes(), health, 3)
		return err
	}, e, 0)
	require.NoError(t, err)

	require.NoError(t, w.Engine().Tick(context.Background()))
	assert.True(t, h.IsDone())
	assert.Equal(t, 3, attributes.Get(e.Attributes(), health).OrElse(0))
}

func TestStopKillsEntities(t *testing.T) {
	w := newWorld(t, manualConfig(0))
	require.NoError(t, w.Start())

	e, err := w.NewEntity()
	require.NoError(t, err)
	_, err = w.Schedule(func(*actions.Context) error { return nil }, e, time.Second)
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	assert.True(t, e.IsDead())
	assert.Zero(t, w.Entities().Len())
	assert.Zero(t, w.Engine().Actions())

	require.ErrorIs(t, w.Start(), fault.EngineShutdown)
}
