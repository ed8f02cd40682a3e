// Package world wires a root entity container to an action engine.
package world

import (
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/actions"
	"github.com/zeusync/entsim/internal/core/config"
	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/core/proxies"
)

// World owns the root container and the engine driving its entities.
type World struct {
	id       uuid.UUID
	entities *entities.Container
	engine   *actions.Engine
	resolver *proxies.Resolver
	logger   log.Log
}

// New builds a world from cfg. observer may be nil.
func New(cfg *config.Config, logger log.Log, observer actions.Observer) (*World, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Provide()
	}

	id := uuid.New()
	logger = logger.Named("world").With(log.UUID("world", id))
	resolver := proxies.NewResolver(logger)

	engineOpts := []actions.Option{
		actions.WithLogger(logger),
		actions.WithTickInterval(cfg.Engine.TickInterval),
		actions.WithWorkers(cfg.Engine.Workers),
		actions.WithResolver(resolver),
	}
	if observer != nil {
		engineOpts = append(engineOpts, actions.WithObserver(observer))
	}

	w := &World{
		id: id,
		entities: entities.NewContainer(
			entities.WithID(id),
			entities.WithLimit(cfg.Entities.Limit),
			entities.WithLogger(logger),
		),
		engine:   actions.NewEngine(engineOpts...),
		resolver: resolver,
		logger:   logger,
	}
	return w, nil
}

func (w *World) ID() uuid.UUID {
	return w.id
}

func (w *World) Entities() *entities.Container {
	return w.entities
}

func (w *World) Engine() *actions.Engine {
	return w.engine
}

func (w *World) Start() error {
	if err := w.engine.Start(); err != nil {
		return err
	}
	w.logger.Info("world started", log.Int("entities", w.entities.Len()))
	return nil
}

// Stop stops the engine, then kills every entity. The world cannot be
// restarted.
func (w *World) Stop() error {
	err := w.engine.Stop()
	killed := w.entities.RemoveAll()
	w.logger.Info("world stopped", log.Int("killed", killed))
	return err
}

// NewEntity creates an entity in the root container.
func (w *World) NewEntity() (*entities.Entity, error) {
	return w.entities.CreateEntity()
}

// NewEntityAs creates an entity and binds it to c.
func (w *World) NewEntityAs(c *proxies.Capability) (*proxies.View, error) {
	if !c.Extends(proxies.Entity) {
		return nil, fault.New(fault.InvalidEntityType, "capability", c.String())
	}
	e, err := w.entities.CreateEntity()
	if err != nil {
		return nil, err
	}
	return w.resolver.Resolve(c, e)
}

// View binds a member entity to c.
func (w *World) View(id uuid.UUID, c *proxies.Capability) (*proxies.View, error) {
	e, ok := w.entities.GetEntity(id)
	if !ok {
		return nil, entities.ErrNotMember
	}
	return w.resolver.Resolve(c, e)
}

// Views binds every member entity to c.
func (w *World) Views(c *proxies.Capability) ([]*proxies.View, error) {
	return w.resolver.ResolveAll(w.entities, c)
}

// Schedule runs action for e every period, zero meaning once.
func (w *World) Schedule(action actions.Action, e *entities.Entity, period time.Duration) (*actions.Handle, error) {
	return w.engine.ScheduleAction(action, e, period)
}
