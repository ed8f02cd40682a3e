package entities

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/events/bus"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
)

var (
	ErrNotMember     = errors.New("entity is not a member of this container")
	ErrNilEntity     = errors.New("entity cannot be nil")
	ErrNilContainer  = errors.New("container cannot be nil")
	containerCounter atomic.Uint64
)

type Option func(*Container)

// WithLimit caps the number of entities. Zero or a negative value means
// unlimited.
func WithLimit(limit int) Option {
	return func(c *Container) {
		if limit < 0 {
			limit = 0
		}
		c.limit = limit
	}
}

func WithLogger(l log.Log) Option {
	return func(c *Container) { c.logger = l }
}

func WithID(id uuid.UUID) Option {
	return func(c *Container) { c.id = id }
}

// Container exclusively owns a set of entities. The limit check is atomic
// with insertion, so concurrent creation never exceeds the limit.
type Container struct {
	id  uuid.UUID
	seq uint64

	mu       sync.RWMutex
	entities map[uuid.UUID]*Entity
	limit    int

	events *bus.Bus
	logger log.Log
}

func NewContainer(opts ...Option) *Container {
	c := &Container{
		id:       uuid.New(),
		seq:      containerCounter.Add(1),
		entities: make(map[uuid.UUID]*Entity),
		events:   bus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Provide()
	}
	c.logger = c.logger.Named("entities").With(log.UUID("container", c.id))
	return c
}

func (c *Container) ID() uuid.UUID {
	return c.id
}

// Limit returns the maximum entity count, 0 when unlimited.
func (c *Container) Limit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit
}

func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// CreateEntity creates a new alive entity with an empty attribute container.
func (c *Container) CreateEntity() (*Entity, error) {
	return c.CreateEntityWithID(uuid.New())
}

// CreateEntityWithID is CreateEntity with a caller-chosen identifier. It fails
// with AlreadyAssociated when the identifier is taken.
func (c *Container) CreateEntityWithID(id uuid.UUID) (*Entity, error) {
	e := newEntity(id, c.logger)

	c.mu.Lock()
	err := c.adoptLocked(e)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("entity created", log.UUID("entity", id))
	c.publish(bus.Event{Kind: bus.EntityCreated, Entity: id, Source: c.id})
	return e, nil
}

// AddEntity associates a detached entity with the container.
func (c *Container) AddEntity(e *Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	if owner := e.Container(); owner != nil {
		return fault.New(fault.AlreadyAssociated, "entity", e.id.String(), "container", owner.id.String())
	}
	if e.IsDead() {
		return fault.New(fault.EntityNotAlive, "entity", e.id.String(), "state", stateDead.String())
	}

	c.mu.Lock()
	err := c.adoptLocked(e)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("entity added", log.UUID("entity", e.id))
	c.publish(bus.Event{Kind: bus.EntityReceived, Entity: e.id, Destination: c.id})
	return nil
}

// GetEntity looks up a member entity by identifier.
func (c *Container) GetEntity(id uuid.UUID) (*Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	return e, ok
}

func (c *Container) HasEntity(id uuid.UUID) bool {
	_, ok := c.GetEntity(id)
	return ok
}

// Entities returns a snapshot of the member entities in no particular order.
func (c *Container) Entities() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Collect(maps.Values(c.entities))
}

func (c *Container) EntityIDs() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Collect(maps.Keys(c.entities))
}

// RemoveEntity kills a member entity: it is no longer alive and its
// attributes are detached. Removing a non-member is a no-op and returns false.
func (c *Container) RemoveEntity(e *Entity) bool {
	if e == nil {
		return false
	}

	c.mu.Lock()
	if c.entities[e.id] != e {
		c.mu.Unlock()
		return false
	}
	delete(c.entities, e.id)
	c.killLocked(e)
	c.mu.Unlock()

	e.attrs.Detach()
	c.logger.Debug("entity killed", log.UUID("entity", e.id))
	c.publish(bus.Event{Kind: bus.EntityKilled, Entity: e.id, Source: c.id})
	return true
}

// RemoveAll kills every member entity and returns how many were removed.
func (c *Container) RemoveAll() int {
	c.mu.Lock()
	removed := c.entities
	c.entities = make(map[uuid.UUID]*Entity)
	for _, e := range removed {
		c.killLocked(e)
	}
	c.mu.Unlock()

	for _, e := range removed {
		e.attrs.Detach()
		c.publish(bus.Event{Kind: bus.EntityKilled, Entity: e.id, Source: c.id})
	}
	if len(removed) > 0 {
		c.logger.Debug("entities killed", log.Int("count", len(removed)))
	}
	return len(removed)
}

// TransferEntity moves a member entity to dst with both containers locked.
// If dst rejects the entity after it left this container, the entity is
// orphaned: detached, owned by neither, and recoverable with AddEntity. That
// failure is reported as ExportWithoutTransfer wrapping dst's error.
func (c *Container) TransferEntity(e *Entity, dst *Container) error {
	if e == nil {
		return ErrNilEntity
	}
	if dst == nil {
		return ErrNilContainer
	}
	if dst == c {
		return fault.New(fault.CannotSelfTransfer, "entity", e.id.String(), "container", c.id.String())
	}

	unlock := lockPair(c, dst)
	if c.entities[e.id] != e {
		unlock()
		return fmt.Errorf("%w: %s", ErrNotMember, e.id)
	}
	delete(c.entities, e.id)
	e.owner.Store(nil)

	err := dst.importLocked(e)
	if err != nil {
		e.state.Store(uint32(stateDetached))
	}
	unlock()

	if err != nil {
		c.logger.Error("entity exported but not transferred",
			log.UUID("entity", e.id),
			log.UUID("destination", dst.id),
			log.ErrorWithKey("cause", err),
		)
		return fault.Wrap(fault.ExportWithoutTransfer, err,
			"entity", e.id.String(),
			"source", c.id.String(),
			"destination", dst.id.String(),
		)
	}

	c.logger.Debug("entity transferred", log.UUID("entity", e.id), log.UUID("destination", dst.id))
	c.publish(bus.Event{Kind: bus.EntityTransferred, Entity: e.id, Source: c.id, Destination: dst.id})
	dst.publish(bus.Event{Kind: bus.EntityReceived, Entity: e.id, Source: c.id, Destination: dst.id})
	return nil
}

// TransferAll moves every member entity to dst. It returns how many were
// moved along with the joined failures.
func (c *Container) TransferAll(dst *Container) (int, error) {
	var (
		moved int
		errs  []error
	)
	for _, e := range c.Entities() {
		err := c.TransferEntity(e, dst)
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrNotMember):
			// removed concurrently
		default:
			errs = append(errs, err)
		}
	}
	return moved, errors.Join(errs...)
}

// Subscribe registers a handler for entity lifecycle events of the given
// kind: bus.EntityCreated, bus.EntityKilled, bus.EntityReceived,
// bus.EntityTransferred or bus.Any. Handlers run after the container lock is
// released.
func (c *Container) Subscribe(kind bus.Kind, h bus.Handler) *bus.Subscription {
	return c.events.Subscribe(kind, h)
}

func (c *Container) String() string {
	return "container(" + c.id.String() + ")"
}

// adoptLocked associates a detached entity.
func (c *Container) adoptLocked(e *Entity) error {
	if err := c.admitLocked(e); err != nil {
		return err
	}
	if !e.state.CompareAndSwap(uint32(stateDetached), uint32(stateAlive)) {
		if e.IsDead() {
			return fault.New(fault.EntityNotAlive, "entity", e.id.String(), "state", stateDead.String())
		}
		return fault.New(fault.AlreadyAssociated, "entity", e.id.String())
	}
	e.owner.Store(c)
	c.entities[e.id] = e
	return nil
}

// importLocked receives an alive entity exported from another container.
func (c *Container) importLocked(e *Entity) error {
	if err := c.admitLocked(e); err != nil {
		return err
	}
	e.owner.Store(c)
	c.entities[e.id] = e
	return nil
}

func (c *Container) admitLocked(e *Entity) error {
	if c.limit > 0 && len(c.entities) >= c.limit {
		return fault.New(fault.EntityLimitReached, "container", c.id.String(), "limit", strconv.Itoa(c.limit))
	}
	if _, taken := c.entities[e.id]; taken {
		return fault.New(fault.AlreadyAssociated, "entity", e.id.String(), "container", c.id.String())
	}
	return nil
}

func (c *Container) killLocked(e *Entity) {
	e.owner.Store(nil)
	e.state.Store(uint32(stateDead))
}

func (c *Container) publish(event bus.Event) {
	if !c.events.HasSubscribers(event.Topic) {
		return
	}
	if err := c.events.Publish(event); err != nil {
		c.logger.Warn("entity listener failed",
			log.UUID("entity", event.Entity),
			log.String("event", string(event.Kind)),
			log.Error(err),
		)
	}
}

// lockPair locks two distinct containers in sequence order.
func lockPair(a, b *Container) (unlock func()) {
	first, second := a, b
	if second.seq < first.seq {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
