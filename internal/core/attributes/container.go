package attributes

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/events/bus"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
)

var (
	ErrTypeMismatch = errors.New("attribute value type mismatch")
)

// Guard is consulted before every mutation; a non-nil error rejects it.
type Guard func() error

type Option func(*Container)

// WithGuard installs a mutation guard, typically the owning entity's
// liveness check.
func WithGuard(g Guard) Option {
	return func(c *Container) { c.guard = g }
}

func WithLogger(l log.Log) Option {
	return func(c *Container) { c.logger = l }
}

// Container holds at most one value per attribute type. It is safe for
// concurrent use: reads share the lock, writes are exclusive.
type Container struct {
	mu       sync.RWMutex
	owner    uuid.UUID
	values   map[Key]any
	types    map[Key]AnyType
	guard    Guard
	detached bool

	busOnce sync.Once
	events  atomic.Pointer[bus.Bus]
	logger  log.Log
}

// NewContainer creates an empty container owned by the given entity.
func NewContainer(owner uuid.UUID, opts ...Option) *Container {
	c := &Container{
		owner:  owner,
		values: make(map[Key]any),
		types:  make(map[Key]AnyType),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Provide()
	}
	return c
}

// Owner returns the owning entity identifier.
func (c *Container) Owner() uuid.UUID {
	return c.owner
}

// AddValue stores v under t and returns the previous value. A nil v removes
// the attribute instead.
func (c *Container) AddValue(t AnyType, v any) (Optional[any], error) {
	prev, had, err := c.add(t, v)
	if err != nil || !had {
		return None[any](), err
	}
	return Some(prev), nil
}

// AddValueOrNull is AddValue returning the previous value directly, nil when
// there was none.
func (c *Container) AddValueOrNull(t AnyType, v any) (any, error) {
	prev, had, err := c.add(t, v)
	if err != nil || !had {
		return nil, err
	}
	return prev, nil
}

// RemoveValue removes the value stored under t. Removing an absent attribute
// is not an error.
func (c *Container) RemoveValue(t AnyType) (Optional[any], error) {
	prev, had, err := c.remove(t)
	if err != nil || !had {
		return None[any](), err
	}
	return Some(prev), nil
}

// RemoveValueOrNull is RemoveValue returning the previous value directly.
func (c *Container) RemoveValueOrNull(t AnyType) (any, error) {
	prev, had, err := c.remove(t)
	if err != nil || !had {
		return nil, err
	}
	return prev, nil
}

// Value reads the value stored under t. Undeclared types read as absent.
func (c *Container) Value(t AnyType) Optional[any] {
	if checkType(t) != nil {
		return None[any]()
	}
	c.mu.RLock()
	v, ok := c.values[t.Key()]
	c.mu.RUnlock()
	if !ok {
		return None[any]()
	}
	return Some(v)
}

// ValueOrNull reads the value stored under t, nil when absent.
func (c *Container) ValueOrNull(t AnyType) any {
	v, _ := c.Value(t).Get()
	return v
}

func (c *Container) Has(t AnyType) bool {
	return c.Value(t).IsPresent()
}

func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Types lists the attribute types currently holding a value.
func (c *Container) Types() []AnyType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AnyType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	return out
}

// Snapshot copies the stored values, for persistence layers.
func (c *Container) Snapshot() map[Key]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clear removes every attribute.
func (c *Container) Clear() error {
	c.mu.Lock()
	if err := c.mutableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	removed := c.drainLocked()
	c.mu.Unlock()

	c.notifyRemoved(removed)
	return nil
}

// Detach clears the container and seals it: every later mutation fails with
// EntityNotAlive. It bypasses the guard and is called when the owning entity
// is destroyed.
func (c *Container) Detach() {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.detached = true
	removed := c.drainLocked()
	c.mu.Unlock()

	c.notifyRemoved(removed)
}

func (c *Container) IsDetached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detached
}

// Subscribe registers a handler for changes of attribute type t. kind is one
// of bus.AttributeAdded, bus.AttributeChanged, bus.AttributeRemoved or bus.Any.
func (c *Container) Subscribe(t AnyType, kind bus.Kind, h bus.Handler) (*bus.Subscription, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	return c.eventBus().SubscribeTopic(t.Key().String(), kind, h), nil
}

func (c *Container) add(t AnyType, v any) (any, bool, error) {
	if err := checkType(t); err != nil {
		return nil, false, err
	}
	if v == nil {
		return c.remove(t)
	}
	if err := checkValue(t, v); err != nil {
		return nil, false, err
	}
	if isNil(v) {
		return c.remove(t)
	}

	key := t.Key()
	c.mu.Lock()
	if err := c.mutableLocked(); err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	prev, had := c.values[key]
	c.values[key] = v
	c.types[key] = t
	c.mu.Unlock()

	kind := bus.AttributeAdded
	if had {
		kind = bus.AttributeChanged
	}
	c.notify(kind, key, prev, v)
	return prev, had, nil
}

func (c *Container) remove(t AnyType) (any, bool, error) {
	if err := checkType(t); err != nil {
		return nil, false, err
	}

	key := t.Key()
	c.mu.Lock()
	if err := c.mutableLocked(); err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	prev, had := c.values[key]
	if had {
		delete(c.values, key)
		delete(c.types, key)
	}
	c.mu.Unlock()

	if had {
		c.notify(bus.AttributeRemoved, key, prev, nil)
	}
	return prev, had, nil
}

func (c *Container) mutableLocked() error {
	if c.detached {
		return fault.New(fault.EntityNotAlive, "entity", c.owner.String())
	}
	if c.guard != nil {
		return c.guard()
	}
	return nil
}

func (c *Container) drainLocked() map[Key]any {
	removed := c.values
	c.values = make(map[Key]any)
	c.types = make(map[Key]AnyType)
	return removed
}

func (c *Container) eventBus() *bus.Bus {
	c.busOnce.Do(func() { c.events.Store(bus.New()) })
	return c.events.Load()
}

func (c *Container) notifyRemoved(removed map[Key]any) {
	for k, v := range removed {
		c.notify(bus.AttributeRemoved, k, v, nil)
	}
}

func (c *Container) notify(kind bus.Kind, key Key, prev, value any) {
	b := c.events.Load()
	if b == nil {
		return
	}
	topic := key.String()
	if !b.HasSubscribers(topic) {
		return
	}
	err := b.Publish(bus.Event{
		Kind:     kind,
		Topic:    topic,
		Entity:   c.owner,
		Previous: prev,
		Value:    value,
	})
	if err != nil {
		c.logger.Warn("attribute listener failed",
			log.UUID("entity", c.owner),
			log.String("attribute", topic),
			log.String("event", string(kind)),
			log.Error(err),
		)
	}
}
