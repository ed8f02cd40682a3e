// Package entities provides the entity handle and the container that
// supervises which entities exist.
//
// An entity is alive exactly while it is associated with a container.
// Entities created with New start detached and become alive when added to a
// container; removing an entity kills it for good.
package entities

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
)

type state uint32

const (
	stateDetached state = iota
	stateAlive
	stateDead
)

func (s state) String() string {
	switch s {
	case stateDetached:
		return "detached"
	case stateAlive:
		return "alive"
	case stateDead:
		return "dead"
	}
	return "unknown"
}

// Entity is a stable handle over an attribute container.
type Entity struct {
	id    uuid.UUID
	state atomic.Uint32
	owner atomic.Pointer[Container]
	attrs *attributes.Container
}

// New creates a detached entity with a random identifier.
func New() *Entity {
	return NewWithID(uuid.New())
}

// NewWithID creates a detached entity with the given identifier.
func NewWithID(id uuid.UUID) *Entity {
	return newEntity(id, log.Provide())
}

func newEntity(id uuid.UUID, logger log.Log) *Entity {
	e := &Entity{id: id}
	e.attrs = attributes.NewContainer(id,
		attributes.WithGuard(e.checkAlive),
		attributes.WithLogger(logger),
	)
	return e
}

func (e *Entity) ID() uuid.UUID {
	return e.id
}

// IsAlive reports whether the entity currently belongs to a container.
func (e *Entity) IsAlive() bool {
	return e.load() == stateAlive
}

// IsDead reports whether the entity was removed from its container. Dead
// entities can never be associated again.
func (e *Entity) IsDead() bool {
	return e.load() == stateDead
}

// Attributes returns the entity's attribute container. Mutations fail with
// EntityNotAlive unless the entity is alive.
func (e *Entity) Attributes() *attributes.Container {
	return e.attrs
}

// Container returns the owning container, or nil when detached or dead.
func (e *Entity) Container() *Container {
	return e.owner.Load()
}

// Kill removes the entity from its container. A detached entity is killed in
// place. It reports whether the entity was alive or detached before the call.
// An entity moving between containers is killed in whichever one it lands in.
func (e *Entity) Kill() bool {
	for {
		if c := e.owner.Load(); c != nil {
			if c.RemoveEntity(e) {
				return true
			}
			continue
		}
		switch e.load() {
		case stateDead:
			return false
		case stateDetached:
			if e.state.CompareAndSwap(uint32(stateDetached), uint32(stateDead)) {
				e.attrs.Detach()
				return true
			}
		default:
			// alive without an owner only while a container swaps it in
			runtime.Gosched()
		}
	}
}

// CheckAlive returns EntityNotAlive when the entity is not alive.
func (e *Entity) CheckAlive() error {
	return e.checkAlive()
}

func (e *Entity) String() string {
	return e.id.String() + "(" + e.load().String() + ")"
}

func (e *Entity) checkAlive() error {
	if s := e.load(); s != stateAlive {
		return fault.New(fault.EntityNotAlive, "entity", e.id.String(), "state", s.String())
	}
	return nil
}

func (e *Entity) load() state {
	return state(e.state.Load())
}
