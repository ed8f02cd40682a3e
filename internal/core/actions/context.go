package actions

import (
	"context"

	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/proxies"
)

// Context is handed to every action run. It carries the tick's
// context.Context, cancelled when the tick is abandoned.
type Context struct {
	context.Context

	engine *Engine
	handle *Handle
	tick   uint64
}

// Entity is the entity the action was scheduled for.
func (c *Context) Entity() *entities.Entity {
	return c.handle.entity
}

func (c *Context) Engine() *Engine {
	return c.engine
}

func (c *Context) Handle() *Handle {
	return c.handle
}

// Tick is the number of the tick the action runs in, starting at 1.
func (c *Context) Tick() uint64 {
	return c.tick
}

// View binds the action's entity to a capability.
func (c *Context) View(capability *proxies.Capability) (*proxies.View, error) {
	return c.engine.resolver.Resolve(capability, c.handle.entity)
}

// Cancel unschedules the running action after this run.
func (c *Context) Cancel() {
	c.handle.Cancel()
}
