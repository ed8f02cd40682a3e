package proxies

import (
	"strings"
	"sync"

	"github.com/zeusync/entsim/internal/core/entities"
	"github.com/zeusync/entsim/internal/core/fault"
	"github.com/zeusync/entsim/internal/core/observability/log"
)

// Resolver binds capabilities to entities, validating each capability once.
type Resolver struct {
	mu        sync.RWMutex
	validated map[*Capability]error
	logger    log.Log
}

func NewResolver(logger log.Log) *Resolver {
	if logger == nil {
		logger = log.Provide()
	}
	return &Resolver{
		validated: make(map[*Capability]error),
		logger:    logger.Named("proxies"),
	}
}

var (
	defaultOnce     sync.Once
	defaultResolver *Resolver
)

func resolver() *Resolver {
	defaultOnce.Do(func() { defaultResolver = NewResolver(nil) })
	return defaultResolver
}

// Bind returns a view of e through c using the shared resolver.
func Bind(c *Capability, e *entities.Entity) (*View, error) {
	return resolver().Resolve(c, e)
}

// BindAll returns views through c of every entity in container.
func BindAll(container *entities.Container, c *Capability) ([]*View, error) {
	return resolver().ResolveAll(container, c)
}

// Resolve validates c and binds it to e. It fails with InvalidEntityType when
// c does not extend Entity.
func (r *Resolver) Resolve(c *Capability, e *entities.Entity) (*View, error) {
	if err := r.validate(c); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, entities.ErrNilEntity
	}
	return &View{cap: c, entity: e}, nil
}

// ResolveAll binds c to every entity of container.
func (r *Resolver) ResolveAll(container *entities.Container, c *Capability) ([]*View, error) {
	if err := r.validate(c); err != nil {
		return nil, err
	}
	members := container.Entities()
	views := make([]*View, 0, len(members))
	for _, e := range members {
		views = append(views, &View{cap: c, entity: e})
	}
	return views, nil
}

func (r *Resolver) validate(c *Capability) error {
	if c == nil {
		return fault.New(fault.InvalidEntityType, "reason", "nil capability")
	}

	r.mu.RLock()
	err, ok := r.validated[c]
	r.mu.RUnlock()
	if ok {
		return err
	}

	if !c.Extends(Entity) {
		err = fault.New(fault.InvalidEntityType,
			"capability", c.name,
			"parents", parentNames(c),
			"reason", "does not extend "+Entity.name,
		)
	}

	r.mu.Lock()
	r.validated[c] = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("capability rejected", log.String("capability", c.name), log.Error(err))
	} else {
		r.logger.Debug("capability validated", log.String("capability", c.name), log.Int("methods", len(c.methods)))
	}
	return err
}

func parentNames(c *Capability) string {
	parents := c.Parents()
	if len(parents) == 0 {
		return "none"
	}
	names := make([]string, len(parents))
	for i, p := range parents {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}
