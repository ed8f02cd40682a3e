package proxies

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/entities"
)

// View is a capability bound to an entity. It holds no state of its own:
// every view over the same entity observes the same attribute container.
type View struct {
	cap    *Capability
	entity *entities.Entity
}

func (v *View) Capability() *Capability {
	return v.cap
}

func (v *View) Entity() *entities.Entity {
	return v.entity
}

func (v *View) ID() uuid.UUID {
	return v.entity.ID()
}

func (v *View) IsAlive() bool {
	return v.entity.IsAlive()
}

// As rebinds the same entity to another capability.
func (v *View) As(c *Capability) (*View, error) {
	return Bind(c, v.entity)
}

// Invoke dispatches method to the entity's attribute container. Results follow
// the bound operation's convention: an attributes.Optional[any] for the
// optional operations, the bare value or nil for the OrNull ones. A nil
// argument to an add operation removes the attribute.
func (v *View) Invoke(method string, args ...any) (any, error) {
	if err := v.entity.CheckAlive(); err != nil {
		return nil, err
	}
	b, ok := v.cap.Binding(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, v.cap.name, method)
	}
	if len(args) != b.Op.Arity() {
		return nil, fmt.Errorf("%w: %s.%s takes %d, got %d", ErrArgumentCount, v.cap.name, method, b.Op.Arity(), len(args))
	}

	attrs := v.entity.Attributes()
	switch b.Op {
	case OpGet:
		return attrs.Value(b.Attribute), nil
	case OpGetOrNull:
		return attrs.ValueOrNull(b.Attribute), nil
	case OpAdd:
		return attrs.AddValue(b.Attribute, args[0])
	case OpAddOrNull:
		return attrs.AddValueOrNull(b.Attribute, args[0])
	case OpRemove:
		return attrs.RemoveValue(b.Attribute)
	case OpRemoveOrNull:
		return attrs.RemoveValueOrNull(b.Attribute)
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, v.cap.name, method)
}

// Call invokes method and narrows the result to T regardless of the bound
// operation's convention.
func Call[T any](v *View, method string, args ...any) (attributes.Optional[T], error) {
	res, err := v.Invoke(method, args...)
	if err != nil {
		return attributes.None[T](), err
	}
	switch r := res.(type) {
	case nil:
		return attributes.None[T](), nil
	case attributes.Optional[any]:
		return attributes.Cast[T](r), nil
	default:
		return attributes.Cast[T](attributes.Some[any](r)), nil
	}
}

// CallOrNull is Call returning a pointer that is nil when absent.
func CallOrNull[T any](v *View, method string, args ...any) (*T, error) {
	o, err := Call[T](v, method, args...)
	return o.Ptr(), err
}
