// Package proxies binds user-declared capabilities onto entities.
//
// A capability is a named table of methods, each bound to an attribute type
// and an operation. Capabilities are declared once with a builder and must
// transitively extend the base Entity capability to be bound:
//
//	b := proxies.Define("Car").Extends(proxies.Entity)
//	proxies.Method[float64](b, "GetSpeed", proxies.OpGet)
//	proxies.Method[float64](b, "SetSpeed", proxies.OpAdd)
//	car, err := b.Build()
//
//	view, err := proxies.Bind(car, entity)
//	speed, err := proxies.Call[float64](view, "GetSpeed")
package proxies

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/fault"
)

var (
	ErrUnknownMethod = errors.New("method is not bound by capability")
	ErrArgumentCount = errors.New("wrong number of arguments")
)

// Op is the container operation a method dispatches to.
type Op uint8

const (
	OpGet Op = iota
	OpGetOrNull
	OpAdd
	OpAddOrNull
	OpRemove
	OpRemoveOrNull
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpGetOrNull:
		return "getOrNull"
	case OpAdd:
		return "add"
	case OpAddOrNull:
		return "addOrNull"
	case OpRemove:
		return "remove"
	case OpRemoveOrNull:
		return "removeOrNull"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Arity is the number of arguments a method bound to o takes.
func (o Op) Arity() int {
	if o == OpAdd || o == OpAddOrNull {
		return 1
	}
	return 0
}

// OrNull reports whether results use the nil-when-absent convention.
func (o Op) OrNull() bool {
	return o == OpGetOrNull || o == OpAddOrNull || o == OpRemoveOrNull
}

func (o Op) valid() bool {
	return o <= OpRemoveOrNull
}

// Binding ties a method to an attribute type and operation.
type Binding struct {
	Method    string
	Attribute attributes.AnyType
	Op        Op
}

func (b Binding) same(o Binding) bool {
	return b.Op == o.Op && b.Attribute.Key() == o.Attribute.Key()
}

// Capability is an immutable, validated method table.
type Capability struct {
	name    string
	parents []*Capability
	methods map[string]Binding
}

// Entity is the base capability every bindable capability must extend.
var Entity = &Capability{name: "Entity", methods: map[string]Binding{}}

func (c *Capability) Name() string {
	return c.name
}

// Parents returns the directly extended capabilities.
func (c *Capability) Parents() []*Capability {
	return slices.Clone(c.parents)
}

// Extends reports whether c is other or transitively extends it.
func (c *Capability) Extends(other *Capability) bool {
	if c == nil || other == nil {
		return false
	}
	if c == other {
		return true
	}
	for _, p := range c.parents {
		if p.Extends(other) {
			return true
		}
	}
	return false
}

// Binding looks up a method, including those inherited from parents.
func (c *Capability) Binding(method string) (Binding, bool) {
	b, ok := c.methods[method]
	return b, ok
}

// Methods lists every bound method name in sorted order.
func (c *Capability) Methods() []string {
	return slices.Sorted(maps.Keys(c.methods))
}

func (c *Capability) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.name
}

// Builder declares a capability. Errors are collected and reported by Build.
type Builder struct {
	name     string
	parents  []*Capability
	bindings []Binding
	errs     []error
}

func Define(name string) *Builder {
	return &Builder{name: name}
}

// Extends adds parent capabilities.
func (b *Builder) Extends(parents ...*Capability) *Builder {
	for _, p := range parents {
		if p == nil {
			b.errs = append(b.errs, fault.New(fault.InvalidEntityType, "capability", b.name, "reason", "nil parent"))
			continue
		}
		b.parents = append(b.parents, p)
	}
	return b
}

// Method binds method to the attribute type derived from its name and T.
func Method[T any](b *Builder, method string, op Op) *Builder {
	name, err := AttributeName(method)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	t, err := attributes.NewType[T](name)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("method %s: %w", method, err))
		return b
	}
	return b.bind(method, t, op)
}

// MethodOf binds method to an explicitly declared attribute type.
func MethodOf[T any](b *Builder, method string, t *attributes.Type[T], op Op) *Builder {
	if t == nil || t.ValueType() == nil {
		b.errs = append(b.errs, fault.New(fault.InvalidAttributeTypeDeclaration, "method", method))
		return b
	}
	return b.bind(method, t, op)
}

func (b *Builder) bind(method string, t attributes.AnyType, op Op) *Builder {
	if !op.valid() {
		b.errs = append(b.errs, fault.New(fault.InvalidEntityType,
			"capability", b.name, "method", method, "reason", "unknown operation "+op.String()))
		return b
	}
	b.bindings = append(b.bindings, Binding{Method: method, Attribute: t, Op: op})
	return b
}

// Build validates the declaration and flattens inherited methods. A method
// bound twice to different attribute types or operations fails with
// InvalidEntityType.
func (b *Builder) Build() (*Capability, error) {
	if b.name == "" {
		b.errs = append(b.errs, fault.New(fault.InvalidEntityType, "reason", "empty capability name"))
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	c := &Capability{
		name:    b.name,
		parents: slices.Clone(b.parents),
		methods: make(map[string]Binding),
	}
	for _, p := range b.parents {
		for _, m := range p.Methods() {
			if err := c.put(p.methods[m]); err != nil {
				return nil, err
			}
		}
	}
	for _, binding := range b.bindings {
		if err := c.put(binding); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustBuild is Build for package-level declarations. It panics on error.
func MustBuild(b *Builder) *Capability {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Capability) put(b Binding) error {
	if prev, ok := c.methods[b.Method]; ok && !prev.same(b) {
		return fault.New(fault.InvalidEntityType,
			"capability", c.name,
			"method", b.Method,
			"reason", fmt.Sprintf("conflicting bindings %s/%s and %s/%s", prev.Attribute.Key(), prev.Op, b.Attribute.Key(), b.Op),
		)
	}
	c.methods[b.Method] = b
	return nil
}
