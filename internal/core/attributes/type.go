// Package attributes provides typed attribute keys and the per-entity
// attribute container.
//
// An attribute type is a (name, value type) pair and is declared once per
// concrete Go type:
//
//	var Speed = attributes.MustType[float64]("speed")
//
//	prev, err := attributes.Add(c, Speed, 12.5)      // Optional[float64]
//	old, err := attributes.RemoveOrNull(c, Speed)     // *float64, nil if absent
package attributes

import (
	"fmt"
	"reflect"

	"github.com/zeusync/entsim/internal/core/fault"
)

// Key is the comparable identity of an attribute type.
type Key struct {
	Name string
	Kind reflect.Type
}

func (k Key) String() string {
	if k.Kind == nil {
		return k.Name + ":<nil>"
	}
	return k.Name + ":" + k.Kind.String()
}

// AnyType is the type-erased view of a Type[T]. It is implemented only by
// this package.
type AnyType interface {
	Key() Key
	Name() string
	ValueType() reflect.Type
	valid() bool
}

// Type is an attribute type carrying the value type T.
type Type[T any] struct {
	key Key
}

var _ AnyType = (*Type[int])(nil)

// NewType declares an attribute type named name with value type T. It fails
// with InvalidAttributeTypeDeclaration when the name is empty or T carries no
// type information (the empty interface).
func NewType[T any](name string) (*Type[T], error) {
	kind := reflect.TypeFor[T]()
	if name == "" {
		return nil, fault.New(fault.InvalidAttributeTypeDeclaration, "reason", "empty name", "type", kind.String())
	}
	if kind.Kind() == reflect.Interface && kind.NumMethod() == 0 {
		return nil, fault.New(fault.InvalidAttributeTypeDeclaration, "name", name, "reason", "raw value type")
	}
	return &Type[T]{key: Key{Name: name, Kind: kind}}, nil
}

// MustType is NewType for package-level declarations. It panics on error.
func MustType[T any](name string) *Type[T] {
	t, err := NewType[T](name)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Type[T]) Key() Key {
	if t == nil {
		return Key{}
	}
	return t.key
}

func (t *Type[T]) Name() string {
	return t.Key().Name
}

func (t *Type[T]) ValueType() reflect.Type {
	return t.Key().Kind
}

func (t *Type[T]) String() string {
	return t.Key().String()
}

func (t *Type[T]) valid() bool {
	return t != nil && t.key.Kind != nil && t.key.Name != ""
}

func checkType(t AnyType) error {
	if t == nil || !t.valid() {
		return fault.New(fault.InvalidAttributeTypeDeclaration, "reason", "undeclared attribute type")
	}
	return nil
}

// checkValue verifies v can be stored under t. v must not be untyped nil.
func checkValue(t AnyType, v any) error {
	vt := reflect.TypeOf(v)
	if !vt.AssignableTo(t.ValueType()) {
		return fmt.Errorf("%w: %s does not accept %s", ErrTypeMismatch, t.Key(), vt)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
