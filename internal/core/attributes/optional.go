package attributes

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value   T
	present bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, present: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

func (o Optional[T]) IsPresent() bool {
	return o.present
}

func (o Optional[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

// Ptr returns the value as a pointer, nil when absent.
func (o Optional[T]) Ptr() *T {
	if !o.present {
		return nil
	}
	v := o.value
	return &v
}

// Untyped erases the value type.
func (o Optional[T]) Untyped() Optional[any] {
	if !o.present {
		return None[any]()
	}
	return Some[any](o.value)
}

// Cast narrows an untyped optional. Absent values and values of another type
// yield an absent result.
func Cast[T any](o Optional[any]) Optional[T] {
	if !o.present {
		return None[T]()
	}
	v, ok := o.value.(T)
	if !ok {
		return None[T]()
	}
	return Some(v)
}
