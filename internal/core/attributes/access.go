package attributes

// Typed accessors over a Container. Each operation comes in two calling
// conventions: Optional results, or a pointer that is nil when absent.

// Add stores v under t, returning the previous value. If T is a nillable kind
// and v is nil, the attribute is removed instead.
func Add[T any](c *Container, t *Type[T], v T) (Optional[T], error) {
	prev, err := c.AddValue(t, v)
	return Cast[T](prev), err
}

// AddOrNull is Add returning the previous value as a pointer, nil if absent.
func AddOrNull[T any](c *Container, t *Type[T], v T) (*T, error) {
	prev, err := c.AddValue(t, v)
	return Cast[T](prev).Ptr(), err
}

// Remove deletes the value stored under t, returning it.
func Remove[T any](c *Container, t *Type[T]) (Optional[T], error) {
	prev, err := c.RemoveValue(t)
	return Cast[T](prev), err
}

// RemoveOrNull is Remove returning the previous value as a pointer.
func RemoveOrNull[T any](c *Container, t *Type[T]) (*T, error) {
	prev, err := c.RemoveValue(t)
	return Cast[T](prev).Ptr(), err
}

// Get reads the value stored under t.
func Get[T any](c *Container, t *Type[T]) Optional[T] {
	return Cast[T](c.Value(t))
}

// GetOrNull reads the value stored under t as a pointer, nil if absent.
func GetOrNull[T any](c *Container, t *Type[T]) *T {
	return Get(c, t).Ptr()
}

// Has reports whether a value is stored under t.
func Has[T any](c *Container, t *Type[T]) bool {
	return c.Has(t)
}
