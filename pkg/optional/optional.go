// Package optional provides an explicit Some/None value so lookups that find
// nothing stay distinct from lookups that fail.
package optional

import "errors"

var ErrNoValue = errors.New("optional has no value")

type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

// FromPtr returns None for a nil pointer.
func FromPtr[T any](v *T) Optional[T] {
	if v == nil {
		return None[T]()
	}
	return Some(*v)
}

func (o Optional[T]) HasValue() bool {
	return o.ok
}

// Get follows the comma-ok idiom.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Optional[T]) ValueOr(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}

// ValueOrFail returns ErrNoValue when the optional is empty.
func (o Optional[T]) ValueOrFail() (T, error) {
	if !o.ok {
		var zero T
		return zero, ErrNoValue
	}
	return o.value, nil
}

// Map is a function rather than a method because methods cannot introduce
// type parameters.
func Map[T, U any](o Optional[T], fn func(T) U) Optional[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(fn(o.value))
}

// MapErr is Map for conversions that can fail. A None input never calls fn.
func MapErr[T, U any](o Optional[T], fn func(T) (U, error)) (Optional[U], error) {
	if !o.ok {
		return None[U](), nil
	}
	u, err := fn(o.value)
	if err != nil {
		return None[U](), err
	}
	return Some(u), nil
}
