package optional

// Value holds either a present value of type T or nothing.
// The zero Value is absent.
type Value[T any] struct {
	value   T
	present bool
}

// Some returns a present Value wrapping v
func Some[T any](v T) Value[T] {
	return Value[T]{value: v, present: true}
}

// None returns an absent Value
func None[T any]() Value[T] {
	return Value[T]{}
}

// Get returns the wrapped value and whether it is present
func (v Value[T]) Get() (T, bool) {
	return v.value, v.present
}

// IsPresent returns true if the value is present
func (v Value[T]) IsPresent() bool {
	return v.present
}

// Map applies fn to a present value, leaving absent values absent
func Map[T, U any](v Value[T], fn func(T) U) Value[U] {
	if !v.present {
		return None[U]()
	}
	return Some(fn(v.value))
}

// All wraps every element of values as present
func All[T any](values []T) []Value[T] {
	result := make([]Value[T], len(values))
	for i, v := range values {
		result[i] = Some(v)
	}
	return result
}
