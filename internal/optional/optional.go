// Package optional models a value that is either present or absent. It is
// used for the per-index entries of request sequences where a JSON null
// means "nothing for this index".
package optional

import (
	"bytes"
	"encoding/json"
)

// Value holds either a present T or nothing. The zero Value is absent.
type Value[T any] struct {
	v  T
	ok bool
}

// Some returns a present value.
func Some[T any](v T) Value[T] {
	return Value[T]{v: v, ok: true}
}

// None returns an absent value.
func None[T any]() Value[T] {
	return Value[T]{}
}

// Get returns the held value and whether it is present.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.ok
}

// IsSome reports whether a value is present.
func (o Value[T]) IsSome() bool {
	return o.ok
}

// OrElse returns the held value, or def when absent.
func (o Value[T]) OrElse(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// MarshalJSON encodes an absent value as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON decodes null as absent.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Any reports whether at least one entry of vs is present.
func Any[T any](vs []Value[T]) bool {
	for _, v := range vs {
		if v.ok {
			return true
		}
	}
	return false
}

// FromPointers converts a slice of nullable pointers.
func FromPointers[T any](ps []*T) []Value[T] {
	if ps == nil {
		return nil
	}
	out := make([]Value[T], len(ps))
	for i, p := range ps {
		if p != nil {
			out[i] = Some(*p)
		}
	}
	return out
}
