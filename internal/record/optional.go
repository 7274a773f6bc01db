package record

import (
	"encoding/json"
	"fmt"
)

// Opt is a measurement slot that is either present or Absent.
// The zero value is Absent.
type Opt[T any] struct {
	v  T
	ok bool
}

// Some returns a present Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v: v, ok: true}
}

// Absent returns an Opt with no value.
func Absent[T any]() Opt[T] {
	return Opt[T]{}
}

func (o Opt[T]) Present() bool { return o.ok }

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

// Or returns the value, or def when Absent.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

func (o Opt[T]) String() string {
	if !o.ok {
		return "absent"
	}
	return fmt.Sprint(o.v)
}

// MarshalJSON encodes Absent as null.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
