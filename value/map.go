package value

import (
	stderrors "errors"

	"github.com/wippyai/fxn/errors"
)

// Map is an ordered collection of uniquely named values.
type Map struct {
	keys     []string
	values   map[string]*Value
	released bool
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Value)}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// KeyAt returns the key at index i in insertion order.
func (m *Map) KeyAt(i int) (string, error) {
	if i < 0 || i >= len(m.keys) {
		return "", errors.New(errors.PhaseUnmarshal, errors.KindInvalidArgument).
			Value(i).
			Detail("index %d out of range [0, %d)", i, len(m.keys)).
			Build()
	}
	return m.keys[i], nil
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (*Value, error) {
	if m.released {
		return nil, errors.Released(errors.PhaseUnmarshal, "value map")
	}
	v, ok := m.values[key]
	if !ok {
		return nil, errors.NotFound(errors.PhaseUnmarshal, "key", key)
	}
	return v, nil
}

// Set stores v under key, taking ownership of it. An existing value under the
// same key is released.
func (m *Map) Set(key string, v *Value) error {
	if m.released {
		return errors.Released(errors.PhaseMarshal, "value map")
	}
	if v == nil {
		return errors.InvalidArgument(errors.PhaseMarshal, "nil value for key "+key)
	}
	if old, ok := m.values[key]; ok {
		if old != v {
			_ = old.Release()
		}
	} else {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
	return nil
}

// Withdraw removes key from the map and hands ownership of its value to the caller.
func (m *Map) Withdraw(key string) (*Value, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return v, nil
}

// Release releases the map and every value still in it.
func (m *Map) Release() error {
	if m.released {
		return errors.Released(errors.PhaseMarshal, "value map")
	}
	m.released = true
	var errs []error
	for _, k := range m.keys {
		if v := m.values[k]; !v.Released() {
			if err := v.Release(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.keys = nil
	m.values = nil
	return stderrors.Join(errs...)
}
