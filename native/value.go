package native

import (
	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/handle"
	"github.com/wippyai/fxn/value"
)

// Value is a native value handle.
type Value struct {
	b        *Bridge
	ref      ValueRef
	guard    handle.Guard
	borrowed bool
}

// Ref returns the raw runtime handle.
func (v *Value) Ref() ValueRef {
	return v.ref
}

// Dtype returns the value's dtype as reported by the runtime.
func (v *Value) Dtype() (value.Dtype, error) {
	if err := v.guard.Check("value"); err != nil {
		return value.Null, err
	}
	dtype, status := v.b.rt.ValueGetType(v.ref)
	return dtype, status.Err("ValueGetType")
}

// Shape returns the value's shape. Non-tensor values have no dimensions.
func (v *Value) Shape() ([]int, error) {
	if err := v.guard.Check("value"); err != nil {
		return nil, err
	}
	dims, status := v.b.rt.ValueGetDimensions(v.ref)
	if err := status.Err("ValueGetDimensions"); err != nil {
		return nil, err
	}
	if dims < 0 || dims > maxDimension {
		return nil, errors.InvalidData(errors.PhaseBridge, nil, "dimension count out of range")
	}
	shape := make([]int32, dims)
	if dims > 0 {
		if err := v.b.rt.ValueGetShape(v.ref, shape).Err("ValueGetShape"); err != nil {
			return nil, err
		}
	}
	return toInt(shape), nil
}

// Read copies the native value into a Go-owned tagged value.
func (v *Value) Read() (*value.Value, error) {
	dtype, err := v.Dtype()
	if err != nil {
		return nil, err
	}
	var shape []int
	if dtype.HasShape() {
		if shape, err = v.Shape(); err != nil {
			return nil, err
		}
	}
	data, status := v.b.rt.ValueGetData(v.ref)
	if err := status.Err("ValueGetData"); err != nil {
		return nil, err
	}
	if dtype == value.Null {
		return value.NewNull(), nil
	}
	return value.FromBytes(dtype, data, shape, value.CopyData)
}

// Release releases the native value. Values borrowed from a map cannot be
// released.
func (v *Value) Release() error {
	if v.borrowed {
		return errors.InvalidOperation(errors.PhaseBridge, "value is borrowed")
	}
	return v.guard.Release(func() error {
		return v.b.rt.ValueRelease(v.ref).Err("ValueRelease")
	})
}

// ValueMap is a native value map handle.
type ValueMap struct {
	b        *Bridge
	ref      MapRef
	guard    handle.Guard
	borrowed bool
}

// Ref returns the raw runtime handle.
func (m *ValueMap) Ref() MapRef {
	return m.ref
}

// Len returns the number of entries.
func (m *ValueMap) Len() (int, error) {
	if err := m.guard.Check("value map"); err != nil {
		return 0, err
	}
	n, status := m.b.rt.ValueMapGetSize(m.ref)
	return int(n), status.Err("ValueMapGetSize")
}

// Key returns the key at index i.
func (m *ValueMap) Key(i int) (string, error) {
	if err := m.guard.Check("value map"); err != nil {
		return "", err
	}
	buf := make([]byte, keyLength)
	if err := m.b.rt.ValueMapGetKey(m.ref, int32(i), buf).Err("ValueMapGetKey"); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// Get returns the value under key. The value is owned by the map.
func (m *ValueMap) Get(key string) (*Value, error) {
	if err := m.guard.Check("value map"); err != nil {
		return nil, err
	}
	ref, status := m.b.rt.ValueMapGetValue(m.ref, key)
	if err := status.Err("ValueMapGetValue"); err != nil {
		return nil, err
	}
	return &Value{b: m.b, ref: ref, borrowed: true}, nil
}

// Set stores v under key. On success the map owns v and v must not be
// released by the caller.
func (m *ValueMap) Set(key string, v *Value) error {
	if err := m.guard.Check("value map"); err != nil {
		return err
	}
	if err := v.guard.Check("value"); err != nil {
		return err
	}
	if err := m.b.rt.ValueMapSetValue(m.ref, key, v.ref).Err("ValueMapSetValue"); err != nil {
		return err
	}
	v.borrowed = true
	return nil
}

// Values copies every entry into a Go-owned map, in native key order.
func (m *ValueMap) Values() (*value.Map, error) {
	n, err := m.Len()
	if err != nil {
		return nil, err
	}
	out := value.NewMap()
	for i := range n {
		key, err := m.Key(i)
		if err != nil {
			_ = out.Release()
			return nil, err
		}
		nv, err := m.Get(key)
		if err != nil {
			_ = out.Release()
			return nil, err
		}
		v, err := nv.Read()
		if err != nil {
			_ = out.Release()
			return nil, errors.New(errors.PhaseUnmarshal, errors.KindOf(err)).
				Path(key).
				Cause(err).
				Detail("read native value").
				Build()
		}
		_ = out.Set(key, v)
	}
	return out, nil
}

// Release releases the map and the values it owns. Borrowed maps cannot be
// released.
func (m *ValueMap) Release() error {
	if m.borrowed {
		return errors.InvalidOperation(errors.PhaseBridge, "value map is borrowed")
	}
	return m.guard.Release(func() error {
		return m.b.rt.ValueMapRelease(m.ref).Err("ValueMapRelease")
	})
}
