package native

import (
	"fmt"
	"math"

	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/value"
)

const (
	idLength     = 256
	errorLength  = 2048
	keyLength    = 1024
	maxDimension = 32
)

// Bridge wraps a Runtime with owned handle types.
type Bridge struct {
	rt Runtime
}

// New creates a bridge over rt.
func New(rt Runtime) *Bridge {
	return &Bridge{rt: rt}
}

// Runtime returns the underlying runtime.
func (b *Bridge) Runtime() Runtime {
	return b.rt
}

// UniqueID returns the runtime's process-unique configuration identifier.
func (b *Bridge) UniqueID() (string, error) {
	buf := make([]byte, idLength)
	if err := b.rt.ConfigurationGetUniqueID(buf).Err("ConfigurationGetUniqueID"); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// NewValue creates a native value holding v's data. Without CopyData the
// native value borrows v's memory, so v must stay alive until the native
// value is released.
func (b *Bridge) NewValue(v *value.Value, flags value.Flags) (*Value, error) {
	data, err := v.Bytes()
	if err != nil {
		return nil, err
	}

	var (
		ref    ValueRef
		status Status
		op     string
	)
	switch dtype := v.Dtype(); {
	case dtype.IsTensor():
		op = "ValueCreateArray"
		shape, err := toInt32(v.Shape())
		if err != nil {
			return nil, err
		}
		ref, status = b.rt.ValueCreateArray(data, shape, dtype, flags)
	case dtype == value.String:
		op = "ValueCreateString"
		ref, status = b.rt.ValueCreateString(string(data))
	case dtype == value.List:
		op = "ValueCreateList"
		ref, status = b.rt.ValueCreateList(string(data))
	case dtype == value.Dict:
		op = "ValueCreateDict"
		ref, status = b.rt.ValueCreateDict(string(data))
	case dtype == value.Image:
		op = "ValueCreateImage"
		s := v.Shape()
		ref, status = b.rt.ValueCreateImage(data, int32(s[1]), int32(s[0]), int32(s[2]), flags)
	case dtype == value.Binary:
		op = "ValueCreateBinary"
		ref, status = b.rt.ValueCreateBinary(data, flags)
	case dtype == value.Null:
		op = "ValueCreateNull"
		ref, status = b.rt.ValueCreateNull()
	default:
		return nil, errors.InvalidArgument(errors.PhaseBridge, "invalid dtype "+dtype.String())
	}
	if err := status.Err(op); err != nil {
		return nil, err
	}
	return &Value{b: b, ref: ref}, nil
}

// NewValueMap packs every entry of m into a new native value map. On failure
// everything created so far is released.
func (b *Bridge) NewValueMap(m *value.Map, flags value.Flags) (*ValueMap, error) {
	ref, status := b.rt.ValueMapCreate()
	if err := status.Err("ValueMapCreate"); err != nil {
		return nil, err
	}
	out := &ValueMap{b: b, ref: ref}

	for _, key := range m.Keys() {
		v, err := m.Get(key)
		if err == nil {
			err = out.put(key, v, flags)
		}
		if err != nil {
			_ = out.Release()
			return nil, err
		}
	}
	return out, nil
}

func (m *ValueMap) put(key string, v *value.Value, flags value.Flags) error {
	nv, err := m.b.NewValue(v, flags)
	if err != nil {
		return err
	}
	if err := m.Set(key, nv); err != nil {
		_ = nv.Release()
		return err
	}
	return nil
}

// NewConfiguration creates an empty predictor configuration.
func (b *Bridge) NewConfiguration() (*Configuration, error) {
	ref, status := b.rt.ConfigurationCreate()
	if err := status.Err("ConfigurationCreate"); err != nil {
		return nil, err
	}
	return &Configuration{b: b, ref: ref}, nil
}

// NewPredictor loads a predictor from c. The configuration may be released
// once the predictor exists.
func (b *Bridge) NewPredictor(c *Configuration) (*Predictor, error) {
	if err := c.guard.Check("configuration"); err != nil {
		return nil, err
	}
	ref, status := b.rt.PredictorCreate(c.ref)
	if err := status.Err("PredictorCreate"); err != nil {
		return nil, err
	}
	return &Predictor{b: b, ref: ref, tag: c.tag}, nil
}

func toInt32(shape []int) ([]int32, error) {
	if len(shape) > maxDimension {
		return nil, errors.InvalidArgument(errors.PhaseBridge, fmt.Sprintf("rank %d exceeds %d", len(shape), maxDimension))
	}
	out := make([]int32, len(shape))
	for i, d := range shape {
		if d < 0 || d > math.MaxInt32 {
			return nil, errors.InvalidArgument(errors.PhaseBridge, fmt.Sprintf("dimension %d out of range", d))
		}
		out[i] = int32(d)
	}
	return out, nil
}

func toInt(shape []int32) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
