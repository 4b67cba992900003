package value

import (
	"bytes"
	"math"
	"math/bits"
	"slices"
	"unsafe"

	"github.com/x448/float16"

	"github.com/wippyai/fxn/errors"
)

// Element is the set of Go element types that map onto fixed-width dtypes.
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | bool | float16.Float16
}

// Value is a tagged value: a dtype, a shape and a data buffer.
type Value struct {
	buf   *Buffer
	shape []int
	dtype Dtype
}

// FromBytes creates a value from raw data laid out for dtype.
// Shape must be empty for dtypes that do not carry one.
func FromBytes(dtype Dtype, data []byte, shape []int, flags Flags) (*Value, error) {
	if !dtype.Valid() {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
			Value(int32(dtype)).
			Detail("invalid dtype %d", int32(dtype)).
			Build()
	}
	if err := validate(dtype, data, shape); err != nil {
		return nil, err
	}
	return newValue(dtype, data, shape, flags), nil
}

// NewNull creates a null value.
func NewNull() *Value {
	return &Value{dtype: Null, buf: Owned(nil)}
}

// FromScalar creates a rank-0 value. Scalars are always copied.
func FromScalar[T Element](v T) *Value {
	buf := make([]byte, unsafe.Sizeof(v))
	*(*T)(unsafe.Pointer(&buf[0])) = v
	return &Value{dtype: dtypeOf[T](), buf: &Buffer{data: buf, owned: true}}
}

// FromArray creates a tensor value over data. A nil shape means rank 1 of len(data).
func FromArray[T Element](data []T, shape []int, flags Flags) (*Value, error) {
	dtype := dtypeOf[T]()
	if shape == nil {
		shape = []int{len(data)}
	}
	raw := sliceBytes(data)
	if err := validate(dtype, raw, shape); err != nil {
		return nil, err
	}
	return newValue(dtype, raw, shape, flags), nil
}

// FromString creates a string value. The text is copied.
func FromString(s string) *Value {
	return &Value{dtype: String, buf: &Buffer{data: []byte(s), owned: true}}
}

// FromBinary creates a binary value.
func FromBinary(b []byte, flags Flags) *Value {
	return newValue(Binary, b, nil, flags)
}

// Dtype returns the value's dtype.
func (v *Value) Dtype() Dtype {
	return v.dtype
}

// Shape returns a copy of the value's shape. Empty for scalars and untyped payloads.
func (v *Value) Shape() []int {
	return slices.Clone(v.shape)
}

// Rank returns the number of dimensions.
func (v *Value) Rank() int {
	return len(v.shape)
}

// Len returns the element count for shaped dtypes and the byte length otherwise.
func (v *Value) Len() int {
	if v.dtype.HasShape() {
		return elementCount(v.shape)
	}
	return v.buf.Len()
}

// Owned reports whether the value owns its data.
func (v *Value) Owned() bool {
	return v.buf.Owned()
}

// Bytes returns the value's data. The slice aliases the value's memory and must
// not be modified.
func (v *Value) Bytes() ([]byte, error) {
	data, err := v.buf.Bytes()
	if err != nil {
		return nil, errors.Released(errors.PhaseUnmarshal, "value")
	}
	return data, nil
}

// Release drops the value's data. Borrowed memory is left untouched.
func (v *Value) Release() error {
	if err := v.buf.Release(); err != nil {
		return errors.Released(errors.PhaseMarshal, "value")
	}
	return nil
}

// Released reports whether the value was released.
func (v *Value) Released() bool {
	return v.buf.Released()
}

// Equal reports whether both values have the same dtype, shape and data.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	a, errA := v.Bytes()
	b, errB := o.Bytes()
	if errA != nil || errB != nil {
		return false
	}
	if v.dtype != o.dtype || !slices.Equal(v.shape, o.shape) {
		return false
	}
	if v.dtype == Bool {
		return slices.Equal(bytesTo[bool](a), bytesTo[bool](b))
	}
	return bytes.Equal(a, b)
}

// View returns a borrowed value sharing v's data. Releasing the view does not
// release v.
func (v *Value) View() (*Value, error) {
	data, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	return newValue(v.dtype, data, v.shape, FlagNone), nil
}

func newValue(dtype Dtype, data []byte, shape []int, flags Flags) *Value {
	v := &Value{dtype: dtype, shape: slices.Clone(shape), buf: newBuffer(data, flags)}
	if dtype.HasShape() && v.shape == nil {
		v.shape = []int{}
	}
	return v
}

func validate(dtype Dtype, data []byte, shape []int) error {
	if !dtype.HasShape() {
		if len(shape) != 0 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
				Dtype(dtype.String()).
				Detail("shape %v not allowed", shape).
				Build()
		}
		if dtype == Null && len(data) != 0 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
				Dtype(dtype.String()).
				Detail("null value cannot carry data").
				Build()
		}
		return nil
	}

	for _, d := range shape {
		if d < 0 || d > math.MaxInt32 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
				Dtype(dtype.String()).
				Detail("dimension out of range in shape %v", shape).
				Build()
		}
	}

	if dtype == Image {
		if len(shape) != 3 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
				Dtype(dtype.String()).
				Detail("image shape must be (height, width, channels), got %v", shape).
				Build()
		}
		if c := shape[2]; c != 1 && c != 3 && c != 4 {
			return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
				Dtype(dtype.String()).
				Detail("image channels must be 1, 3 or 4, got %d", c).
				Build()
		}
	}

	want, ok := byteSize(shape, dtype.ElementSize())
	if !ok {
		return errors.New(errors.PhaseMarshal, errors.KindInvalidArgument).
			Dtype(dtype.String()).
			Detail("shape %v is too large", shape).
			Build()
	}
	if len(data) != want {
		return errors.ShapeMismatch(errors.PhaseMarshal, dtype.String(), shape, want, len(data))
	}
	return nil
}

// byteSize returns product(shape) * size, or false if it overflows an int.
func byteSize(shape []int, size int) (int, bool) {
	n := uint64(size)
	for _, d := range shape {
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		n = lo
	}
	return int(n), true
}

func elementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func dtypeOf[T Element]() Dtype {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return UInt8
	case uint16:
		return UInt16
	case uint32:
		return UInt32
	case uint64:
		return UInt64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		return Bool
	}
}

// sliceBytes reinterprets a typed slice as its backing bytes without copying.
func sliceBytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return []byte{}
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))
}

// bytesTo copies raw bytes into a freshly allocated typed slice.
func bytesTo[T Element](raw []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	out := make([]T, len(raw)/size)
	if b, ok := any(out).([]bool); ok {
		for i := range b {
			b[i] = raw[i] != 0
		}
		return out
	}
	if len(out) > 0 {
		copy(sliceBytes(out), raw)
	}
	return out
}
