package value

import (
	"slices"

	"github.com/x448/float16"
)

// Tensor is a multidimensional array. Data is a flat typed slice such as
// []float32 holding product(Shape) elements in row-major order.
type Tensor struct {
	Data  any
	Shape []int
}

// Equal reports whether both tensors have the same shape and elements.
func (t Tensor) Equal(o Tensor) bool {
	if !slices.Equal(t.Shape, o.Shape) {
		return false
	}
	switch a := t.Data.(type) {
	case []int8:
		return equalSlice(a, o.Data)
	case []int16:
		return equalSlice(a, o.Data)
	case []int32:
		return equalSlice(a, o.Data)
	case []int64:
		return equalSlice(a, o.Data)
	case []uint8:
		return equalSlice(a, o.Data)
	case []uint16:
		return equalSlice(a, o.Data)
	case []uint32:
		return equalSlice(a, o.Data)
	case []uint64:
		return equalSlice(a, o.Data)
	case []float16.Float16:
		return equalSlice(a, o.Data)
	case []float32:
		// bit-exact comparison keeps NaN payloads equal
		b, ok := o.Data.([]float32)
		return ok && slices.Equal(sliceBytes(a), sliceBytes(b))
	case []float64:
		b, ok := o.Data.([]float64)
		return ok && slices.Equal(sliceBytes(a), sliceBytes(b))
	case []bool:
		return equalSlice(a, o.Data)
	}
	return false
}

func equalSlice[T comparable](a []T, other any) bool {
	b, ok := other.([]T)
	return ok && slices.Equal(a, b)
}

func tensorValue(t Tensor, flags Flags) (*Value, error) {
	switch data := t.Data.(type) {
	case []int8:
		return FromArray(data, t.Shape, flags)
	case []int16:
		return FromArray(data, t.Shape, flags)
	case []int32:
		return FromArray(data, t.Shape, flags)
	case []int64:
		return FromArray(data, t.Shape, flags)
	case []uint8:
		return FromArray(data, t.Shape, flags)
	case []uint16:
		return FromArray(data, t.Shape, flags)
	case []uint32:
		return FromArray(data, t.Shape, flags)
	case []uint64:
		return FromArray(data, t.Shape, flags)
	case []float16.Float16:
		return FromArray(data, t.Shape, flags)
	case []float32:
		return FromArray(data, t.Shape, flags)
	case []float64:
		return FromArray(data, t.Shape, flags)
	case []bool:
		return FromArray(data, t.Shape, flags)
	}
	return nil, typeError(nil, t.Data)
}
