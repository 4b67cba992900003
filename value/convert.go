package value

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/x448/float16"

	"github.com/wippyai/fxn/errors"
)

// FromList creates a list value holding items as JSON text.
func FromList(items []any) (*Value, error) {
	if err := checkJSON(nil, items); err != nil {
		return nil, err
	}
	return fromJSON(List, items)
}

// FromDict creates a dict value holding fields as JSON text.
func FromDict(fields map[string]any) (*Value, error) {
	if err := checkJSON(nil, fields); err != nil {
		return nil, err
	}
	return fromJSON(Dict, fields)
}

func fromJSON(dtype Dtype, v any) (*Value, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidData).
			Dtype(dtype.String()).
			Cause(err).
			Detail("json encode").
			Build()
	}
	return &Value{dtype: dtype, buf: &Buffer{data: text, owned: true}}, nil
}

// FromHost converts a Go value into a tagged value. Supported types are listed
// in the package documentation; anything else is a type error. A *Value input
// yields a borrowed view of it.
func FromHost(v any, flags Flags) (*Value, error) {
	switch x := v.(type) {
	case nil:
		return NewNull(), nil
	case *Value:
		return x.View()
	case bool:
		return FromScalar(x), nil
	case int8:
		return FromScalar(x), nil
	case int16:
		return FromScalar(x), nil
	case int32:
		return FromScalar(x), nil
	case int64:
		return FromScalar(x), nil
	case int:
		return FromScalar(int64(x)), nil
	case uint8:
		return FromScalar(x), nil
	case uint16:
		return FromScalar(x), nil
	case uint32:
		return FromScalar(x), nil
	case uint64:
		return FromScalar(x), nil
	case uint:
		return FromScalar(uint64(x)), nil
	case float16.Float16:
		return FromScalar(x), nil
	case float32:
		return FromScalar(x), nil
	case float64:
		return FromScalar(x), nil
	case string:
		return FromString(x), nil
	case []byte:
		return FromBinary(x, flags), nil
	case []int8:
		return FromArray(x, nil, flags)
	case []int16:
		return FromArray(x, nil, flags)
	case []int32:
		return FromArray(x, nil, flags)
	case []int64:
		return FromArray(x, nil, flags)
	case []int:
		return FromArray(widen[int, int64](x), nil, CopyData)
	case []uint16:
		return FromArray(x, nil, flags)
	case []uint32:
		return FromArray(x, nil, flags)
	case []uint64:
		return FromArray(x, nil, flags)
	case []uint:
		return FromArray(widen[uint, uint64](x), nil, CopyData)
	case []float16.Float16:
		return FromArray(x, nil, flags)
	case []float32:
		return FromArray(x, nil, flags)
	case []float64:
		return FromArray(x, nil, flags)
	case []bool:
		return FromArray(x, nil, flags)
	case Tensor:
		return tensorValue(x, flags)
	case *Tensor:
		if x == nil {
			return nil, typeError(nil, v)
		}
		return tensorValue(*x, flags)
	case Bitmap:
		return FromImage(x, flags)
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return FromList(items)
	case []any:
		return FromList(x)
	case map[string]any:
		return FromDict(x)
	}
	return nil, typeError(nil, v)
}

// ToHost decodes the value into the most specific Go representation. The result
// never aliases the value's memory.
func (v *Value) ToHost() (any, error) {
	data, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	switch v.dtype {
	case Null:
		return nil, nil
	case String:
		return string(data), nil
	case List:
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, invalidJSON(v.dtype, err)
		}
		return items, nil
	case Dict:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, invalidJSON(v.dtype, err)
		}
		return fields, nil
	case Binary:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case Image:
		return v.bitmap(data), nil
	case Float16:
		return decode[float16.Float16](v, data), nil
	case Float32:
		return decode[float32](v, data), nil
	case Float64:
		return decode[float64](v, data), nil
	case Int8:
		return decode[int8](v, data), nil
	case Int16:
		return decode[int16](v, data), nil
	case Int32:
		return decode[int32](v, data), nil
	case Int64:
		return decode[int64](v, data), nil
	case UInt8:
		return decode[uint8](v, data), nil
	case UInt16:
		return decode[uint16](v, data), nil
	case UInt32:
		return decode[uint32](v, data), nil
	case UInt64:
		return decode[uint64](v, data), nil
	case Bool:
		return decode[bool](v, data), nil
	}
	return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "invalid dtype "+strconv.Itoa(int(v.dtype)))
}

func decode[T Element](v *Value, data []byte) any {
	elems := bytesTo[T](data)
	switch len(v.shape) {
	case 0:
		if len(elems) == 0 {
			var zero T
			return zero
		}
		return elems[0]
	case 1:
		return elems
	}
	return Tensor{Data: elems, Shape: v.Shape()}
}

func widen[S int | uint, D int64 | uint64](in []S) []D {
	out := make([]D, len(in))
	for i, x := range in {
		out[i] = D(x)
	}
	return out
}

// checkJSON walks a list or dict and rejects anything json cannot carry
// losslessly, reporting the offending path.
func checkJSON(path []string, v any) error {
	switch x := v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case []any:
		for i, item := range x {
			if err := checkJSON(append(path, strconv.Itoa(i)), item); err != nil {
				return err
			}
		}
		return nil
	case []string, []float64, []int, []int64, []bool:
		return nil
	case map[string]any:
		for k, item := range x {
			if err := checkJSON(append(path, k), item); err != nil {
				return err
			}
		}
		return nil
	}
	return typeError(path, v)
}

func typeError(path []string, v any) error {
	return errors.TypeError(errors.PhaseMarshal, append([]string(nil), path...), fmt.Sprintf("%T", v))
}

func invalidJSON(dtype Dtype, err error) error {
	return errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
		Dtype(dtype.String()).
		Cause(err).
		Detail("json decode").
		Build()
}
