package value

import (
	"github.com/wippyai/fxn/errors"
)

// Dtype identifies how a value's data is interpreted.
// The numbering matches the native runtime's ABI.
type Dtype int32

const (
	Null    Dtype = 0
	Float16 Dtype = 1
	Float32 Dtype = 2
	Float64 Dtype = 3
	Int8    Dtype = 4
	Int16   Dtype = 5
	Int32   Dtype = 6
	Int64   Dtype = 7
	UInt8   Dtype = 8
	UInt16  Dtype = 9
	UInt32  Dtype = 10
	UInt64  Dtype = 11
	Bool    Dtype = 12
	String  Dtype = 13
	List    Dtype = 14
	Dict    Dtype = 15
	Image   Dtype = 16
	Binary  Dtype = 17
)

var dtypeNames = [...]string{
	Null:    "null",
	Float16: "float16",
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	UInt8:   "uint8",
	UInt16:  "uint16",
	UInt32:  "uint32",
	UInt64:  "uint64",
	Bool:    "bool",
	String:  "string",
	List:    "list",
	Dict:    "dict",
	Image:   "image",
	Binary:  "binary",
}

var elementSizes = [...]int{
	Float16: 2,
	Float32: 4,
	Float64: 8,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	UInt8:   1,
	UInt16:  2,
	UInt32:  4,
	UInt64:  8,
	Bool:    1,
	Image:   1,
}

// Valid reports whether d is one of the closed set of dtypes.
func (d Dtype) Valid() bool {
	return d >= Null && d <= Binary
}

// String returns the wire name of the dtype.
func (d Dtype) String() string {
	if !d.Valid() {
		return "invalid"
	}
	return dtypeNames[d]
}

// ElementSize returns the size in bytes of one element, or 0 for
// variable-width dtypes and Null.
func (d Dtype) ElementSize() int {
	if !d.Valid() {
		return 0
	}
	return elementSizes[d]
}

// IsTensor reports whether d is a numeric or bool element type.
func (d Dtype) IsTensor() bool {
	return d >= Float16 && d <= Bool
}

// HasShape reports whether values of this dtype carry a meaningful shape.
func (d Dtype) HasShape() bool {
	return d.IsTensor() || d == Image
}

// ParseDtype returns the dtype with the given wire name.
func ParseDtype(name string) (Dtype, error) {
	for i, n := range dtypeNames {
		if n == name {
			return Dtype(i), nil
		}
	}
	return Null, errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
		Dtype(name).
		Detail("unknown dtype").
		Build()
}

// MarshalText implements encoding.TextMarshaler.
func (d Dtype) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, errors.InvalidData(errors.PhaseMarshal, nil, "invalid dtype")
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dtype) UnmarshalText(text []byte) error {
	parsed, err := ParseDtype(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
