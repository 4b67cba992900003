// Package value implements the tagged value protocol shared by local and remote
// predictions.
//
// A Value is a closed (dtype, shape, data) triple. Fixed-width dtypes store
// product(shape) elements in host byte order; String, List and Dict store UTF-8
// text (List and Dict as JSON); Binary stores raw bytes; Image stores interleaved
// pixels with shape (height, width, channels).
//
//	Go type                  Dtype          ToHost
//	──────────────────────────────────────────────────────────
//	nil                      null           nil
//	int8 ... uint64          int8 ... uint64 same type
//	int / uint               int64 / uint64 int64 / uint64
//	float16.Float16          float16        float16.Float16
//	float32 / float64        float32/float64 same type
//	bool                     bool           bool
//	[]T (numeric or bool)    T, shape (n)   []T
//	Tensor                   T, shape       Tensor (rank >= 2)
//	string                   string         string
//	[]any, []string          list           []any
//	map[string]any           dict           map[string]any
//	Bitmap                   image          Bitmap
//	[]byte                   binary         []byte
//
// Any other Go type is a type_error.
//
// # Ownership
//
// Constructors that accept caller memory take Flags. CopyData copies the input so
// the caller may reuse its buffer immediately. Without it the value borrows the
// caller's memory, which must stay unmodified until the value is released.
// Release is single-shot; a released value rejects further access.
//
// A Map is an ordered set of named values used for predictor inputs and outputs.
// It owns values set through it and releases them with the map unless they were
// withdrawn first. Values and maps are not safe for concurrent mutation.
package value
