package native

import (
	"github.com/wippyai/fxn/value"
)

// Opaque runtime handles. Zero is never a valid handle.
type (
	ValueRef      uint64
	MapRef        uint64
	ConfigRef     uint64
	PredictorRef  uint64
	PredictionRef uint64
)

// Runtime is the native predictor runtime's call surface.
//
// Buffers passed for text output are written NUL-terminated and truncated to
// len(buf). Data returned by ValueGetData stays valid until the value is
// released and must not be modified.
type Runtime interface {
	ValueCreateArray(data []byte, shape []int32, dtype value.Dtype, flags value.Flags) (ValueRef, Status)
	ValueCreateString(text string) (ValueRef, Status)
	ValueCreateList(text string) (ValueRef, Status)
	ValueCreateDict(text string) (ValueRef, Status)
	ValueCreateImage(pixels []byte, width, height, channels int32, flags value.Flags) (ValueRef, Status)
	ValueCreateBinary(data []byte, flags value.Flags) (ValueRef, Status)
	ValueCreateNull() (ValueRef, Status)
	ValueGetData(v ValueRef) ([]byte, Status)
	ValueGetType(v ValueRef) (value.Dtype, Status)
	ValueGetDimensions(v ValueRef) (int32, Status)
	ValueGetShape(v ValueRef, shape []int32) Status
	ValueRelease(v ValueRef) Status

	ValueMapCreate() (MapRef, Status)
	ValueMapGetSize(m MapRef) (int32, Status)
	ValueMapGetKey(m MapRef, index int32, key []byte) Status
	ValueMapGetValue(m MapRef, key string) (ValueRef, Status)
	ValueMapSetValue(m MapRef, key string, v ValueRef) Status
	ValueMapRelease(m MapRef) Status

	ConfigurationGetUniqueID(id []byte) Status
	ConfigurationCreate() (ConfigRef, Status)
	ConfigurationSetTag(c ConfigRef, tag string) Status
	ConfigurationSetToken(c ConfigRef, token string) Status
	ConfigurationSetAcceleration(c ConfigRef, acceleration int32) Status
	ConfigurationSetDevice(c ConfigRef, device uintptr) Status
	ConfigurationAddResource(c ConfigRef, typ, path string) Status
	ConfigurationRelease(c ConfigRef) Status

	PredictorCreate(c ConfigRef) (PredictorRef, Status)
	PredictorPredict(p PredictorRef, inputs MapRef) (PredictionRef, Status)
	PredictorRelease(p PredictorRef) Status

	PredictionGetID(p PredictionRef, id []byte) Status
	PredictionGetLatency(p PredictionRef) (float64, Status)
	PredictionGetResults(p PredictionRef) (MapRef, Status)
	PredictionGetError(p PredictionRef, msg []byte) Status
	PredictionGetLogLength(p PredictionRef) (int32, Status)
	PredictionGetLogs(p PredictionRef, logs []byte) Status
	PredictionRelease(p PredictionRef) Status
}

// CString returns the text before the first NUL in buf.
func CString(buf []byte) string {
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// PutCString writes s into buf NUL-terminated, truncating to fit.
func PutCString(buf []byte, s string) {
	if len(buf) == 0 {
		return
	}
	n := copy(buf[:len(buf)-1], s)
	buf[n] = 0
}
