// Package native bridges Go to a native predictor runtime.
//
// Runtime mirrors the runtime's C surface one function per method: every call
// returns a Status, handles are opaque integers, and text outputs are written
// into caller-allocated buffers. Runtime implementations live in subpackages:
// inproc runs predictors written in Go, wasmrt hosts the runtime's WebAssembly
// build.
//
// Bridge wraps a Runtime with owned handle types. Every successful create
// returns a wrapper that must be released exactly once; a second release, or
// any call on a released wrapper, fails with invalid_operation before reaching
// the runtime. A non-Ok status is translated to an *errors.Error with the
// matching kind and aborts the operation after releasing anything it acquired.
//
// Ownership across the boundary:
//
//	ValueMap.Set      transfers the value to the map
//	Prediction.Results borrows the prediction's map; do not release it
//	ValueMap.Get      borrows the map's value; do not release it
//
// Predictor.Predict is serialized per predictor; runtimes are assumed not to be
// reentrant on a single predictor.
package native
