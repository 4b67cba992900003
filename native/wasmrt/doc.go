// Package wasmrt hosts the predictor runtime's WebAssembly build on wazero.
//
// The module must export memory, malloc, free and the FXN* functions of the
// runtime's C API compiled for wasm32: pointers and handles are i32, every
// function returns an i32 status. Runtime implements native.Runtime by staging
// arguments in guest memory and reading out-parameters back.
//
// Guest memory cannot alias Go memory, so array, image and binary values are
// always created with the copy flag and the staging buffer is freed as soon as
// the call returns. Calls are serialized on one instance. Host modules the
// guest imports are instantiated through Config.Imports.
//
// Binary values have no shape, so their length comes from the optional
// FXNValueGetSize export; without it reading a binary value is not_implemented.
package wasmrt
