// Package fxn runs predictors locally or remotely behind one API.
//
// A prediction takes named Go values, converts them to tagged values, and either
// sends them to the remote endpoint or runs a natively loaded predictor
// in-process. Both paths return the same result record.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	fxn/               Root package with the Storage interface
//	├── errors/        Structured errors with phase and kind
//	├── handle/        Generation-checked handle tables and release guards
//	├── value/         Tagged values (dtype, shape, data) and value maps
//	├── native/        Owned wrappers over the native runtime's C surface
//	│   ├── inproc/    Runtime for predictors written in Go
//	│   └── wasmrt/    Runtime hosting the WebAssembly build on wazero
//	├── api/           Remote prediction endpoint client
//	├── storage/       Disk, S3 and HTTP Storage implementations
//	├── cache/         Loaded predictor cache and resource downloads
//	├── predictor/     Prediction dispatch: create, stream, delete
//	├── config/        File and environment configuration
//	└── cmd/fxn/       Command line client
//
// # Quick Start
//
//	rt := inproc.New()
//	rt.Register("@acme/square", square)
//	svc := predictor.New(client, cache.New(native.New(rt), resources))
//	p, err := svc.Create(ctx, "@acme/square", map[string]any{"x": 3})
//
// # Ownership
//
// Tagged values either own their data or borrow the caller's buffer, chosen
// with value.CopyData. Native handles are released exactly once; the cache owns
// loaded predictors and only Delete or Close releases them. A returned
// prediction holds no native resources.
package fxn
