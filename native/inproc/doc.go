// Package inproc implements native.Runtime for predictors written in Go.
//
// Predictors are registered by tag and looked up when a predictor is created
// from a configuration. Handles are generation-checked, so a released handle
// reports invalid_operation instead of aliasing a newer object. Stats exposes
// live handle counts, which tests use to assert that nothing leaks.
package inproc
