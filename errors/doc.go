// Package errors provides structured error types for the predictor runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Kind set is closed so callers can switch over it exhaustively:
//
//	invalid_argument, invalid_operation, not_implemented   native status codes
//	type_error                                             host value outside the dtype set
//	transport                                              network or storage failure
//	resource                                               disk I/O during resource retrieval
//	not_found, invalid_data, closed                        supporting kinds
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeError).
//		Path("inputs", "x").
//		GoType("func()").
//		Detail("cannot convert to a tagged value").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeError(errors.PhaseMarshal, path, "chan int")
//	err := errors.Transport("create prediction", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
