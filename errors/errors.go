package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseMarshal   Phase = "marshal"   // host value to tagged value
	PhaseUnmarshal Phase = "unmarshal" // tagged value to host value
	PhaseBridge    Phase = "bridge"    // native runtime calls
	PhaseLoad      Phase = "load"      // predictor loading
	PhaseResource  Phase = "resource"  // resource retrieval
	PhaseTransport Phase = "transport" // remote API and storage
	PhaseDispatch  Phase = "dispatch"  // prediction dispatch
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindInvalidOperation Kind = "invalid_operation"
	KindNotImplemented   Kind = "not_implemented"
	KindTypeError        Kind = "type_error"
	KindTransport        Kind = "transport"
	KindResource         Kind = "resource"
	KindNotFound         Kind = "not_found"
	KindInvalidData      Kind = "invalid_data"
	KindClosed           Kind = "closed"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Dtype  string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Dtype != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.Dtype != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", dtype ")
			b.WriteString(e.Dtype)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("dtype ")
			b.WriteString(e.Dtype)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Dtype != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return (t.Phase == "" || e.Phase == t.Phase) && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Dtype sets the tagged value dtype name
func (b *Builder) Dtype(t string) *Builder {
	b.err.Dtype = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeError creates an error for a host value outside the convertible type set
func TypeError(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeError,
		Path:   path,
		GoType: goType,
		Detail: "unsupported type",
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// InvalidOperation creates an invalid operation error
func InvalidOperation(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidOperation,
		Detail: detail,
	}
}

// NotImplemented creates a not-implemented error
func NotImplemented(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotImplemented,
		Detail: what,
	}
}

// Released creates the error returned when a handle or value is used after release
func Released(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidOperation,
		Detail: fmt.Sprintf("%s already released", what),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// ShapeMismatch creates an invalid data error for a buffer whose length disagrees with its shape
func ShapeMismatch(phase Phase, dtype string, shape []int, want, got int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Dtype:  dtype,
		Detail: fmt.Sprintf("shape %v needs %d bytes, got %d", shape, want, got),
		Value:  shape,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Transport creates a network or storage failure
func Transport(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindTransport,
		Detail: detail,
		Cause:  cause,
	}
}

// Resource creates a disk failure raised during resource retrieval
func Resource(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindResource,
		Path:   []string{path},
		Detail: "resource retrieval failed",
		Cause:  cause,
	}
}

// Closed creates an error for an operation on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
