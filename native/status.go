package native

import (
	"github.com/wippyai/fxn/errors"
)

// Status is the result code returned by every runtime call.
type Status int32

const (
	Ok               Status = 0
	InvalidArgument  Status = 1
	InvalidOperation Status = 2
	NotImplemented   Status = 3
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case InvalidArgument:
		return "invalid argument"
	case InvalidOperation:
		return "invalid operation"
	case NotImplemented:
		return "not implemented"
	}
	return "unknown status"
}

// Kind returns the error kind a non-Ok status maps to.
func (s Status) Kind() errors.Kind {
	switch s {
	case InvalidArgument:
		return errors.KindInvalidArgument
	case NotImplemented:
		return errors.KindNotImplemented
	}
	return errors.KindInvalidOperation
}

// Err converts the status of call op into an error, or nil for Ok.
func (s Status) Err(op string) error {
	if s == Ok {
		return nil
	}
	return errors.New(errors.PhaseBridge, s.Kind()).
		Value(int32(s)).
		Detail("%s: %s", op, s).
		Build()
}
