package transform

import (
	"errors"
	"fmt"
)

var (
	ErrNotNumeric      = errors.New("value is not numeric")
	ErrNotString       = errors.New("value is not a string")
	ErrNotSequence     = errors.New("value is not a sequence")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNegativeTime    = errors.New("negative timestamp")
	ErrTimeOverflow    = errors.New("timestamp out of range")
	ErrFormatMismatch  = errors.New("value does not match format")
	ErrDivideByZero    = errors.New("division by zero")
	ErrBadDescriptor   = errors.New("invalid transformation descriptor")
)

// Error reports a value a transformation step could not convert.
type Error struct {
	Kind  Kind
	Value any
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s: %v (value %#v)", e.Kind, e.Err, e.Value)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, v any, err error) error {
	return &Error{Kind: kind, Value: v, Err: err}
}
