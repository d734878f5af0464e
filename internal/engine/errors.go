package engine

import (
	"errors"
	"fmt"

	"exchangecatalog/models"
)

// Configuration errors. All of them match ErrConfiguration with errors.Is.
var (
	ErrConfiguration    = models.ErrConfiguration
	ErrUnknownVendor    = models.ErrUnknownVendor
	ErrUnknownDataType  = models.ErrUnknownDataType
	ErrDuplicateMapping = models.ErrDuplicateMapping
	ErrInvalidMapping   = models.ErrInvalidMapping
)

var (
	// ErrBatchInput is returned by Normalize when a batch message holds more
	// than one element; use NormalizeAll for those.
	ErrBatchInput = errors.New("message holds a batch of records")
	ErrBadInput   = errors.New("invalid input message")
)

// TransformationError reports a rule whose path resolved but whose value
// could not be converted. It unwraps to *transform.Error.
type TransformationError struct {
	Vendor string
	Field  models.Field
	Path   string
	Value  any
	// Index is the batch element position, or -1 outside batch mode.
	Index int
	Err   error
}

func (e *TransformationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("normalize %s field %s from %q (element %d, value %#v): %v",
			e.Vendor, e.Field, e.Path, e.Index, e.Value, e.Err)
	}
	return fmt.Sprintf("normalize %s field %s from %q (value %#v): %v",
		e.Vendor, e.Field, e.Path, e.Value, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }
