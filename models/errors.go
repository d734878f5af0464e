package models

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the parent of every error caused by the mapping catalog
// rather than by the message being normalized.
var ErrConfiguration = errors.New("configuration error")

var (
	ErrUnknownVendor     = fmt.Errorf("%w: unknown vendor", ErrConfiguration)
	ErrUnknownDataType   = fmt.Errorf("%w: unknown data type", ErrConfiguration)
	ErrDuplicateMapping  = fmt.Errorf("%w: duplicate mapping", ErrConfiguration)
	ErrInvalidMapping    = fmt.Errorf("%w: invalid mapping", ErrConfiguration)
	ErrInvalidSourceType = errors.New("invalid source type")
)
