// Package types holds definitions shared by the other packages: for now the error kinds
// reported by validation.
package types

import "github.com/pkg/errors"

var (
	// ErrValue is wrapped by errors caused by an invalid value: a shape without a channel axis,
	// a group count that doesn't divide the number of channels, mismatching parameter sizes, etc.
	ErrValue = errors.New("invalid value")

	// ErrType is wrapped by errors caused by a value of the wrong type: a non-integer group count,
	// or a non-float tensor.
	ErrType = errors.New("invalid type")
)

// ValueErrorf returns an error wrapping ErrValue with the formatted message.
func ValueErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrValue, format, args...)
}

// TypeErrorf returns an error wrapping ErrType with the formatted message.
func TypeErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrType, format, args...)
}
