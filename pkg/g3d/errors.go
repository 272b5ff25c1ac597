package g3d

import (
	"errors"
	"fmt"
)

// Geometry errors.
var (
	ErrMissingAttribute = errors.New("missing attribute")
	ErrInstanceRange    = errors.New("instance out of range")
	ErrMeshRange        = errors.New("mesh out of range")
	ErrNotPartitioned   = errors.New("mesh vertices are not partitioned opaque-first")
)

// FormatError reports a malformed attribute descriptor.
type FormatError struct {
	Descriptor string
	Reason     string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("g3d: invalid descriptor %q: %s", e.Descriptor, e.Reason)
}

// ValidationError reports a violated geometry invariant.
// Index is -1 when the violation is not tied to one element.
type ValidationError struct {
	Buffer string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("g3d: invalid %s at %d: %s", e.Buffer, e.Index, e.Reason)
	}
	return fmt.Sprintf("g3d: invalid %s: %s", e.Buffer, e.Reason)
}

func invalid(buffer string, index int, format string, args ...any) error {
	return &ValidationError{Buffer: buffer, Index: index, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedTypeError is logged when an attribute cannot be cast to a
// local typed view. The attribute stays readable remotely.
type UnsupportedTypeError struct {
	DataType DataType
}

func (e *UnsupportedTypeError) Error() string {
	if e.DataType.Is64Bit() {
		return fmt.Sprintf("g3d: 64-bit buffers unsupported (%s)", e.DataType)
	}
	return fmt.Sprintf("g3d: unrecognized attribute data type %q", e.DataType)
}
