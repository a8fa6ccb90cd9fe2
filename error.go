package regiondb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode enumerates regiondb error categories used across packages.
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// UnsupportedData means the storage tier cannot hold the value, e.g. the
	// encoded size exceeds the inline sector capacity or a sector offset would
	// overflow the packed directory word. Recoverable: the storage front
	// falls back to the next provider in its chain.
	UnsupportedData
	// CorruptedData means an on-disk length exceeds its sector capacity or a
	// header inconsistency was detected on read. Fatal for that read only;
	// the region stays usable.
	CorruptedData
	// InvalidKey is a programmer error raised by key models for out-of-range
	// ids or malformed entry keys.
	InvalidKey
	// InvalidRegionName is raised for region key strings violating the
	// filesystem-safe name pattern.
	InvalidRegionName
	// AlreadyClosed signals API misuse on a closed handle.
	AlreadyClosed
	// StorageFailure names the aggregate category of a fallback chain in which
	// no provider could accept a value. The storage front reports that case as
	// a StorageError, which carries no ErrorCode, so no error here holds this
	// code.
	StorageFailure
)

// Error is a regiondb-specific error carrying a code, the wrapped error and
// optional user data, e.g. the rejected payload size for UnsupportedData.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface by formatting the code, user data, and wrapped error details.
func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap returns the wrapped error to keep errors.Is/As working through Error.
func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed. Unknown is
// returned for nil and for errors not wrapped in Error.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// StorageError aggregates the per-provider or per-key failures of a storage
// front operation that could not place a value anywhere.
type StorageError struct {
	Description string
	Causes      []error
}

// Error formats the description followed by each cause numbered "cause i/N".
func (e StorageError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Description)
	for i, c := range e.Causes {
		sb.WriteString(fmt.Sprintf("; cause %d/%d: %v", i+1, len(e.Causes), c))
	}
	return sb.String()
}

// Unwrap exposes the individual causes to errors.Is/As.
func (e StorageError) Unwrap() []error {
	return e.Causes
}
