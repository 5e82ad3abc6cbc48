package storage

import (
	"errors"
	"fmt"

	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so errors.Is(err, &Error{Type: ErrNotFound})
// works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// IsType reports whether err is or wraps an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsNotFound reports whether err is a not-found storage error.
func IsNotFound(err error) bool {
	return IsType(err, ErrNotFound)
}

// NotFound returns a not-found error for the given kind of row.
func NotFound(kind string, id any) error {
	return &Error{Type: ErrNotFound, Message: fmt.Sprintf("%s %v not found", kind, id)}
}

// InvalidInput returns an invalid-input error.
func InvalidInput(format string, args ...any) error {
	return &Error{Type: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InstanceFilter selects instance rows. Zero fields match everything.
type InstanceFilter struct {
	// TaskID matches rows of the given task.
	TaskID task.ID
	// MasterID matches override rows of the given master.
	MasterID task.ID
	// Owner matches rows whose TaskID or MasterID is the given task.
	Owner task.ID
	// DistanceBelow matches rows with a distance lower than the value.
	DistanceBelow mo.Option[int]
}

// Match reports whether row passes the filter.
func (f InstanceFilter) Match(row task.Instance) bool {
	if f.TaskID != 0 && row.TaskID != f.TaskID {
		return false
	}
	if f.MasterID != 0 && row.MasterID != f.MasterID {
		return false
	}
	if f.Owner != 0 && row.TaskID != f.Owner && row.MasterID != f.Owner {
		return false
	}
	if below, ok := f.DistanceBelow.Get(); ok && row.Distance >= below {
		return false
	}
	return true
}
