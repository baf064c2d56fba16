package collab

import (
	"fmt"
)

// a request argument was missing or failed coercion. Rejected before any
// action runs.
type ValidationError struct {
	Message string
}

func NewValidationError(format string, a ...any) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf(format, a...),
	}
}

func (self *ValidationError) Error() string {
	return self.Message
}

// an unknown room, connection, service, action, or role
type NotFoundError struct {
	Message string
}

func NewNotFoundError(format string, a ...any) *NotFoundError {
	return &NotFoundError{
		Message: fmt.Sprintf(format, a...),
	}
}

func (self *NotFoundError) Error() string {
	return self.Message
}

// a name collision on create or rename
type ConflictError struct {
	Message string
}

func NewConflictError(format string, a ...any) *ConflictError {
	return &ConflictError{
		Message: fmt.Sprintf(format, a...),
	}
}

func (self *ConflictError) Error() string {
	return self.Message
}

// the content store could not complete an operation
type StorageError struct {
	Message string
	Cause   error
}

func NewStorageError(cause error, format string, a ...any) *StorageError {
	return &StorageError{
		Message: fmt.Sprintf(format, a...),
		Cause:   cause,
	}
}

func (self *StorageError) Error() string {
	if self.Cause != nil {
		return fmt.Sprintf("%s: %s", self.Message, self.Cause)
	}
	return self.Message
}

func (self *StorageError) Unwrap() error {
	return self.Cause
}

// a service action panicked. Converted to a generic server error at the
// dispatch boundary.
type UnhandledActionError struct {
	Service string
	Action  string
	Cause   any
}

func (self *UnhandledActionError) Error() string {
	return fmt.Sprintf("%s.%s: %v", self.Service, self.Action, self.Cause)
}
