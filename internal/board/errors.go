package board

import "fmt"

// ValidationError covers malformed or empty input. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError means the caller's identity could not be resolved, e.g. a token
// issued for a user that no longer exists.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// ForbiddenError means the caller is authenticated but not the owner of the
// comment it tried to change.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// NotFoundError means the referenced comment does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// StorageError wraps a load/save failure from the underlying store. The whole
// mutation fails; nothing is partially written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
